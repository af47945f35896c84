package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOllamaComplete(t *testing.T) {
	var gotReq ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(ollamaResponse{
			Model:    gotReq.Model,
			Response: `{"action": "conclude"}`,
			Done:     true,
		})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "llama3.2", 5*time.Second)
	opts := DefaultCompletionOptions()
	opts.JSONMode = true
	opts.SystemPrompt = "you decide"

	out, err := c.Complete(context.Background(), "next question?", opts)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != `{"action": "conclude"}` {
		t.Errorf("response = %q", out)
	}
	if gotReq.Model != "llama3.2" || gotReq.Prompt != "next question?" {
		t.Errorf("request = %+v", gotReq)
	}
	if gotReq.Format != "json" {
		t.Errorf("format = %q, want json", gotReq.Format)
	}
	if gotReq.System != "you decide" {
		t.Errorf("system = %q", gotReq.System)
	}
	if gotReq.Stream {
		t.Error("streaming should be off")
	}
}

func TestOllamaCompleteErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "missing", 5*time.Second)
	if _, err := c.Complete(context.Background(), "hi", DefaultCompletionOptions()); err == nil {
		t.Fatal("Complete succeeded against a 404")
	}
}

func TestOllamaCompleteAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaResponse{Error: "out of memory"})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "llama3.2", 5*time.Second)
	if _, err := c.Complete(context.Background(), "hi", DefaultCompletionOptions()); err == nil {
		t.Fatal("Complete ignored an API error payload")
	}
}
