// Package cli implements the openclaw command surface.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/9erson/openclaw/internal/bridge"
	"github.com/9erson/openclaw/internal/config"
	"github.com/9erson/openclaw/internal/engine"
	"github.com/9erson/openclaw/internal/guide"
	"github.com/9erson/openclaw/internal/journal"
	"github.com/9erson/openclaw/internal/llm"
	"github.com/9erson/openclaw/internal/logger"
	"github.com/9erson/openclaw/internal/model"
	"github.com/9erson/openclaw/internal/store"
)

// Run dispatches a CLI invocation.
func Run(args []string) error {
	args = applyGlobalFlags(args)
	if len(args) == 0 {
		return usage()
	}

	switch args[0] {
	case "version", "--version", "-v":
		return cmdVersion(args[1:])
	case "init":
		return cmdInit(args[1:])
	case "start":
		return cmdStart(args[1:])
	case "answer":
		return cmdAnswer(args[1:])
	case "status":
		return cmdStatus(args[1:])
	case "pause":
		return cmdPause(args[1:])
	case "resume":
		return cmdResume(args[1:])
	case "cancel":
		return cmdCancel(args[1:])
	case "list":
		return cmdList(args[1:])
	case "reindex":
		return cmdReindex(args[1:])
	case "history":
		return cmdHistory(args[1:])
	case "help", "-h", "--help":
		return usage()
	default:
		return fmt.Errorf("unknown command: %s\nRun 'openclaw help' for usage", args[0])
	}
}

func applyGlobalFlags(args []string) []string {
	var rest []string
	for _, a := range args {
		switch a {
		case "--verbose":
			if logger.GetLevel() < logger.LevelInfo {
				logger.SetLevel(logger.LevelInfo)
			}
		case "--debug":
			logger.SetLevel(logger.LevelDebug)
		default:
			rest = append(rest, a)
		}
	}
	return rest
}

func usage() error {
	fmt.Print(`openclaw - gated questioning sessions for pillars, projects, and topics

COMMANDS
  init      Initialize an openclaw workspace
  start     Start a questioning session
  answer    Answer the pending question
  status    Show a session's coverage and pending question
  pause     Pause an in-progress session
  resume    Resume a paused session
  cancel    Cancel a session
  list      List active sessions across the workspace
  reindex   Rebuild the global session index from sidecar records
  history   Show journaled turns
  help      Show this help
  version   Show version information

Every session command takes --pillar (and --project for project scope) plus
--context onboarding|project|topic.

EXAMPLES
  openclaw init
  openclaw start --pillar health --context onboarding
  openclaw answer --pillar health --context onboarding "Stay strong enough to hike"
  openclaw status --pillar health --context onboarding
  openclaw start --pillar work --project website --context project
  openclaw list
  openclaw history --session cq-1a2b3c4d5e6f
`)
	return nil
}

// scopeFlags binds the shared scope/context flags onto a flag set.
type scopeFlags struct {
	root    *string
	pillar  *string
	project *string
	ctx     *string
}

func bindScopeFlags(fs *flag.FlagSet) scopeFlags {
	return scopeFlags{
		root:    fs.String("root", ".", "workspace root"),
		pillar:  fs.String("pillar", "", "pillar slug"),
		project: fs.String("project", "", "project slug (project scope)"),
		ctx:     fs.String("context", "", "context type: onboarding, project, or topic"),
	}
}

func (f scopeFlags) resolve() (string, model.Scope, model.ContextType, error) {
	root, err := filepath.Abs(*f.root)
	if err != nil {
		return "", model.Scope{}, "", err
	}
	if *f.pillar == "" {
		return "", model.Scope{}, "", errors.New("--pillar is required")
	}
	ct, err := model.ParseContextType(*f.ctx)
	if err != nil {
		return "", model.Scope{}, "", err
	}
	return root, model.Scope{Pillar: *f.pillar, Project: *f.project}, ct, nil
}

// workspace wires the engine and its collaborators for one invocation.
type workspace struct {
	root    string
	cfg     config.Config
	guides  guide.Set
	store   *store.Store
	engine  *engine.Engine
	journal *journal.Journal
}

func (w *workspace) close() {
	if w.journal != nil {
		w.journal.Close()
	}
}

func openWorkspace(root string) (*workspace, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	guides, err := guide.Load(config.GuidesDir(root))
	if err != nil {
		return nil, err
	}

	client, err := llm.NewClient(llm.Config{
		Backend: cfg.LLM.Backend,
		Model:   cfg.LLM.Model,
		URL:     cfg.LLM.URL,
		APIKey:  cfg.LLM.APIKey,
		Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		if !errors.Is(err, llm.ErrNotConfigured) {
			return nil, err
		}
		logger.Info("generation backend not configured; questions degrade to guide templates")
		client = nil
	}

	jnl, err := journal.Open(root)
	if err != nil {
		logger.Error("journal unavailable: %v", err)
		jnl = nil
	}

	st := store.New(root)
	eng := engine.New(engine.Options{
		Store:       st,
		Guides:      guides,
		Decider:     bridge.New(client, cfg.Questioning.HistoryWindow),
		Journal:     jnl,
		Questioning: cfg.Questioning,
	})
	return &workspace{root: root, cfg: cfg, guides: guides, store: st, engine: eng, journal: jnl}, nil
}

func cmdInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	root := fs.String("root", ".", "workspace root")
	force := fs.Bool("force", false, "overwrite an existing config")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rootPath, err := filepath.Abs(*root)
	if err != nil {
		return err
	}
	if _, err := config.EnsureLayout(rootPath); err != nil {
		return err
	}
	if err := config.WriteStarter(rootPath, *force); err != nil {
		return err
	}
	fmt.Printf("initialized openclaw workspace in %s\n", config.ClawDir(rootPath))
	return nil
}

func cmdStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	sf := bindScopeFlags(fs)
	topic := fs.String("topic", "", "seed topic for topic sessions")
	by := fs.String("by", "", "who started the session")
	if err := fs.Parse(args); err != nil {
		return err
	}
	root, scope, ct, err := sf.resolve()
	if err != nil {
		return err
	}
	w, err := openWorkspace(root)
	if err != nil {
		return err
	}
	defer w.close()

	res, err := w.engine.Start(context.Background(), engine.StartParams{
		ContextType: ct,
		Pillar:      scope.Pillar,
		Project:     scope.Project,
		TopicSeed:   *topic,
		StartedBy:   *by,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Session started: %s (%s in %s)\n", res.Session.ID, ct, scope)
	printQuestion(res.Question)
	return nil
}

func cmdAnswer(args []string) error {
	fs := flag.NewFlagSet("answer", flag.ContinueOnError)
	sf := bindScopeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	root, scope, ct, err := sf.resolve()
	if err != nil {
		return err
	}
	answer := strings.Join(fs.Args(), " ")
	w, err := openWorkspace(root)
	if err != nil {
		return err
	}
	defer w.close()

	res, err := w.engine.Answer(context.Background(), scope, ct, answer)
	if errors.Is(err, engine.ErrRejectedAnswer) {
		// A rejected answer re-presents the unchanged question, never a bare
		// error in its place.
		fmt.Println("Answer not recorded: it cannot be empty.")
		printQuestion(res.Question)
		return nil
	}
	if err != nil {
		return err
	}
	printTurn(res)
	return nil
}

func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	sf := bindScopeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	root, scope, ct, err := sf.resolve()
	if err != nil {
		return err
	}
	w, err := openWorkspace(root)
	if err != nil {
		return err
	}
	defer w.close()

	res, err := w.engine.Status(scope, ct)
	if err != nil {
		return err
	}
	g, err := w.guides.ForContext(ct)
	if err != nil {
		return err
	}
	s := res.Session
	fmt.Printf("Session %s (%s in %s)\n", s.ID, s.ContextType, scope)
	fmt.Printf("  Status:    %s\n", s.Status)
	fmt.Printf("  Questions: %d of %d\n", s.QuestionCount, s.QuestionCap)
	fmt.Printf("  Coverage:  %s\n", formatCoverage(g.Levels, s.Coverage))
	if len(res.Remaining) > 0 {
		fmt.Printf("  Remaining: %s\n", strings.Join(res.Remaining, ", "))
	}
	if s.Status == model.StatusPaused {
		fmt.Printf("  Resume with: openclaw resume --pillar %s", s.Pillar)
		if s.Project != "" {
			fmt.Printf(" --project %s", s.Project)
		}
		fmt.Printf(" --context %s\n", s.ContextType)
	}
	printQuestion(res.Question)
	return nil
}

func cmdPause(args []string) error {
	return lifecycleCommand("pause", args, func(w *workspace, scope model.Scope, ct model.ContextType) (*engine.Result, error) {
		return w.engine.Pause(scope, ct)
	}, "Session paused: %s\n")
}

func cmdResume(args []string) error {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	sf := bindScopeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	root, scope, ct, err := sf.resolve()
	if err != nil {
		return err
	}
	w, err := openWorkspace(root)
	if err != nil {
		return err
	}
	defer w.close()

	res, err := w.engine.Resume(scope, ct)
	if err != nil {
		return err
	}
	fmt.Printf("Session resumed: %s\n", res.Session.ID)
	printQuestion(res.Question)
	return nil
}

func cmdCancel(args []string) error {
	return lifecycleCommand("cancel", args, func(w *workspace, scope model.Scope, ct model.ContextType) (*engine.Result, error) {
		return w.engine.Cancel(scope, ct)
	}, "Session canceled: %s\n")
}

func lifecycleCommand(name string, args []string, op func(*workspace, model.Scope, model.ContextType) (*engine.Result, error), okFormat string) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	sf := bindScopeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	root, scope, ct, err := sf.resolve()
	if err != nil {
		return err
	}
	w, err := openWorkspace(root)
	if err != nil {
		return err
	}
	defer w.close()

	res, err := op(w, scope, ct)
	if err != nil {
		return err
	}
	if res.Session == nil {
		fmt.Println("Nothing to do; session already terminated.")
		return nil
	}
	fmt.Printf(okFormat, res.Session.ID)
	return nil
}

func cmdList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	root := fs.String("root", ".", "workspace root")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rootPath, err := filepath.Abs(*root)
	if err != nil {
		return err
	}
	st := store.New(rootPath)
	entries, err := st.ActiveEntries()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No active sessions.")
		return nil
	}
	fmt.Printf("Active sessions (%d):\n", len(entries))
	for _, e := range entries {
		scope := model.Scope{Pillar: e.Pillar, Project: e.Project}
		fmt.Printf("  %s  %-10s %-11s %s\n", e.SessionID, e.ContextType, e.Status, scope)
	}
	return nil
}

func cmdReindex(args []string) error {
	fs := flag.NewFlagSet("reindex", flag.ContinueOnError)
	root := fs.String("root", ".", "workspace root")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rootPath, err := filepath.Abs(*root)
	if err != nil {
		return err
	}
	n, err := store.New(rootPath).Rebuild()
	if err != nil {
		return err
	}
	fmt.Printf("reindexed %d active session(s)\n", n)
	return nil
}

func cmdHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	root := fs.String("root", ".", "workspace root")
	session := fs.String("session", "", "filter to one session id")
	limit := fs.Int("limit", 20, "maximum turns to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rootPath, err := filepath.Abs(*root)
	if err != nil {
		return err
	}
	jnl, err := journal.Open(rootPath)
	if err != nil {
		return err
	}
	defer jnl.Close()

	turns, err := jnl.Turns(*session, *limit)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		fmt.Println("No journaled turns.")
		return nil
	}
	for _, t := range turns {
		scope := model.Scope{Pillar: t.Pillar, Project: t.Project}
		fmt.Printf("[%s] %s %s/%s (total %d)\n", t.RecordedAt.Format("2006-01-02 15:04"), t.SessionID, scope, t.Slot, t.CoverageTotal)
		fmt.Printf("  Q: %s\n", t.Question)
		fmt.Printf("  A: %s\n", t.Answer)
	}
	return nil
}

// formatCoverage renders coverage in the guide's level order so the output
// is stable across runs.
func formatCoverage(levels []string, c model.Coverage) string {
	parts := make([]string, 0, len(levels))
	for _, level := range levels {
		parts = append(parts, fmt.Sprintf("%s=%d", level, c.Levels[level]))
	}
	return fmt.Sprintf("total %d (%s)", c.Total, strings.Join(parts, " "))
}

func printQuestion(q *model.Question) {
	if q == nil {
		return
	}
	label := "Next question"
	if q.Constrained {
		label = "Next question (choose one)"
	}
	if q.Manual {
		label += " [manual: no generation backend]"
	}
	fmt.Printf("\n%s (%s / %s):\n%s\n", label, q.Slot, q.Level, q.Text)
}

func printTurn(res *engine.Result) {
	s := res.Session
	fmt.Printf("Recorded answer %d of %d. Coverage total: %d\n", s.QuestionCount, s.QuestionCap, s.Coverage.Total)
	if res.HardGateBlocked {
		fmt.Println("Conclusion deferred: coverage threshold not met yet.")
	}
	if res.Diagnostic != "" {
		logger.Error("generation diagnostics: %s", res.Diagnostic)
	}
	if res.Completed {
		fmt.Printf("Session %s completed.\n", s.ID)
		if len(res.Remaining) > 0 {
			fmt.Printf("  Uncaptured slots: %s\n", strings.Join(res.Remaining, ", "))
		}
		return
	}
	if len(res.Remaining) > 0 {
		fmt.Printf("Remaining: %s\n", strings.Join(res.Remaining, ", "))
	}
	printQuestion(res.Question)
}
