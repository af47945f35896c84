package engine

import "errors"

// ErrConflict is returned when starting a session that would violate the
// one-active-session rule or the onboarding lock.
var ErrConflict = errors.New("conflicting active session")

// ErrNotFound is returned when no session matches the requested scope and
// context type.
var ErrNotFound = errors.New("session not found")

// ErrInvalidState is returned when an operation is not valid for the
// session's current status.
var ErrInvalidState = errors.New("invalid session state")

// ErrRejectedAnswer is returned when an answer is empty after trimming; the
// session is left untouched.
var ErrRejectedAnswer = errors.New("answer rejected")
