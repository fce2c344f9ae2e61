// Package deliberr defines the tagged error kinds the pipeline driver
// matches on to decide whether a request terminates or degrades to a
// default.
package deliberr

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel error kinds. Stage code wraps these with fmt.Errorf("...: %w",
// ...) for context; callers match with errors.Is.
var (
	// ErrBackendTransport is network, timeout, or malformed transport
	// framing. Recovered locally by stage tasks (member dropped), except in
	// Stage 3 where buffered content is surfaced instead.
	ErrBackendTransport = errors.New("backend transport error")

	// ErrBackendSchema is a JSON-expected-but-unparseable response from the
	// Classifier or Router. Recovered via their defined defaults.
	ErrBackendSchema = errors.New("backend returned unparseable schema")

	// ErrPanelInfeasible is raised when the router cannot assemble at least
	// min advisors even after falling back. Terminates the request without
	// persistence.
	ErrPanelInfeasible = errors.New("router could not assemble minimum panel")

	// ErrNoStage1Survivors is raised when every Stage-1 member errored.
	// Terminates the request without persistence.
	ErrNoStage1Survivors = errors.New("all stage-1 members failed")

	// ErrPersistenceFailure means the conversation append failed after the
	// response was already streamed to the client. Logged, not surfaced as
	// a terminal error event.
	ErrPersistenceFailure = errors.New("conversation append failed")
)

// ErrCancelled is context.Canceled re-exported under this package's name.
// errors.Is matches it only for context.Canceled; IsCancelled also covers
// context.DeadlineExceeded.
var ErrCancelled = context.Canceled

// IsCancelled reports whether err represents request cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// PartialOutputError carries whatever content a stream produced before
// failing. Stage-3 uses it to surface buffered synthesis text instead of an
// empty response; unlike the sentinel errors above it is a distinct type,
// not a value, because callers need the payload, not just the kind.
type PartialOutputError struct {
	Cause           error
	PartialText     string
	PartialThinking string
}

func (e *PartialOutputError) Error() string {
	return fmt.Sprintf("partial output before failure: %v", e.Cause)
}

func (e *PartialOutputError) Unwrap() error {
	return e.Cause
}
