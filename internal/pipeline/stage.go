package pipeline

import (
	"context"

	"github.com/book-expert/picture-pipeline/internal/document"
)

// Verdict tells the host how to continue after a stage ran.
type Verdict int

const (
	// Proceed continues the operation.
	Proceed Verdict = iota
	// Abort rolls the transaction back with a reason.
	Abort
	// Defer records the trigger in the commit bundle to run again post-commit.
	Defer
)

func (verdict Verdict) String() string {
	switch verdict {
	case Proceed:
		return "proceed"
	case Abort:
		return "abort"
	case Defer:
		return "defer"
	default:
		return "unknown"
	}
}

// Action is the outcome of a stage.
type Action struct {
	Reason  string
	Verdict Verdict
}

// Proceeding returns a Proceed action.
func Proceeding() Action { return Action{Reason: "", Verdict: Proceed} }

// Aborting returns an Abort action with the rollback reason.
func Aborting(reason string) Action { return Action{Reason: reason, Verdict: Abort} }

// Deferring returns a Defer action.
func Deferring() Action { return Action{Reason: "", Verdict: Defer} }

// Stage reacts to lifecycle triggers. Returning an error fails the operation; returning
// Abort rolls it back with a user-facing reason.
type Stage interface {
	Name() string
	Handle(ctx context.Context, doc *document.Document, trigger Trigger) (Action, error)
}

// RollbackError is returned when a stage aborted the transaction.
type RollbackError struct {
	Stage   string
	Trigger string
	Reason  string
}

func (rollbackErr *RollbackError) Error() string { return rollbackErr.Reason }
