// Package herrors defines the error-kind taxonomy shared by every HTN
// orchestrator component. It follows the sentinel-plus-wrapped-struct
// pattern used throughout the ambient stack: compare kinds with
// errors.Is against the HTNError.Kind sentinels, and unwrap for the
// underlying cause.
package herrors

import (
	"errors"
	"fmt"
)

// Kind identifies the category of an HTNError. Kinds map 1:1 onto the
// error table every component raises against.
type Kind string

const (
	KindDuplicateID         Kind = "duplicate_id"
	KindUnknownDependency   Kind = "unknown_dependency"
	KindWouldCreateCycle    Kind = "would_create_cycle"
	KindDecompositionFailed Kind = "decomposition_failed"
	KindActionDenied        Kind = "action_denied"
	KindActionNotAllowed    Kind = "action_not_allowed"
	KindPlanTooLarge        Kind = "plan_too_large"
	KindActionMissing       Kind = "action_missing"
	KindActionRaised        Kind = "action_raised"
	KindTaskTimeout         Kind = "task_timeout"
	KindExecutionCancelled  Kind = "execution_cancelled"
	KindIntegrityCheckFailed Kind = "integrity_check_failed"
	KindSignatureInvalid    Kind = "signature_invalid"
	KindInvalidConfig       Kind = "invalid_config"
)

// Sentinel errors usable directly with errors.Is when no extra context
// is needed.
var (
	ErrAlreadyStarted    = errors.New("already started")
	ErrNotInitialized    = errors.New("not initialized")
	ErrShutdown          = errors.New("component shut down")
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")
)

// HTNError is the structured error returned by every component when a
// failure needs an operation name, a kind, and an optional entity id
// attached for audit purposes.
type HTNError struct {
	Op      string
	Kind    Kind
	ID      string
	Message string
	Err     error
}

func (e *HTNError) Error() string {
	switch {
	case e.Op != "" && e.ID != "":
		return fmt.Sprintf("%s [%s]: %s", e.Op, e.ID, e.detail())
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.detail())
	default:
		return e.detail()
	}
}

func (e *HTNError) detail() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *HTNError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, &HTNError{Kind: KindX}) match any HTNError of
// the same kind regardless of Op/ID/Message/Err.
func (e *HTNError) Is(target error) bool {
	t, ok := target.(*HTNError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an HTNError for the given operation/kind pair.
func New(op string, kind Kind, message string) *HTNError {
	return &HTNError{Op: op, Kind: kind, Message: message}
}

// Wrap builds an HTNError carrying an underlying cause.
func Wrap(op string, kind Kind, id string, err error) *HTNError {
	return &HTNError{Op: op, Kind: kind, ID: id, Err: err}
}

// KindOf extracts the Kind of err if it is (or wraps) an *HTNError.
func KindOf(err error) (Kind, bool) {
	var h *HTNError
	if errors.As(err, &h) {
		return h.Kind, true
	}
	return "", false
}
