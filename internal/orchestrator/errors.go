package orchestrator

import "fmt"

// Kind classifies an orchestrator error for the HTTP layer to map to a
// status code, without leaking Go error types across the package boundary.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindQuota      Kind = "quota"
	KindFatalState Kind = "fatal_state"
	KindSubprocess Kind = "subprocess_failure"
	KindStorage    Kind = "storage_failure"
	KindTransport  Kind = "transient_transport"
	KindProtocol   Kind = "protocol_violation"
)

// Error is the structured error every exported orchestrator operation
// returns on failure. Callers switch on Kind, never on the wrapped error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func validationErr(msg string) *Error {
	return newError(KindValidation, msg, nil)
}

func notFoundErr(id string) *Error {
	return newError(KindNotFound, "no such VM "+id, nil)
}

func conflictErr(msg string) *Error {
	return newError(KindConflict, msg, nil)
}

func quotaErr(msg string) *Error {
	return newError(KindQuota, msg, nil)
}

func fatalStateErr(msg string, err error) *Error {
	return newError(KindFatalState, msg, err)
}
