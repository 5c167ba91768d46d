package debate

import (
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/emperor-arena/internal/domain"
)

// ErrorKind classifies session errors.
type ErrorKind string

const (
	// KindValidation covers missing inputs and the round limit at start time.
	KindValidation ErrorKind = "validation"
	// KindConnection covers transport failures, timeouts and rejected continuations.
	KindConnection ErrorKind = "connection"
	// KindProtocol covers a single malformed event payload. Non-fatal.
	KindProtocol ErrorKind = "protocol"
	// KindBackend covers explicit error events sent by the backend.
	KindBackend ErrorKind = "backend"
	// KindState covers operations that are invalid for the current status.
	KindState ErrorKind = "state"
)

var (
	ErrMissingTopic        = errors.New("debate topic is required")
	ErrMissingParticipants = errors.New("proposer, challenger and arbitrator must all be selected")
	ErrRoundLimit          = errors.New("maximum number of rounds reached")
	ErrConnectTimeout      = errors.New("timed out waiting for the debate stream to open")
	ErrUnexpectedStatus    = errors.New("unexpected HTTP status")
	ErrInvalidTransition   = errors.New("invalid state transition")
)

// Error is a classified session error.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != e.Err.Error() {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Info converts the error into the presentable form stored on the session.
func (e *Error) Info(at time.Time) *domain.ErrorInfo {
	return &domain.ErrorInfo{Kind: string(e.Kind), Message: e.Message, At: at}
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Message: err.Error(), Err: err}
}

func validationError(err error) *Error { return newError(KindValidation, err) }

func connectionError(err error) *Error { return newError(KindConnection, err) }

func stateError(from domain.Status, op string) *Error {
	return &Error{
		Kind:    KindState,
		Message: fmt.Sprintf("%s not allowed while %s", op, from),
		Err:     ErrInvalidTransition,
	}
}

func protocolError(err error) *Error {
	return &Error{Kind: KindProtocol, Message: "malformed event: " + err.Error(), Err: err}
}

func backendError(message string) *Error {
	if message == "" {
		message = "backend reported an error"
	}
	return &Error{Kind: KindBackend, Message: message}
}

// KindOf returns the kind of a session error, or "" when err is not one.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
