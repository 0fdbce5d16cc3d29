package broker

import (
	"errors"
	"fmt"

	"github.com/victorbrgs/omnibox/internal/model"
)

// ErrorClass buckets every failure the core handles.
type ErrorClass string

const (
	// ClassValidation marks malformed inbound payloads. Rejected at the
	// boundary, never retried by this system.
	ClassValidation ErrorClass = "validation"
	// ClassTransient marks network/timeout/rate-limit failures. The
	// orchestrator retries and may fail over on these.
	ClassTransient ErrorClass = "transient_provider"
	// ClassPermanent marks operations the broker rejects as invalid.
	// Surfaced immediately, no retry.
	ClassPermanent ErrorClass = "permanent_provider"
	// ClassUnrecognized marks payloads no adapter detects.
	ClassUnrecognized ErrorClass = "unrecognized_payload"
	// ClassAmbiguous marks payloads more than one adapter detects.
	ClassAmbiguous ErrorClass = "ambiguous_payload"
	// ClassLockTimeout marks ingestion that could not serialize on the
	// session in time; the upstream broker should redeliver.
	ClassLockTimeout ErrorClass = "lock_timeout"
	// ClassNotFound marks references to unknown connections/sessions/tokens.
	ClassNotFound ErrorClass = "not_found"
)

// Error is a classified failure. Adapters classify their own failures;
// everything above them dispatches on Class via errors.As.
type Error struct {
	Class ErrorClass
	Op    string
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Class)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a classified error.
func Errorf(class ErrorClass, op, format string, args ...any) *Error {
	return &Error{Class: class, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(class ErrorClass, op string, err error) *Error {
	return &Error{Class: class, Op: op, Err: err}
}

// ClassOf extracts the error class, defaulting to permanent for
// unclassified errors so nothing gets retried by accident.
func ClassOf(err error) ErrorClass {
	var be *Error
	if errors.As(err, &be) {
		return be.Class
	}
	return ClassPermanent
}

// Retryable reports whether the caller may retry the operation. Transient
// provider failures and lock-acquisition timeouts both qualify.
func Retryable(err error) bool {
	switch ClassOf(err) {
	case ClassTransient, ClassLockTimeout:
		return true
	}
	return false
}

// SendFailedError aggregates every attempt made for one send, including
// fallback attempts on other brokers.
type SendFailedError struct {
	Attempts []AttemptError
}

// AttemptError records one failed attempt.
type AttemptError struct {
	Broker  model.BrokerType
	Attempt int
	Err     error
}

func (e *SendFailedError) Error() string {
	return fmt.Sprintf("send failed after %d attempts (last: %v)", len(e.Attempts), e.Attempts[len(e.Attempts)-1].Err)
}
