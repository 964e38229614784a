// Package errs implements the error taxonomy of spec.md §7 as sentinel-
// wrapped types compared with errors.As, following the teacher's plain
// fmt.Errorf/%w style rather than a third-party errors library (no such
// library appears anywhere in the example corpus).
package errs

import "fmt"

// EnvelopeError: bad nonce/tag/base64 on the HTTP envelope.
type EnvelopeError struct{ Cause error }

func (e *EnvelopeError) Error() string { return fmt.Sprintf("envelope: %v", e.Cause) }
func (e *EnvelopeError) Unwrap() error { return e.Cause }

// ValidationError: payload JSON does not match the expected schema.
type ValidationError struct{ Cause error }

func (e *ValidationError) Error() string { return fmt.Sprintf("validation: %v", e.Cause) }
func (e *ValidationError) Unwrap() error { return e.Cause }

// HandlerError: a form handler failed; callers set form.Error to this and
// still mark the ticket serviced.
type HandlerError struct{ Cause error }

func (e *HandlerError) Error() string { return fmt.Sprintf("handler: %v", e.Cause) }
func (e *HandlerError) Unwrap() error { return e.Cause }

// ForwardError: an HTTP push to a peer failed; the caller must enqueue the
// message rather than drop it.
type ForwardError struct{ Cause error }

func (e *ForwardError) Error() string { return fmt.Sprintf("forward: %v", e.Cause) }
func (e *ForwardError) Unwrap() error { return e.Cause }

// TimeoutError: an object reached its TTL and was destroyed by a worker.
type TimeoutError struct{ Kind string }

func (e *TimeoutError) Error() string { return fmt.Sprintf("timeout: %s expired", e.Kind) }

// UnknownDestination: no peer, no route; caller must enqueue anonymously.
type UnknownDestination struct{ Dest string }

func (e *UnknownDestination) Error() string {
	return fmt.Sprintf("unknown destination: %s", e.Dest)
}
