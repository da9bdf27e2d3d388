package mqtmodels

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every unit of the bridge. Typed errors below
// match their sentinel with errors.Is.
var (
	ErrConnection     = errors.New("connection error")
	ErrDecode         = errors.New("decode error")
	ErrSchemaMismatch = errors.New("schema mismatch")
	ErrSubscriptionOp = errors.New("subscription operation failed")
	ErrSinkWrite      = errors.New("sink write failed")
)

// DecodeKind narrows a DecodeError.
type DecodeKind string

const (
	DecodeInvalidEncoding DecodeKind = "invalid_encoding"
	DecodeMalformedJSON   DecodeKind = "malformed_json"
)

// DecodeError reports bytes that could not be read as a payload at all.
type DecodeError struct {
	Kind DecodeKind
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("decode error: %s", e.Kind)
	}
	return fmt.Sprintf("decode error: %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// SchemaMismatchError reports well-formed JSON of the wrong shape or type.
type SchemaMismatchError struct {
	Field  string
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema mismatch: %s", e.Reason)
	}
	return fmt.Sprintf("schema mismatch on field %q: %s", e.Field, e.Reason)
}

func (e *SchemaMismatchError) Is(target error) bool { return target == ErrSchemaMismatch }

// SubscriptionOpError reports a subscribe or unsubscribe the broker did not accept.
type SubscriptionOpError struct {
	Op    string
	Topic string
	Err   error
}

func (e *SubscriptionOpError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Topic, e.Err)
}

func (e *SubscriptionOpError) Unwrap() error { return e.Err }

func (e *SubscriptionOpError) Is(target error) bool { return target == ErrSubscriptionOp }

// SinkWriteError reports a non-2xx response or transport failure writing a point.
type SinkWriteError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *SinkWriteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sink write failed: %v", e.Err)
	}
	return fmt.Sprintf("sink write failed: status %d: %s", e.StatusCode, e.Body)
}

func (e *SinkWriteError) Unwrap() error { return e.Err }

func (e *SinkWriteError) Is(target error) bool { return target == ErrSinkWrite }

// ConnectionError reports transport loss to the broker or the store.
type ConnectionError struct {
	Source string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s connection error: %v", e.Source, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }
