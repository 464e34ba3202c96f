package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

// Code classifies an error. Codes are stable and travel over the wire.
type Code uint8

const (
	CodeOK                 Code = iota // No error
	CodeInvalidArgument                // The caller passed something malformed or unknown
	CodeNotFound                       // The addressed engine, plugin, future or listener does not exist
	CodeResourceExhausted              // A queue, pool or table is full
	CodeOperationFailed                // A plugin or the runtime failed to perform the operation
	CodeConfigurationError             // The request does not fit the plugin configuration (e.g. infer mode)
	CodeDeadlineExceeded               // The caller gave up waiting
)

// String returns the string representation of a Code
func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeInvalidArgument:
		return "invalid-argument"
	case CodeNotFound:
		return "not-found"
	case CodeResourceExhausted:
		return "resource-exhausted"
	case CodeOperationFailed:
		return "operation-failed"
	case CodeConfigurationError:
		return "configuration-error"
	case CodeDeadlineExceeded:
		return "deadline-exceeded"
	default:
		return fmt.Sprintf("code(%d)", uint8(c))
	}
}

// MarshalJSON implements the json.Marshaller interface for Code.
func (c Code) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Code.
func (c *Code) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for candidate := CodeOK; candidate <= CodeDeadlineExceeded; candidate++ {
		if candidate.String() == s {
			*c = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown error code: %s", s)
}

// --------------------------------------------------------------------------
// Error Type
// --------------------------------------------------------------------------

// Error is an error with a Code
type Error struct {
	Code    Code
	Message string
}

// NewError creates a new Error
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches errors with the same code whose message equals the target's
// message or contains it as one ": " separated segment. A sentinel therefore
// still matches after it was copied or sent over the wire with its wrapping
// context flattened into the message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e.Code != t.Code {
		return false
	}
	if e.Message == t.Message {
		return true
	}
	for _, segment := range strings.Split(e.Message, ": ") {
		if segment == t.Message {
			return true
		}
	}
	return false
}

// CodeOf returns the Code of the first *Error in the chain of err.
// nil maps to CodeOK, any other error to CodeOperationFailed.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeOperationFailed
}

// Sentinel errors
var (
	ErrInvalidArgument  = NewError(CodeInvalidArgument, "invalid argument")
	ErrAlreadyBound     = NewError(CodeInvalidArgument, "transaction already bound to an engine")
	ErrNotPooled        = NewError(CodeInvalidArgument, "item does not belong to the pool")
	ErrQueueEmpty       = NewError(CodeNotFound, "queue empty")
	ErrPluginNotFound   = NewError(CodeNotFound, "plugin not found")
	ErrNoSuchEngine     = NewError(CodeNotFound, "no such engine")
	ErrEngineNotFound   = NewError(CodeNotFound, "engine not found")
	ErrNoMatchingFuture = NewError(CodeNotFound, "no matching future")
	ErrNoListenerFound  = NewError(CodeNotFound, "no listener found")
	ErrQueueFull        = NewError(CodeResourceExhausted, "queue full")
	ErrPoolExhausted    = NewError(CodeResourceExhausted, "pool exhausted")
	ErrFutureTableFull  = NewError(CodeResourceExhausted, "future table full")
	ErrEngineStopped    = NewError(CodeOperationFailed, "engine stopped")
	ErrPluginFailed     = NewError(CodeOperationFailed, "plugin failed")
	ErrWrongInferMode   = NewError(CodeConfigurationError, "wrong infer mode")
	ErrTimeout          = NewError(CodeDeadlineExceeded, "timed out waiting for response")
)
