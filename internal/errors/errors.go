package errors

import (
	"errors"
	"fmt"
)

// Code is a stable identifier for a failure mode.
type Code string

const (
	// InvalidInput indicates an empty or malformed query
	InvalidInput Code = "INVALID_INPUT"
	// EmbeddingUnavailable indicates the embedder is missing or failed
	EmbeddingUnavailable Code = "EMBEDDING_UNAVAILABLE"
	// EmptyCorpus indicates there is no embeddable node to retrieve from
	EmptyCorpus Code = "EMPTY_CORPUS"
	// CompletionFailed indicates the completion provider returned an error or timed out
	CompletionFailed Code = "COMPLETION_FAILED"
	// PersistenceFailed indicates a cache or graph write failed
	PersistenceFailed Code = "PERSISTENCE_FAILED"
	// NodeNotFound indicates a section id is not part of the graph
	NodeNotFound Code = "NODE_NOT_FOUND"
	// InternalError indicates an unexpected failure
	InternalError Code = "INTERNAL_ERROR"
)

// Error carries a stable code, an operator-facing message and the underlying cause.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	cause   error
}

// New creates a coded error. cause may be nil.
func New(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.cause
}

// CodeOf returns the code of the first coded error in err's chain,
// or InternalError if there is none.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return InternalError
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
