// Package api exposes the agent's HTTP surface: ACL management, the
// authorization check endpoint, and the file operation gate, all wrapped in
// the uniform {status,message,result,version} envelope.
package api

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the agent surfaces.
type ErrorKind int

const (
	// KindAuthMissing — no bearer token on the request.
	KindAuthMissing ErrorKind = iota
	// KindAuthInvalid — any other token failure.
	KindAuthInvalid
	// KindInputInvalid — malformed body, bad path parameter, unknown
	// action or decision.
	KindInputInvalid
	// KindNotFound — ACL id or filesystem path absent.
	KindNotFound
	// KindNotAuthorized — the decision engine answered false for a file
	// operation.
	KindNotAuthorized
	// KindPolicyCheckError — storage or glob failure during a decision.
	KindPolicyCheckError
	// KindStorageError — persistence failure on a management operation.
	KindStorageError
	// KindIOError — filesystem failure.
	KindIOError
	// KindNotImplemented — route not registered.
	KindNotImplemented
)

// AgentError is the tagged error union of the agent. Every handler either
// returns its typed result or surfaces one of these; nothing is recovered
// silently.
type AgentError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the cause for errors.Is/As.
func (e *AgentError) Unwrap() error {
	return e.Err
}

// Errf builds an AgentError with a formatted message.
func Errf(kind ErrorKind, format string, args ...any) *AgentError {
	return &AgentError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an AgentError around a cause.
func Wrap(kind ErrorKind, err error, message string) *AgentError {
	return &AgentError{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err when it is (or wraps) an AgentError, and
// KindIOError otherwise.
func KindOf(err error) ErrorKind {
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindIOError
}
