// Package apperr defines the error taxonomy reported to the user: validation failures detected
// on the client, rejected credentials, unreachable server and server-side errors.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindUnauthorized
	KindNetwork
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	}
	return "unknown"
}

// Error is a classified failure of a client operation.
//
// Message is meant for the user; Err keeps the underlying cause for logs.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: msg}
}

func Unauthorized(op, msg string, err error) *Error {
	if msg == "" {
		msg = "session expired, please log in again"
	}
	return &Error{Kind: KindUnauthorized, Op: op, Message: msg, Err: err}
}

func Network(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Message: "server unreachable, try again later", Err: err}
}

// Server builds a server error, falling back to a generic message when the server sent none.
func Server(op string, status int, msg string, err error) *Error {
	if msg == "" {
		msg = fmt.Sprintf("unexpected server error (status %d)", status)
	}
	return &Error{Kind: KindServer, Op: op, Status: status, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsValidation(err error) bool   { return KindOf(err) == KindValidation }
func IsUnauthorized(err error) bool { return KindOf(err) == KindUnauthorized }
func IsNetwork(err error) bool      { return KindOf(err) == KindNetwork }
func IsServer(err error) bool       { return KindOf(err) == KindServer }

// UserMessage returns the text to show for err.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
