// Package catenaryerrors defines the error taxonomy shared by every core
// component. Errors here are typed so that callers can branch on kind with
// errors.As instead of matching strings, and so the MCP-facing layer can
// apply the "[<language>]" attribution rule from the design without
// re-deriving it from error text.
package catenaryerrors

import (
	"errors"
	"fmt"
)

// Kind identifies one of the taxonomy entries.
type Kind string

const (
	KindSpawnFailed       Kind = "spawn_failed"
	KindServerClosed      Kind = "server_closed"
	KindRequestTimeout    Kind = "request_timeout"
	KindDecodeFailed      Kind = "decode_failed"
	KindMalformedResponse Kind = "malformed_response"
	KindMethodNotSupported Kind = "method_not_supported"
	KindOutsideWorkspace  Kind = "outside_workspace"
	KindProtectedConfig   Kind = "protected_config"
	KindLockDenied        Kind = "lock_denied"
	KindStaleRead         Kind = "stale_read"
	KindRunDenied         Kind = "run_denied"
	KindInitializeFailed  Kind = "initialize_failed"
)

// Error is the concrete error type for every taxonomy entry. Language is
// empty for errors that originate in the core itself (path validator,
// dispatcher, file-lock coordinator); it is set for anything attributable
// to a specific child LSP server.
type Error struct {
	Kind     Kind
	Language string // empty when the error originates in the core
	Method   string // LSP/MCP method, when relevant
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Language != "" {
		return fmt.Sprintf("[%s] %s", e.Language, msg)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is also an *Error with the same Kind, so
// errors.Is matches two taxonomy errors regardless of Language or Method;
// most call sites instead compare Kind directly via KindOf.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

func newErr(kind Kind, language, method, message string, err error) *Error {
	return &Error{Kind: kind, Language: language, Method: method, Message: message, Err: err}
}

func SpawnFailed(language string, err error) *Error {
	return newErr(KindSpawnFailed, language, "", fmt.Sprintf("failed to spawn %s server", language), err)
}

func InitializeFailed(language string, err error) *Error {
	return newErr(KindInitializeFailed, language, "initialize", "initialize handshake failed", err)
}

func ServerClosed(language, method string) *Error {
	return newErr(KindServerClosed, language, method, "server closed connection", nil)
}

func RequestTimeout(language, method string) *Error {
	return newErr(KindRequestTimeout, language, method, fmt.Sprintf("%s timed out", method), nil)
}

func DecodeFailed(language, method string, err error) *Error {
	return newErr(KindDecodeFailed, language, method, "failed to decode server response", err)
}

func MalformedResponse(language string, err error) *Error {
	return newErr(KindMalformedResponse, language, "", "malformed response frame", err)
}

func MethodNotSupported(language, method string) *Error {
	return newErr(KindMethodNotSupported, language, method, fmt.Sprintf("%s does not support %s", language, method), nil)
}

// OutsideWorkspace never includes the rejected path, per the information
// leakage rule: neither the resolved path nor the caller-supplied input
// appears in the message.
func OutsideWorkspace(originalInput string) *Error {
	return newErr(KindOutsideWorkspace, "", "", "path is outside every workspace root", nil)
}

func ProtectedConfig(originalInput string) *Error {
	return newErr(KindProtectedConfig, "", "", fmt.Sprintf("path %q refers to a protected configuration file", originalInput), nil)
}

func LockDenied(path, owner string) *Error {
	return newErr(KindLockDenied, "", "", fmt.Sprintf("lock on %s is held by another owner", path), nil)
}

func StaleRead(path string) *Error {
	return newErr(KindStaleRead, "", "", fmt.Sprintf("%s was modified since it was last read", path), nil)
}

func RunDenied(command string) *Error {
	return newErr(KindRunDenied, "", "", fmt.Sprintf("command %q is not on the allowlist", command), nil)
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, and reports whether one was found.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
