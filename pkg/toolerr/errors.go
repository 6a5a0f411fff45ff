// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package toolerr defines the error taxonomy shared by the registry, the
// datacache, the lock service and the session runtime.
//
// Every failure that crosses a component boundary is a *Error tagged with a
// Kind. Retry classification lives on the value itself so callers never
// need to switch on concrete types.
package toolerr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error.
type Kind string

const (
	// KindNotFound is returned when a tool or record does not exist.
	KindNotFound Kind = "not_found"

	// KindLockTimeout is returned when a distributed lock could not be acquired in time.
	KindLockTimeout Kind = "lock_timeout"

	// KindLockBackendUnavailable is returned when no lock backend is configured or reachable.
	KindLockBackendUnavailable Kind = "lock_backend_unavailable"

	// KindCacheUnavailable is returned when the datacache store fails.
	KindCacheUnavailable Kind = "cache_unavailable"

	// KindMiddlewareFailure is returned when a pipeline stage fails.
	KindMiddlewareFailure Kind = "middleware_failure"

	// KindTransportFailure is returned when a transport cannot read or write.
	KindTransportFailure Kind = "transport_failure"

	// KindToolExecution is returned when a tool body fails.
	KindToolExecution Kind = "tool_execution"

	// KindInvalidInput is returned when tool arguments fail validation.
	KindInvalidInput Kind = "invalid_input"

	// KindInternal is returned for unexpected server failures.
	KindInternal Kind = "internal"
)

// Origin says which side of the tool boundary produced an error.
type Origin string

const (
	OriginToolkit  Origin = "TOOLKIT"
	OriginTool     Origin = "TOOL"
	OriginUpstream Origin = "UPSTREAM"
	OriginServer   Origin = "SERVER"
)

// Error codes carried on the wire.
const (
	CodeNotFound        = "NOT_FOUND"
	CodeRetryTool       = "RETRY_TOOL"
	CodeBadInputValue   = "BAD_INPUT_VALUE"
	CodeFatal           = "FATAL"
	CodeServerError     = "SERVER_ERROR"
	CodeRateLimit       = "RATE_LIMIT"
	CodeAuthError       = "AUTH_ERROR"
	CodeBadRequest      = "BAD_REQUEST"
	CodeLockTimeout     = "LOCK_TIMEOUT"
	CodeLockUnavailable = "LOCK_UNAVAILABLE"
	CodeCacheError      = "CACHE_ERROR"
	CodeTransport       = "TRANSPORT_ERROR"
	CodeMiddleware      = "MIDDLEWARE_ERROR"
)

// Error is the tagged error value used across the runtime.
type Error struct {
	// Kind is the taxonomy bucket.
	Kind Kind

	// Origin is the component that produced the error.
	Origin Origin

	// Code is the wire error code.
	Code string

	// Retryable reports whether the caller may retry the same request.
	Retryable bool

	// StatusCode is an optional HTTP-like status for upstream failures.
	StatusCode int

	// RetryAfter is a retry hint, zero when unknown.
	RetryAfter time.Duration

	// Message is safe to show to the model or end user.
	Message string

	// DeveloperMessage carries detail for operators and is masked when configured.
	DeveloperMessage string

	// Extra holds additional structured fields, e.g. the contended lock key.
	Extra map[string]any

	// Cause is the underlying error.
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same Kind, so errors.Is(err, &Error{Kind: KindNotFound}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

// Payload renders the error in its wire form for structured tool results.
func (e *Error) Payload() map[string]any {
	p := map[string]any{
		"kind":      string(e.Kind),
		"message":   e.Message,
		"origin":    string(e.Origin),
		"code":      e.Code,
		"can_retry": e.Retryable,
	}
	if e.DeveloperMessage != "" {
		p["developer_message"] = e.DeveloperMessage
	}
	if e.StatusCode != 0 {
		p["status_code"] = e.StatusCode
	}
	if e.RetryAfter > 0 {
		p["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	for k, v := range e.Extra {
		if _, exists := p[k]; !exists {
			p[k] = v
		}
	}
	return p
}

// WithExtra returns a copy of e with key set in Extra.
func (e *Error) WithExtra(key string, value any) *Error {
	c := *e
	c.Extra = make(map[string]any, len(e.Extra)+1)
	for k, v := range e.Extra {
		c.Extra[k] = v
	}
	c.Extra[key] = value
	return &c
}

// NewNotFound creates a not-found error for the named entity.
func NewNotFound(what, name string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Origin:  OriginServer,
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", what, name),
		Extra:   map[string]any{"name": name},
	}
}

// NewLockTimeout creates a retryable error for a lock that could not be acquired before wait elapsed.
func NewLockTimeout(key string, wait time.Duration) *Error {
	return &Error{
		Kind:       KindLockTimeout,
		Origin:     OriginServer,
		Code:       CodeLockTimeout,
		Retryable:  true,
		RetryAfter: wait,
		Message:    fmt.Sprintf("timed out after %s waiting for lock", wait),
		Extra:      map[string]any{"lock_key": key},
	}
}

// NewLockBackendUnavailable creates an error for a missing or unreachable lock backend.
func NewLockBackendUnavailable(message string, cause error) *Error {
	return &Error{
		Kind:    KindLockBackendUnavailable,
		Origin:  OriginServer,
		Code:    CodeLockUnavailable,
		Message: message,
		Cause:   cause,
	}
}

// NewCacheUnavailable creates an error for a datacache store failure.
func NewCacheUnavailable(message string, cause error) *Error {
	return &Error{
		Kind:    KindCacheUnavailable,
		Origin:  OriginServer,
		Code:    CodeCacheError,
		Message: message,
		Cause:   cause,
	}
}

// NewMiddlewareFailure creates an error for a failed pipeline stage.
func NewMiddlewareFailure(stage string, cause error) *Error {
	return &Error{
		Kind:    KindMiddlewareFailure,
		Origin:  OriginServer,
		Code:    CodeMiddleware,
		Message: fmt.Sprintf("middleware %q failed", stage),
		Cause:   cause,
	}
}

// NewTransportFailure creates an error for a transport read or write failure.
func NewTransportFailure(message string, cause error) *Error {
	return &Error{
		Kind:    KindTransportFailure,
		Origin:  OriginServer,
		Code:    CodeTransport,
		Message: message,
		Cause:   cause,
	}
}

// NewToolExecution creates a non-retryable error raised by a tool body.
func NewToolExecution(message string, cause error) *Error {
	return &Error{
		Kind:    KindToolExecution,
		Origin:  OriginTool,
		Code:    CodeFatal,
		Message: message,
		Cause:   cause,
	}
}

// NewRetryableTool creates a tool error the caller should retry, optionally after a delay.
func NewRetryableTool(message string, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindToolExecution,
		Origin:     OriginTool,
		Code:       CodeRetryTool,
		Retryable:  true,
		RetryAfter: retryAfter,
		Message:    message,
	}
}

// NewUpstream creates a tool error for a failed upstream call. Retryability follows the status code.
func NewUpstream(message string, statusCode int) *Error {
	e := &Error{
		Kind:       KindToolExecution,
		Origin:     OriginUpstream,
		StatusCode: statusCode,
		Message:    message,
		Retryable:  statusCode >= 500 || statusCode == 429,
	}
	switch {
	case statusCode == 401 || statusCode == 403:
		e.Code = CodeAuthError
	case statusCode == 404:
		e.Code = CodeNotFound
	case statusCode == 429:
		e.Code = CodeRateLimit
	case statusCode >= 500:
		e.Code = CodeServerError
	case statusCode >= 400:
		e.Code = CodeBadRequest
	default:
		e.Code = CodeFatal
	}
	return e
}

// NewInvalidInput creates an error for tool arguments that failed validation.
func NewInvalidInput(message string, cause error) *Error {
	return &Error{
		Kind:    KindInvalidInput,
		Origin:  OriginServer,
		Code:    CodeBadInputValue,
		Message: message,
		Cause:   cause,
	}
}

// NewInternal creates an error for unexpected server failures.
func NewInternal(message string, cause error) *Error {
	return &Error{
		Kind:    KindInternal,
		Origin:  OriginServer,
		Code:    CodeFatal,
		Message: message,
		Cause:   cause,
	}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or the empty Kind when err is not a *Error.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether err is classified as retryable.
func IsRetryable(err error) bool {
	e, ok := As(err)
	return ok && e.Retryable
}

// IsNotFound checks if the error is a not-found error
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsLockTimeout checks if the error is a lock timeout error
func IsLockTimeout(err error) bool {
	return KindOf(err) == KindLockTimeout
}

// IsLockBackendUnavailable checks if the error is a lock backend error
func IsLockBackendUnavailable(err error) bool {
	return KindOf(err) == KindLockBackendUnavailable
}

// IsCacheUnavailable checks if the error is a datacache store error
func IsCacheUnavailable(err error) bool {
	return KindOf(err) == KindCacheUnavailable
}

// IsToolExecution checks if the error came from a tool body
func IsToolExecution(err error) bool {
	return KindOf(err) == KindToolExecution
}

// IsInvalidInput checks if the error is an argument validation error
func IsInvalidInput(err error) bool {
	return KindOf(err) == KindInvalidInput
}
