// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lsp

import (
	"errors"
	"fmt"
)

// Sentinel errors for server lifecycle and protocol failures.
var (
	// ErrServerNotRunning is returned when a request is made against a
	// client that is not in the Ready or Busy state.
	ErrServerNotRunning = errors.New("language server is not running")

	// ErrServerNotInstalled is returned when the server binary is not on
	// PATH. The language is then marked unavailable for the run.
	ErrServerNotInstalled = errors.New("language server binary not installed")

	// ErrServerUnavailable is returned when a language was marked
	// unavailable earlier in the run (missing binary or failed handshake).
	ErrServerUnavailable = errors.New("language server unavailable for this run")

	// ErrUnsupportedLanguage is returned for files whose language has no
	// registered server configuration.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrInitializeFailed is returned when the initialize handshake fails
	// or exceeds its deadline.
	ErrInitializeFailed = errors.New("initialize handshake failed")

	// ErrRequestTimeout is returned when a request's context expires
	// before the server responds.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrServerCrashed is returned when the server process exits while
	// requests are outstanding.
	ErrServerCrashed = errors.New("language server crashed")

	// ErrInvalidResponse is returned when a response cannot be decoded
	// into the expected shape.
	ErrInvalidResponse = errors.New("invalid server response")

	// ErrAlreadyStarted is returned when Start is called on a client that
	// has left the Uninitialized state.
	ErrAlreadyStarted = errors.New("client already started")
)

// JSON-RPC error codes the client inspects.
const (
	CodeServerErrorStart = -32099
	CodeServerErrorEnd   = -32000
	CodeRequestCancelled = -32800
	CodeContentModified  = -32801
)

// ProtocolError is a JSON-RPC error returned by a server.
type ProtocolError struct {
	Code    int
	Message string
	Data    any
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("lsp error %d: %s", e.Code, e.Message)
}

// IsServerError reports whether the code falls in the reserved
// implementation-defined server error range.
func (e *ProtocolError) IsServerError() bool {
	return e.Code >= CodeServerErrorStart && e.Code <= CodeServerErrorEnd
}

// IsCancelled reports whether the server cancelled the request, either
// explicitly or because document content changed underneath it.
func (e *ProtocolError) IsCancelled() bool {
	return e.Code == CodeRequestCancelled || e.Code == CodeContentModified
}
