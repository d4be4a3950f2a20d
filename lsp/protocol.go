// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// jsonrpcVersion is the JSON-RPC version used by the LSP base protocol.
const jsonrpcVersion = "2.0"

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Conn is a JSON-RPC connection over a server's stdio pipes, framed with
// Content-Length headers.
//
// Description:
//
//	Correlates responses to in-flight requests by ID and delivers them to
//	the goroutine that issued the call. Server-initiated notifications
//	(diagnostics, log messages) are discarded.
//
// Thread Safety:
//
//	Safe for concurrent use. Writes are serialized; each call waits on
//	its own response channel.
type Conn struct {
	reader    *bufio.Reader
	writer    io.Writer
	writeMu   sync.Mutex
	nextID    atomic.Int64
	pending   map[int64]chan rpcResponse
	pendingMu sync.Mutex
	closed    atomic.Bool
}

// NewConn creates a connection reading server output from r and writing
// client traffic to w.
func NewConn(r io.Reader, w io.Writer) *Conn {
	var reader *bufio.Reader
	if r != nil {
		reader = bufio.NewReader(r)
	}
	return &Conn{
		reader:  reader,
		writer:  w,
		pending: make(map[int64]chan rpcResponse),
	}
}

// Call sends a request and blocks until the response arrives or ctx ends.
//
// Outputs:
//
//	json.RawMessage - The result payload; nil results are valid LSP
//	responses (e.g. empty reference lists).
//	error - ErrRequestTimeout on context expiry, *ProtocolError when the
//	server answered with an error object.
func (c *Conn) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if c.closed.Load() {
		return nil, ErrServerNotRunning
	}

	id := c.nextID.Add(1)
	respCh := make(chan rpcResponse, 1)
	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	req := rpcRequest{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: params}
	if err := c.writeFrame(req); err != nil {
		return nil, fmt.Errorf("write request %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrRequestTimeout, method, ctx.Err())
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, &ProtocolError{Code: resp.Error.Code, Message: resp.Error.Message, Data: resp.Error.Data}
		}
		return resp.Result, nil
	}
}

// Notify sends a notification; no response is expected.
func (c *Conn) Notify(method string, params any) error {
	if c.closed.Load() {
		return ErrServerNotRunning
	}
	return c.writeFrame(rpcRequest{JSONRPC: jsonrpcVersion, Method: method, Params: params})
}

func (c *Conn) writeFrame(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := fmt.Fprintf(c.writer, "Content-Length: %d\r\n\r\n", len(body)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := c.writer.Write(body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// ReadLoop reads frames until the connection closes and dispatches
// responses to their callers. Run in a goroutine after process start.
//
// Returns ErrServerCrashed when the server's stdout hits EOF while the
// connection is still open.
func (c *Conn) ReadLoop(ctx context.Context) error {
	if c.reader == nil {
		return fmt.Errorf("no reader configured")
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := c.readFrame()
		if err != nil {
			if c.closed.Load() {
				return nil
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return ErrServerCrashed
			}
			return fmt.Errorf("read frame: %w", err)
		}
		c.dispatch(frame)
	}
}

func (c *Conn) readFrame() (json.RawMessage, error) {
	contentLength := 0
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break // end of headers
		}
		if value, ok := strings.CutPrefix(line, "Content-Length:"); ok {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("bad Content-Length %q: %w", value, err)
			}
			if n < 0 {
				return nil, fmt.Errorf("negative Content-Length: %d", n)
			}
			contentLength = n
		}
		// Content-Type and unknown headers are ignored.
	}
	if contentLength == 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Conn) dispatch(frame json.RawMessage) {
	var resp rpcResponse
	if err := json.Unmarshal(frame, &resp); err != nil || resp.ID == 0 {
		// Server-initiated notification or request; not handled.
		return
	}
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.ID]
	c.pendingMu.Unlock()
	if ok {
		select {
		case ch <- resp:
		default:
		}
	}
}

// Close marks the connection closed and fails all pending calls with a
// server-error response. The underlying pipes are not closed here.
func (c *Conn) Close() {
	c.closed.Store(true)

	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		select {
		case ch <- rpcResponse{
			JSONRPC: jsonrpcVersion,
			ID:      id,
			Error:   &rpcError{Code: CodeServerErrorStart, Message: "connection closed"},
		}:
		default:
		}
		delete(c.pending, id)
	}
}
