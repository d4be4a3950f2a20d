// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// =============================================================================
// CLIENT STATE
// =============================================================================

// ClientState is the lifecycle state of one server connection.
type ClientState int

const (
	// ClientStateUninitialized is the state before Start is called.
	ClientStateUninitialized ClientState = iota

	// ClientStateInitializing means the process is up and the handshake
	// is in progress.
	ClientStateInitializing

	// ClientStateReady means the client accepts requests.
	ClientStateReady

	// ClientStateBusy means a request is in flight on the connection.
	// Requests on one connection are strictly ordered; a second caller
	// blocks until the connection returns to Ready.
	ClientStateBusy

	// ClientStateShutdown means the client is stopping or stopped.
	ClientStateShutdown
)

// String returns a human-readable state name.
func (s ClientState) String() string {
	names := []string{"uninitialized", "initializing", "ready", "busy", "shutdown"}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is one running language-server process bound to a project root.
//
// Description:
//
//	Owns the process lifecycle: spawn, initialize handshake with a
//	deadline, request traffic, and graceful shutdown. Request ordering on
//	the connection is enforced with the Busy state; independent clients
//	never block each other.
//
// Thread Safety:
//
//	Safe for concurrent use after Start returns.
type Client struct {
	config   LanguageConfig
	rootPath string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	conn   *Conn

	capabilities ServerCapabilities

	state   ClientState
	stateMu sync.RWMutex
	reqMu   sync.Mutex // serializes requests on the connection

	ctx      context.Context
	cancel   context.CancelFunc
	readDone chan struct{}

	lastUsed   time.Time
	lastUsedMu sync.Mutex
}

// NewClient creates an unstarted client for the language at the root.
func NewClient(config LanguageConfig, rootPath string) *Client {
	return &Client{
		config:   config,
		rootPath: rootPath,
		state:    ClientStateUninitialized,
		readDone: make(chan struct{}),
		lastUsed: time.Now(),
	}
}

// Start spawns the server process and runs the initialize handshake.
//
// Inputs:
//
//	ctx - bounds the handshake; the manager passes its startup timeout.
//
// Errors:
//
//	ErrServerNotInstalled - binary not on PATH
//	ErrAlreadyStarted - Start called twice
//	ErrInitializeFailed - handshake failed or timed out
func (c *Client) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}

	c.stateMu.Lock()
	if c.state != ClientStateUninitialized {
		c.stateMu.Unlock()
		return ErrAlreadyStarted
	}
	c.state = ClientStateInitializing
	c.stateMu.Unlock()

	path, err := exec.LookPath(c.config.Command)
	if err != nil {
		c.setState(ClientStateShutdown)
		slog.Warn("language server not installed",
			slog.String("language", c.config.Language),
			slog.String("command", c.config.Command),
		)
		return fmt.Errorf("%w: %s", ErrServerNotInstalled, c.config.Command)
	}

	slog.Info("starting language server",
		slog.String("language", c.config.Language),
		slog.String("command", path),
		slog.String("root", c.rootPath),
	)

	// The process outlives the caller's context; shutdown is explicit.
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.cmd = exec.CommandContext(c.ctx, path, c.config.Args...)
	c.cmd.Dir = c.rootPath

	if c.stdin, err = c.cmd.StdinPipe(); err != nil {
		c.cleanup()
		return fmt.Errorf("stdin pipe: %w", err)
	}
	if c.stdout, err = c.cmd.StdoutPipe(); err != nil {
		c.cleanup()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := c.cmd.Start(); err != nil {
		c.cleanup()
		return fmt.Errorf("start process: %w", err)
	}

	c.conn = NewConn(c.stdout, c.stdin)
	go func() {
		defer close(c.readDone)
		_ = c.conn.ReadLoop(c.ctx)
	}()

	if err := c.initialize(ctx); err != nil {
		_ = c.Shutdown(context.Background())
		return fmt.Errorf("%w: %v", ErrInitializeFailed, err)
	}

	c.setState(ClientStateReady)
	c.touchLastUsed()

	slog.Info("language server ready",
		slog.String("language", c.config.Language),
		slog.Bool("document_symbols", c.capabilities.HasDocumentSymbolProvider()),
		slog.Bool("references", c.capabilities.HasReferencesProvider()),
		slog.Bool("call_hierarchy", c.capabilities.HasCallHierarchyProvider()),
	)
	return nil
}

func (c *Client) initialize(ctx context.Context) error {
	params := InitializeParams{
		ProcessID: os.Getpid(),
		RootURI:   PathToURI(c.rootPath),
		RootPath:  c.rootPath,
		Capabilities: ClientCapabilities{
			TextDocument: TextDocumentClientCapabilities{
				DocumentSymbol: &DocumentSymbolClientCapabilities{
					HierarchicalDocumentSymbolSupport: true,
				},
				References:    &struct{}{},
				CallHierarchy: &struct{}{},
				TypeHierarchy: &struct{}{},
			},
			Workspace: WorkspaceClientCapabilities{
				Symbol:           &struct{}{},
				WorkspaceFolders: true,
			},
		},
		InitializationOptions: c.config.InitializationOptions,
		WorkspaceFolders: []WorkspaceFolder{
			{URI: PathToURI(c.rootPath), Name: "workspace"},
		},
	}

	result, err := c.conn.Call(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}
	var init InitializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}
	c.capabilities = init.Capabilities

	if err := c.conn.Notify("initialized", struct{}{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	return nil
}

// Shutdown stops the server: shutdown request, exit notification, then a
// kill after a grace period. Idempotent.
func (c *Client) Shutdown(ctx context.Context) error {
	c.stateMu.Lock()
	if c.state == ClientStateShutdown {
		c.stateMu.Unlock()
		return nil
	}
	c.state = ClientStateShutdown
	c.stateMu.Unlock()

	slog.Info("shutting down language server",
		slog.String("language", c.config.Language),
		slog.String("root", c.rootPath),
	)
	defer c.cleanup()

	if c.conn != nil {
		graceCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_, _ = c.conn.Call(graceCtx, "shutdown", nil)
		_ = c.conn.Notify("exit", nil)
		c.conn.Close()
	}
	if c.stdin != nil {
		_ = c.stdin.Close()
	}

	if c.cmd != nil && c.cmd.Process != nil {
		done := make(chan error, 1)
		go func() { done <- c.cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			_ = c.cmd.Process.Kill()
			<-done
		}
	}

	if c.cancel != nil {
		c.cancel()
	}
	select {
	case <-c.readDone:
	case <-time.After(time.Second):
	}
	return nil
}

func (c *Client) cleanup() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	if c.stdout != nil {
		_ = c.stdout.Close()
	}
	c.setState(ClientStateShutdown)
}

// =============================================================================
// REQUESTS
// =============================================================================

// Call sends a request, holding the connection's Busy slot for its
// duration. Concurrent callers on the same client are serialized;
// different clients proceed independently.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if !c.acceptsRequests() {
		return nil, ErrServerNotRunning
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	if !c.acceptsRequests() {
		return nil, ErrServerNotRunning
	}
	c.setState(ClientStateBusy)
	defer func() {
		// Shutdown may have raced us; never clobber it.
		c.stateMu.Lock()
		if c.state == ClientStateBusy {
			c.state = ClientStateReady
		}
		c.stateMu.Unlock()
	}()

	c.touchLastUsed()
	return c.conn.Call(ctx, method, params)
}

// Notify sends a notification without occupying the Busy slot.
func (c *Client) Notify(method string, params any) error {
	if !c.acceptsRequests() {
		return ErrServerNotRunning
	}
	c.touchLastUsed()
	return c.conn.Notify(method, params)
}

func (c *Client) acceptsRequests() bool {
	s := c.State()
	return s == ClientStateReady || s == ClientStateBusy
}

// =============================================================================
// ACCESSORS
// =============================================================================

// State returns the current lifecycle state.
func (c *Client) State() ClientState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Language returns the language this client serves.
func (c *Client) Language() string { return c.config.Language }

// RootPath returns the project root the server indexes.
func (c *Client) RootPath() string { return c.rootPath }

// Capabilities returns the server-reported capabilities; zero value
// before the handshake completes.
func (c *Client) Capabilities() ServerCapabilities { return c.capabilities }

// LastUsed returns the time of the last request or notification.
func (c *Client) LastUsed() time.Time {
	c.lastUsedMu.Lock()
	defer c.lastUsedMu.Unlock()
	return c.lastUsed
}

func (c *Client) setState(s ClientState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

func (c *Client) touchLastUsed() {
	c.lastUsedMu.Lock()
	c.lastUsed = time.Now()
	c.lastUsedMu.Unlock()
}
