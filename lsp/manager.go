// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lsp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ManagerConfig holds manager-level timeouts and limits.
type ManagerConfig struct {
	// StartupTimeout bounds process spawn plus the initialize handshake.
	// A language whose handshake misses this deadline is marked
	// unavailable for the rest of the run.
	StartupTimeout time.Duration

	// RequestTimeout is the default per-request deadline applied by the
	// operations layer.
	RequestTimeout time.Duration

	// IdleTimeout is how long an unused client survives before the idle
	// monitor shuts it down.
	IdleTimeout time.Duration

	// SpawnRate throttles server spawn attempts, protecting the host
	// from a burst of heavyweight processes on a cold start.
	SpawnRate rate.Limit

	// SpawnBurst is the spawn limiter's burst size.
	SpawnBurst int
}

// DefaultManagerConfig returns the production defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		StartupTimeout: 30 * time.Second,
		RequestTimeout: 10 * time.Second,
		IdleTimeout:    10 * time.Minute,
		SpawnRate:      rate.Every(500 * time.Millisecond),
		SpawnBurst:     4,
	}
}

type clientKey struct {
	language string
	root     string
}

// Manager owns one client per (language, project root) pair.
//
// Description:
//
//	Spawns clients on demand, deduplicates concurrent spawn attempts,
//	tracks languages that failed to start so the run degrades instead of
//	retrying a dead binary per file, and shuts everything down at the
//	end of a run.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Manager struct {
	config   ManagerConfig
	registry *ConfigRegistry

	mu          sync.Mutex
	clients     map[clientKey]*Client
	starting    map[clientKey]chan struct{}
	unavailable map[string]error // language -> reason
	shutdown    bool

	spawnLimiter *rate.Limiter

	idleStop chan struct{}
	idleOnce sync.Once
}

// NewManager creates a manager with the given config and the built-in
// language registry.
func NewManager(config ManagerConfig) *Manager {
	if config.StartupTimeout <= 0 {
		config.StartupTimeout = DefaultManagerConfig().StartupTimeout
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultManagerConfig().RequestTimeout
	}
	if config.SpawnRate == 0 {
		config.SpawnRate = DefaultManagerConfig().SpawnRate
	}
	if config.SpawnBurst <= 0 {
		config.SpawnBurst = DefaultManagerConfig().SpawnBurst
	}
	return &Manager{
		config:       config,
		registry:     NewConfigRegistry(),
		clients:      make(map[clientKey]*Client),
		starting:     make(map[clientKey]chan struct{}),
		unavailable:  make(map[string]error),
		spawnLimiter: rate.NewLimiter(config.SpawnRate, config.SpawnBurst),
		idleStop:     make(chan struct{}),
	}
}

// Configs returns the language registry for registration and lookups.
func (m *Manager) Configs() *ConfigRegistry { return m.registry }

// RequestTimeout returns the configured per-request deadline.
func (m *Manager) RequestTimeout() time.Duration { return m.config.RequestTimeout }

// GetOrSpawn returns the client for (language, root), starting one if
// needed. Concurrent callers for the same key share a single spawn.
//
// Errors:
//
//	ErrUnsupportedLanguage - no registered config
//	ErrServerUnavailable - the language failed earlier in this run
//	ErrServerNotInstalled / ErrInitializeFailed - this spawn failed; the
//	language is marked unavailable for subsequent calls
func (m *Manager) GetOrSpawn(ctx context.Context, language, root string) (*Client, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	cfg, ok := m.registry.Get(language)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	key := clientKey{language: language, root: root}

	for {
		m.mu.Lock()
		if m.shutdown {
			m.mu.Unlock()
			return nil, ErrServerNotRunning
		}
		if reason, bad := m.unavailable[language]; bad {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s: %v", ErrServerUnavailable, language, reason)
		}
		if client, ok := m.clients[key]; ok {
			m.mu.Unlock()
			return client, nil
		}
		if waitCh, inFlight := m.starting[key]; inFlight {
			m.mu.Unlock()
			select {
			case <-waitCh:
				continue // re-check: spawn finished, good or bad
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		waitCh := make(chan struct{})
		m.starting[key] = waitCh
		m.mu.Unlock()

		client, err := m.spawn(ctx, cfg, key)

		m.mu.Lock()
		delete(m.starting, key)
		close(waitCh)
		if err != nil {
			m.unavailable[language] = err
			m.mu.Unlock()
			recordServerSpawn(ctx, language, false)
			return nil, err
		}
		m.clients[key] = client
		m.mu.Unlock()
		recordServerSpawn(ctx, language, true)
		return client, nil
	}
}

func (m *Manager) spawn(ctx context.Context, cfg LanguageConfig, key clientKey) (*Client, error) {
	if err := m.spawnLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("spawn throttled: %w", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, m.config.StartupTimeout)
	defer cancel()

	client := NewClient(cfg, key.root)
	if err := client.Start(startCtx); err != nil {
		return nil, err
	}
	return client, nil
}

// Get returns an existing client without spawning, or nil.
func (m *Manager) Get(language, root string) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[clientKey{language: language, root: root}]
}

// IsAvailable reports whether the language can still serve requests in
// this run (registered and not marked unavailable).
func (m *Manager) IsAvailable(language string) bool {
	if _, ok := m.registry.Get(language); !ok {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, bad := m.unavailable[language]
	return !bad && !m.shutdown
}

// UnavailableLanguages returns the languages that failed this run with
// their reasons.
func (m *Manager) UnavailableLanguages() map[string]error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]error, len(m.unavailable))
	for lang, err := range m.unavailable {
		out[lang] = err
	}
	return out
}

// RunningClients returns the number of live clients.
func (m *Manager) RunningClients() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.clients {
		if s := c.State(); s == ClientStateReady || s == ClientStateBusy {
			n++
		}
	}
	return n
}

// Shutdown stops the client for one (language, root) pair, if running.
func (m *Manager) Shutdown(ctx context.Context, language, root string) error {
	key := clientKey{language: language, root: root}
	m.mu.Lock()
	client, ok := m.clients[key]
	if ok {
		delete(m.clients, key)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return client.Shutdown(ctx)
}

// ShutdownAll stops every client and prevents new spawns. Idempotent.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.clients = make(map[clientKey]*Client)
	m.mu.Unlock()

	m.idleOnce.Do(func() { close(m.idleStop) })

	var firstErr error
	for _, c := range clients {
		if err := c.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StartIdleMonitor launches a goroutine that shuts down clients unused
// for longer than IdleTimeout. No-op when IdleTimeout is zero.
func (m *Manager) StartIdleMonitor() {
	if m.config.IdleTimeout <= 0 {
		return
	}
	interval := m.config.IdleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.idleStop:
				return
			case <-ticker.C:
				m.reapIdle()
			}
		}
	}()
}

func (m *Manager) reapIdle() {
	cutoff := time.Now().Add(-m.config.IdleTimeout)
	m.mu.Lock()
	var idle []*Client
	for key, c := range m.clients {
		if c.State() == ClientStateReady && c.LastUsed().Before(cutoff) {
			idle = append(idle, c)
			delete(m.clients, key)
		}
	}
	m.mu.Unlock()

	for _, c := range idle {
		slog.Debug("reaping idle language server",
			slog.String("language", c.Language()),
			slog.String("root", c.RootPath()),
		)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = c.Shutdown(ctx)
		cancel()
	}
}
