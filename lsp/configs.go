// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lsp

import (
	"fmt"
	"strings"
	"sync"
)

// LanguageConfig describes how to run the server for one language.
type LanguageConfig struct {
	// Language is the canonical language name, e.g. "go".
	Language string

	// Command is the server binary name, resolved via PATH.
	Command string

	// Args are passed to the server process.
	Args []string

	// Extensions are the file extensions (with dot) this language owns.
	Extensions []string

	// LanguageID is the identifier used in didOpen, when it differs from
	// Language (e.g. "typescript" vs "typescriptreact").
	LanguageID string

	// ProjectMarkers are filenames whose presence in a directory marks a
	// subproject root for this language (e.g. go.mod).
	ProjectMarkers []string

	// InitializationOptions is passed verbatim in the handshake.
	InitializationOptions any
}

// Validate checks the fields the manager depends on.
func (c LanguageConfig) Validate() error {
	if c.Language == "" {
		return fmt.Errorf("language config: empty language")
	}
	if c.Command == "" {
		return fmt.Errorf("language config %s: empty command", c.Language)
	}
	if len(c.Extensions) == 0 {
		return fmt.Errorf("language config %s: no extensions", c.Language)
	}
	return nil
}

// ConfigRegistry maps languages and file extensions to server configs.
//
// Thread Safety: safe for concurrent use.
type ConfigRegistry struct {
	mu          sync.RWMutex
	byLanguage  map[string]LanguageConfig
	byExtension map[string]string // ext -> language
}

// NewConfigRegistry returns a registry pre-populated with the built-in
// server configurations (gopls, pyright, typescript-language-server,
// rust-analyzer). Callers may register additional languages or override
// the built-ins.
func NewConfigRegistry() *ConfigRegistry {
	r := &ConfigRegistry{
		byLanguage:  make(map[string]LanguageConfig),
		byExtension: make(map[string]string),
	}
	for _, cfg := range builtinConfigs() {
		// Built-ins are valid by construction.
		_ = r.Register(cfg)
	}
	return r
}

func builtinConfigs() []LanguageConfig {
	return []LanguageConfig{
		{
			Language:       "go",
			Command:        "gopls",
			Args:           []string{"serve"},
			Extensions:     []string{".go"},
			ProjectMarkers: []string{"go.mod", "go.work"},
		},
		{
			Language:       "python",
			Command:        "pyright-langserver",
			Args:           []string{"--stdio"},
			Extensions:     []string{".py", ".pyi"},
			ProjectMarkers: []string{"pyproject.toml", "setup.py", "requirements.txt"},
		},
		{
			Language:       "typescript",
			Command:        "typescript-language-server",
			Args:           []string{"--stdio"},
			Extensions:     []string{".ts", ".tsx", ".js", ".jsx"},
			ProjectMarkers: []string{"package.json", "tsconfig.json"},
		},
		{
			Language:       "rust",
			Command:        "rust-analyzer",
			Args:           nil,
			Extensions:     []string{".rs"},
			ProjectMarkers: []string{"Cargo.toml"},
		},
	}
}

// Register adds or replaces a language configuration.
func (r *ConfigRegistry) Register(cfg LanguageConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byLanguage[cfg.Language]; ok {
		for _, ext := range old.Extensions {
			delete(r.byExtension, strings.ToLower(ext))
		}
	}
	r.byLanguage[cfg.Language] = cfg
	for _, ext := range cfg.Extensions {
		r.byExtension[strings.ToLower(ext)] = cfg.Language
	}
	return nil
}

// Get returns the config for a language.
func (r *ConfigRegistry) Get(language string) (LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.byLanguage[language]
	return cfg, ok
}

// LanguageForExtension maps a file extension (with dot) to a language.
func (r *ConfigRegistry) LanguageForExtension(ext string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.byExtension[strings.ToLower(ext)]
	return lang, ok
}

// Languages returns all registered language names.
func (r *ConfigRegistry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byLanguage))
	for lang := range r.byLanguage {
		out = append(out, lang)
	}
	return out
}

// ProjectMarkers returns the union of all registered project markers,
// used by workspace discovery.
func (r *ConfigRegistry) ProjectMarkers() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string)
	for lang, cfg := range r.byLanguage {
		for _, marker := range cfg.ProjectMarkers {
			out[marker] = lang
		}
	}
	return out
}

// languageID returns the didOpen language identifier.
func (c LanguageConfig) languageID() string {
	if c.LanguageID != "" {
		return c.LanguageID
	}
	return c.Language
}
