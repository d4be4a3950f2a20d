// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads engine configuration from YAML.
//
// Thread Safety:
//
//	A loaded Config is read-only; safe to share across goroutines.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxConfigFileSize caps the config file at 1MB.
const MaxConfigFileSize = 1024 * 1024

// ErrInvalidConfig is returned when a config file fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full engine configuration.
type Config struct {
	// Depth is the clustering granularity, 1 or higher.
	Depth int `yaml:"depth" validate:"required,min=1,max=10"`

	// RepoPath is the repository root to analyze.
	RepoPath string `yaml:"repo_path" validate:"required"`

	// StateDir holds the manifest and artifact store. Defaults to
	// <repo>/.stratum.
	StateDir string `yaml:"state_dir,omitempty"`

	// ForceFull skips the incremental path for this run.
	ForceFull bool `yaml:"force_full,omitempty"`

	// Component restricts an incremental run to one component ID.
	Component string `yaml:"component,omitempty"`

	// Workers bounds concurrent per-file analysis. Zero means one per
	// CPU core.
	Workers int `yaml:"workers,omitempty" validate:"min=0,max=256"`

	// Include and Exclude override the default file globs.
	Include []string `yaml:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty"`

	Thresholds Thresholds `yaml:"thresholds"`
	Servers    Servers    `yaml:"servers"`
}

// Thresholds are the incremental-path escalation knobs.
type Thresholds struct {
	// RenameSimilarityCutoff is the minimum git similarity percentage
	// for a rename to be trusted as a rename.
	RenameSimilarityCutoff int `yaml:"rename_similarity_cutoff" validate:"min=0,max=100"`

	// MaxDirtyComponents bounds how many components a scoped update
	// may touch.
	MaxDirtyComponents int `yaml:"max_dirty_components" validate:"min=1"`

	// MaxComponentFiles bounds the size of a component a scoped update
	// will re-analyze.
	MaxComponentFiles int `yaml:"max_component_files" validate:"min=1"`

	// EscalationFraction is the added/deleted volume, as a fraction of
	// repository size, that forces full re-analysis.
	EscalationFraction float64 `yaml:"escalation_fraction" validate:"gt=0,lte=1"`
}

// Duration wraps time.Duration so YAML can carry values like "30s".
type Duration time.Duration

// UnmarshalYAML accepts either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("parsing duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("parsing duration: %w", err)
	}
	*d = Duration(n)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Servers configures the language-server layer.
type Servers struct {
	// StartupTimeout bounds process spawn plus initialize handshake.
	StartupTimeout Duration `yaml:"startup_timeout"`

	// RequestTimeout bounds each individual server request.
	RequestTimeout Duration `yaml:"request_timeout"`

	// IdleTimeout shuts down servers with no recent requests.
	IdleTimeout Duration `yaml:"idle_timeout"`
}

// Default returns the configuration for a repository with everything
// else at tuned defaults.
func Default(repoPath string) Config {
	stateDir := ""
	if repoPath != "" {
		stateDir = filepath.Join(repoPath, ".stratum")
	}
	return Config{
		Depth:    1,
		RepoPath: repoPath,
		StateDir: stateDir,
		Thresholds: Thresholds{
			RenameSimilarityCutoff: 50,
			MaxDirtyComponents:     4,
			MaxComponentFiles:      200,
			EscalationFraction:     0.15,
		},
		Servers: Servers{
			StartupTimeout: Duration(30 * time.Second),
			RequestTimeout: Duration(10 * time.Second),
			IdleTimeout:    Duration(10 * time.Minute),
		},
	}
}

// Load reads a YAML config file, fills unset fields from defaults, and
// validates the result.
func Load(path string) (Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	if info.Size() > MaxConfigFileSize {
		return Config{}, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidConfig, MaxConfigFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML config bytes.
func Parse(data []byte) (Config, error) {
	cfg := Default("")
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default(c.RepoPath)
	if c.Depth == 0 {
		c.Depth = def.Depth
	}
	if c.StateDir == "" && c.RepoPath != "" {
		c.StateDir = filepath.Join(c.RepoPath, ".stratum")
	}
	if c.Thresholds.RenameSimilarityCutoff == 0 {
		c.Thresholds.RenameSimilarityCutoff = def.Thresholds.RenameSimilarityCutoff
	}
	if c.Thresholds.MaxDirtyComponents == 0 {
		c.Thresholds.MaxDirtyComponents = def.Thresholds.MaxDirtyComponents
	}
	if c.Thresholds.MaxComponentFiles == 0 {
		c.Thresholds.MaxComponentFiles = def.Thresholds.MaxComponentFiles
	}
	if c.Thresholds.EscalationFraction == 0 {
		c.Thresholds.EscalationFraction = def.Thresholds.EscalationFraction
	}
	if c.Servers.StartupTimeout == 0 {
		c.Servers.StartupTimeout = def.Servers.StartupTimeout
	}
	if c.Servers.RequestTimeout == 0 {
		c.Servers.RequestTimeout = def.Servers.RequestTimeout
	}
	if c.Servers.IdleTimeout == 0 {
		c.Servers.IdleTimeout = def.Servers.IdleTimeout
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
