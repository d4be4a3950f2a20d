// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package change

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// HeadWatcher marks the analysis baseline stale when the repository
// HEAD moves underneath us, e.g. a checkout from another terminal.
//
// Thread Safety: safe for concurrent use. Start should be called once,
// in its own goroutine.
type HeadWatcher struct {
	gitDir   string
	watcher  *fsnotify.Watcher
	stale    atomic.Bool
	callback func()
	logger   *slog.Logger
}

// NewHeadWatcher creates a watcher over a repository's .git directory.
// Worktree .git files are resolved to the real git directory. The
// optional callback fires on every detected HEAD change.
func NewHeadWatcher(repoRoot string, callback func(), logger *slog.Logger) (*HeadWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	gitDir, err := resolveGitDir(filepath.Join(repoRoot, ".git"))
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &HeadWatcher{
		gitDir:   gitDir,
		watcher:  watcher,
		callback: callback,
		logger:   logger,
	}, nil
}

// Start watches HEAD, refs/heads, and packed-refs until the context is
// cancelled. Missing watch targets degrade to a warning; a repository
// that never moves simply never fires.
func (w *HeadWatcher) Start(ctx context.Context) {
	if err := w.watcher.Add(filepath.Join(w.gitDir, "HEAD")); err != nil {
		w.logger.Warn("failed to watch git HEAD", "git_dir", w.gitDir, "error", err)
	}
	for _, rel := range []string{filepath.Join("refs", "heads"), "packed-refs"} {
		path := filepath.Join(w.gitDir, rel)
		if _, err := os.Stat(path); err == nil {
			if err := w.watcher.Add(path); err != nil {
				w.logger.Debug("failed to watch git path", "path", path, "error", err)
			}
		}
	}
	w.logger.Debug("watching git HEAD", "git_dir", w.gitDir)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("git HEAD watcher error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

func (w *HeadWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	w.logger.Info("git HEAD changed externally, baseline is stale", "path", event.Name)
	w.stale.Store(true)
	if w.callback != nil {
		w.callback()
	}
}

// Stale reports whether HEAD has moved since the last Reset.
func (w *HeadWatcher) Stale() bool {
	return w.stale.Load()
}

// Reset clears the stale flag, after the caller has re-anchored its
// baseline.
func (w *HeadWatcher) Reset() {
	w.stale.Store(false)
}

// Stop releases the underlying watcher. Safe to call more than once.
func (w *HeadWatcher) Stop() error {
	return w.watcher.Close()
}

// resolveGitDir follows a worktree's .git file to the real directory.
func resolveGitDir(gitPath string) (string, error) {
	info, err := os.Stat(gitPath)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return gitPath, nil
	}
	content, err := os.ReadFile(gitPath)
	if err != nil {
		return "", err
	}
	rest, ok := strings.CutPrefix(strings.TrimSpace(string(content)), "gitdir: ")
	if !ok {
		return "", os.ErrInvalid
	}
	return rest, nil
}
