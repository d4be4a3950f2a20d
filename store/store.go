// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when no artifacts exist for a hash.
var ErrNotFound = errors.New("store: artifacts not found")

const artifactPrefix = "artifacts:"

// Store persists analysis artifacts keyed by repository state hash.
//
// Thread Safety: safe for concurrent use.
type Store struct {
	db     *DB
	logger *slog.Logger
}

// New creates a store over an open database.
func New(db *DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Put writes the artifacts for their repository state hash.
//
// Description:
//
//	Artifacts are content-addressed, so overwriting an existing entry
//	with the same hash is a harmless no-op semantically; the write
//	still happens to refresh the value log.
func (s *Store) Put(ctx context.Context, artifacts *Artifacts) error {
	if artifacts.RepoStateHash == "" {
		return errors.New("store: artifacts missing repo state hash")
	}
	start := time.Now()

	data, err := json.Marshal(artifacts)
	if err != nil {
		return fmt.Errorf("encoding artifacts: %w", err)
	}
	key := []byte(artifactPrefix + artifacts.RepoStateHash)
	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("writing artifacts %s: %w", artifacts.RepoStateHash, err)
	}

	recordStoreOp(ctx, "put", start)
	s.logger.Debug("artifacts stored",
		"hash", artifacts.RepoStateHash,
		"bytes", len(data),
		"symbols", len(artifacts.Graph.Symbols),
		"edges", len(artifacts.Graph.Edges))
	return nil
}

// Get loads the artifacts for a repository state hash.
//
// Errors:
//
//	ErrNotFound when no entry exists for the hash. A decode failure is
//	reported as its own error; the caller treats both as a cache miss.
func (s *Store) Get(ctx context.Context, repoStateHash string) (*Artifacts, error) {
	start := time.Now()

	var data []byte
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(artifactPrefix + repoStateHash))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, repoStateHash)
		}
		return nil, fmt.Errorf("reading artifacts %s: %w", repoStateHash, err)
	}

	var artifacts Artifacts
	if err := json.Unmarshal(data, &artifacts); err != nil {
		return nil, fmt.Errorf("decoding artifacts %s: %w", repoStateHash, err)
	}

	recordStoreOp(ctx, "get", start)
	return &artifacts, nil
}

// Has reports whether artifacts exist for a hash without decoding them.
func (s *Store) Has(ctx context.Context, repoStateHash string) (bool, error) {
	found := false
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(artifactPrefix + repoStateHash))
		if err == nil {
			found = true
			return nil
		}
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	return found, err
}

// Delete removes the artifacts for a hash. Missing entries are not an
// error.
func (s *Store) Delete(ctx context.Context, repoStateHash string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Delete([]byte(artifactPrefix + repoStateHash))
	})
}

// Hashes returns every stored repository state hash, for pruning.
func (s *Store) Hashes(ctx context.Context) ([]string, error) {
	var hashes []string
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(artifactPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			hashes = append(hashes, key[len(artifactPrefix):])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hashes, nil
}
