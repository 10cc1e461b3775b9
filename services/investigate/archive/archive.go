// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package archive persists completed investigation results in BadgerDB.
//
// Storage layout:
//
//	investigate/result/v1/{conversationID}  →  JSON-encoded pipeline.Result
//	                                           TTL: 30 days by default
//
// Expired keys return ErrKeyNotFound, which Load treats as a miss.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianInvestigate/services/investigate/pipeline"
)

// DefaultTTL is the lifetime of an archived result.
const DefaultTTL = 30 * 24 * time.Hour

// keyPrefix is versioned to allow format changes without collision.
const keyPrefix = "investigate/result/v1/"

var errMiss = errors.New("archive miss")

// Config selects where results are stored.
type Config struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string `yaml:"path"`

	// TTL is the lifetime of each entry. Zero means DefaultTTL.
	TTL time.Duration `yaml:"ttl"`

	// InMemory keeps everything in RAM; used by tests and ephemeral runs.
	InMemory bool `yaml:"in_memory"`
}

// Store archives pipeline results.
//
// # Description
//
// Store implements pipeline.ResultArchive. Save is called by the
// orchestrator after a successful consolidation. Load serves the
// investigation lookup endpoint.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions are per-goroutine.
type Store struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger
}

var _ pipeline.ResultArchive = (*Store)(nil)

// Open opens (or creates) the archive.
//
// # Inputs
//
//   - cfg: Location and TTL. Path must be set unless InMemory is true.
//   - logger: May be nil.
//
// # Outputs
//
//   - *Store: Ready store. Caller must Close it.
//   - error: Non-nil if the DB cannot be opened.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Path == "":
		return nil, errors.New("archive: path is required")
	default:
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("archive: open badger: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger.Info("archive opened",
		slog.String("path", cfg.Path),
		slog.Bool("in_memory", cfg.InMemory),
		slog.Duration("ttl", ttl),
	)
	return &Store{db: db, ttl: ttl, logger: logger}, nil
}

// Close releases the underlying DB.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes result under its conversation id, replacing any earlier entry.
func (s *Store) Save(ctx context.Context, result *pipeline.Result) error {
	if result == nil || result.ConversationID == "" {
		return errors.New("archive: result must carry a conversation id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("archive: encode: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key(result.ConversationID), raw).WithTTL(s.ttl))
	})
	if err != nil {
		return fmt.Errorf("archive: save %s: %w", result.ConversationID, err)
	}

	s.logger.Debug("archive: saved",
		slog.String("conversation_id", result.ConversationID),
		slog.Int("bytes", len(raw)),
	)
	return nil
}

// Load returns the archived result for conversationID.
//
// Returns (nil, nil) when nothing is stored or the entry has expired.
func (s *Store) Load(ctx context.Context, conversationID string) (*pipeline.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(conversationID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errMiss
		}
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, errMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archive: load %s: %w", conversationID, err)
	}

	var result pipeline.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("archive: decode %s: %w", conversationID, err)
	}
	return &result, nil
}

// IDs lists archived conversation ids in key order, at most limit entries.
// A limit <= 0 returns all of them.
func (s *Store) IDs(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			ids = append(ids, string(it.Item().Key()[len(keyPrefix):]))
			if limit > 0 && len(ids) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	return ids, nil
}

func key(conversationID string) []byte {
	return []byte(keyPrefix + conversationID)
}
