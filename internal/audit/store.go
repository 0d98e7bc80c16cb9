// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

// Package audit persists every published bus event to an append-only
// BadgerDB log. The core only writes; the one read path is the operator
// listing endpoint. Entries expire via Badger TTL rather than explicit
// compaction.
package audit

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/reclaimarr/reclaimarr/internal/metrics"
)

const (
	entryKeyPrefix    = "audit:"
	sequenceKey       = "audit-seq"
	sequenceBandwidth = 128
)

// Entry is one persisted event with its storage sequence number. The
// sequence is storage-local and distinct from the bus's per-topic sequence.
type Entry struct {
	Sequence uint64          `json:"sequence"`
	Event    json.RawMessage `json:"event"`
}

// StoreConfig holds audit store tuning.
type StoreConfig struct {
	// Path is the Badger directory. Empty means in-memory (tests).
	Path string

	// Retention is the TTL applied to each entry. Zero keeps entries
	// forever.
	Retention time.Duration
}

// Store is the Badger-backed append-only event log.
type Store struct {
	db        *badger.DB
	seq       *badger.Sequence
	retention time.Duration
}

// Open opens or creates the audit store at the configured path.
func Open(cfg StoreConfig) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.Path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open audit sequence: %w", err)
	}

	return &Store{db: db, seq: seq, retention: cfg.Retention}, nil
}

// Append persists one serialized event under the next sequence number.
func (s *Store) Append(data []byte) error {
	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("next audit sequence: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(entryKey(n), data)
		if s.retention > 0 {
			entry = entry.WithTTL(s.retention)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		metrics.AuditErrors.Inc()
		return fmt.Errorf("append audit entry: %w", err)
	}

	metrics.AuditAppends.Inc()
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(entryKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration needs a seek key past the end of the prefix
		// range.
		seek := append([]byte(entryKeyPrefix), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		for it.Seek(seek); it.ValidForPrefix([]byte(entryKeyPrefix)) && len(entries) < limit; it.Next() {
			item := it.Item()
			n := sequenceFromKey(item.Key())
			if err := item.Value(func(val []byte) error {
				entries = append(entries, Entry{
					Sequence: n,
					Event:    json.RawMessage(append([]byte(nil), val...)),
				})
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

// Close releases the sequence lease and closes the database.
func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		_ = s.db.Close()
		return fmt.Errorf("release audit sequence: %w", err)
	}
	return s.db.Close()
}

func entryKey(n uint64) []byte {
	key := make([]byte, len(entryKeyPrefix)+8)
	copy(key, entryKeyPrefix)
	binary.BigEndian.PutUint64(key[len(entryKeyPrefix):], n)
	return key
}

func sequenceFromKey(key []byte) uint64 {
	if len(key) != len(entryKeyPrefix)+8 {
		return 0
	}
	return binary.BigEndian.Uint64(key[len(entryKeyPrefix):])
}
