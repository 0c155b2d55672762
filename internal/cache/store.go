// Relaymap - Tor Relay Network Statistics and Aggregation
// Copyright 2026 Relaymap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymap/relaymap

// Package cache persists the last successfully fetched document per source.
//
// Layout on disk, one pair of files per source key:
//
//	<dir>/<key>.json  - the document verbatim as fetched
//	<dir>/<key>.token - the conditional-request token as plain text
//
// Absence of either file is a cache miss, not an error. The store is the
// fallback that lets a run degrade gracefully when a remote source fails.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Entry is one cached document plus its fetch metadata.
type Entry struct {
	Key       string
	Document  []byte
	FetchedAt time.Time
}

// Store reads and writes per-source cache entries under a single directory.
// Methods are safe for concurrent use across distinct keys; the ingestion
// layer guarantees one writer per key.
type Store struct {
	dir string
}

// NewStore creates the cache directory if needed and returns a store over it.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("cache directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Load returns the cached document for key, or ok=false on a cache miss.
func (s *Store) Load(key string) (*Entry, bool, error) {
	path := s.documentPath(key)

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("stat cached document %s: %w", key, err)
	}

	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("read cached document %s: %w", key, err)
	}

	return &Entry{Key: key, Document: doc, FetchedAt: info.ModTime()}, true, nil
}

// Save writes the document for key, replacing any previous entry.
// The write goes through a temp file and rename so a crashed run never
// leaves a truncated document behind.
func (s *Store) Save(key string, document []byte) error {
	return s.writeAtomic(s.documentPath(key), document)
}

// Token returns the stored conditional-request token for key, or "" when
// none has been recorded.
func (s *Store) Token(key string) string {
	data, err := os.ReadFile(s.tokenPath(key))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// SaveToken records the conditional-request token for key. An empty token
// removes the stored one.
func (s *Store) SaveToken(key, token string) error {
	path := s.tokenPath(key)
	if token == "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove token %s: %w", key, err)
		}
		return nil
	}
	return s.writeAtomic(path, []byte(token))
}

func (s *Store) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func (s *Store) documentPath(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *Store) tokenPath(key string) string {
	return filepath.Join(s.dir, key+".token")
}
