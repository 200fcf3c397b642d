// Package history persists the set of post cids that have already been
// delivered. The set only ever grows; deduplication across restarts depends
// on it being written back right after each successful delivery.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

type fileFormat struct {
	Cids []string
}

// Store is the delivered-cid set backed by a JSON file.
type Store struct {
	mu   sync.Mutex
	path string
	cids map[string]struct{}
}

func NewStore(path string) *Store {
	return &Store{
		path: path,
		cids: make(map[string]struct{}),
	}
}

// Load replaces the in-memory set with the file contents. A missing file is
// an empty history; a corrupt file is an error so we never proceed on
// partial data and redeliver half a history's worth of posts.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		log.Info("No history file found, starting with empty history")
		s.cids = make(map[string]struct{})
		return nil
	}
	if err != nil {
		return fmt.Errorf("error reading history file: %w", err)
	}

	var parsed fileFormat
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("error parsing history file: %w", err)
	}

	cids := make(map[string]struct{}, len(parsed.Cids))
	for _, cid := range parsed.Cids {
		cids[cid] = struct{}{}
	}
	s.cids = cids

	log.WithFields(log.Fields{
		"count": len(cids),
	}).Debug("Loaded processed post cids from history")

	return nil
}

// Contains reports whether the cid has been delivered before.
func (s *Store) Contains(cid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cids[cid]
	return ok
}

// Add marks a cid as delivered.
func (s *Store) Add(cid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cids[cid] = struct{}{}
}

// Len returns the number of delivered cids.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cids)
}

// Save writes the set back to the history file.
func (s *Store) Save() error {
	s.mu.Lock()
	cids := make([]string, 0, len(s.cids))
	for cid := range s.cids {
		cids = append(cids, cid)
	}
	s.mu.Unlock()

	sort.Strings(cids)

	data, err := json.MarshalIndent(fileFormat{Cids: cids}, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding history: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("error writing history file: %w", err)
	}

	log.WithFields(log.Fields{
		"count": len(cids),
	}).Debug("Saved processed cids to history file")

	return nil
}

// Clear truncates the history file and empties the in-memory set.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.cids = make(map[string]struct{})
	s.mu.Unlock()
	return s.Save()
}
