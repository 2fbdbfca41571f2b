// Package state remembers where the reader left off: the last library folder
// and the last page or line read in each document.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const (
	appName       = "panels"
	stateFileName = "reading_state.json"
	hashBytes     = 8192 // First 8KB for content hash
)

// Position is the saved place in one document. Comics use Page, text
// documents use Line.
type Position struct {
	Page int `json:"page,omitempty"`
	Line int `json:"line,omitempty"`
}

type fileState struct {
	LastFolder string              `json:"last_folder,omitempty"`
	Positions  map[string]Position `json:"positions"`
}

// StateStore manages persistent reading state
type StateStore struct {
	path string
	data fileState
	mu   sync.RWMutex
}

// NewStateStore creates or loads state from XDG_STATE_HOME/panels/
func NewStateStore() (*StateStore, error) {
	return OpenStateStore(Dir())
}

// OpenStateStore creates or loads state kept in dir.
func OpenStateStore(dir string) (*StateStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	store := &StateStore{
		path: filepath.Join(dir, stateFileName),
		data: fileState{Positions: make(map[string]Position)},
	}
	if err := store.load(); err != nil {
		// Non-fatal - start with empty state
		store.data = fileState{Positions: make(map[string]Position)}
	}
	if store.data.Positions == nil {
		store.data.Positions = make(map[string]Position)
	}
	return store, nil
}

// Dir returns XDG_STATE_HOME/panels or ~/.local/state/panels
func Dir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", appName)
}

// ComputeHash generates content hash for file identity
func ComputeHash(filename string) (string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, hashBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}

	hash := sha256.Sum256(buf[:n])
	return hex.EncodeToString(hash[:16]), nil // First 16 bytes = 32 hex chars
}

// GetPosition returns the saved position for a document hash.
func (s *StateStore) GetPosition(hash string) Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Positions[hash]
}

// SetPage saves the page reached in a comic.
func (s *StateStore) SetPage(hash string, page int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Positions[hash] = Position{Page: page}
	return s.save()
}

// SetLine saves the line reached in a text document.
func (s *StateStore) SetLine(hash string, line int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Positions[hash] = Position{Line: line}
	return s.save()
}

// Clear removes saved position for file
func (s *StateStore) Clear(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data.Positions, hash)
	return s.save()
}

// LastFolder returns the most recently opened library folder.
func (s *StateStore) LastFolder() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.LastFolder
}

// SetLastFolder records the most recently opened library folder.
func (s *StateStore) SetLastFolder(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.LastFolder == dir {
		return nil
	}
	s.data.LastFolder = dir
	return s.save()
}

func (s *StateStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &s.data)
}

func (s *StateStore) save() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}
