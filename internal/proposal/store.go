package proposal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// On-disk layout, one directory per proposal:
//
//	<root>/<stamp>_<slug>/
//	    title.txt   human title
//	    status.txt  pending|applied|failed (absent or unrecognized = unknown)
//	    cmd.sh      opaque payload, byte-identical to the creation input
//	    log.txt     combined payload output, written by the executor
//
// Directory names starting with "_" are archived and excluded from listing.
// The format is load-bearing: external tooling reads these files directly.

const (
	titleFile   = "title.txt"
	statusFile  = "status.txt"
	payloadFile = "cmd.sh"
	logFile     = "log.txt"
)

// ErrInvalidInput is returned for a creation request with no usable payload.
var ErrInvalidInput = errors.New("proposal: empty payload")

// ErrNotFound is returned when the referenced proposal directory is missing.
var ErrNotFound = errors.New("proposal: not found")

// Store is a directory-backed proposal collection. Creators append, the
// executor mutates status; there is no other writer, so no file locking is
// needed at this granularity.
type Store struct {
	root string
}

func NewStore(root string) *Store { return &Store{root: root} }

// Root returns the store's base directory.
func (s *Store) Root() string { return s.root }

// Dir returns the directory of a proposal id.
func (s *Store) Dir(id string) string { return filepath.Join(s.root, id) }

// PayloadPath returns the path of the payload script for id.
func (s *Store) PayloadPath(id string) string { return filepath.Join(s.root, id, payloadFile) }

// LogPath returns the path the executor writes payload output to.
func (s *Store) LogPath(id string) string { return filepath.Join(s.root, id, logFile) }

// Create allocates an identifier, writes the record with status pending and
// stores the payload verbatim. Whitespace-only payloads are rejected before
// anything is written.
func (s *Store) Create(title, payload string) (string, error) {
	if strings.TrimSpace(payload) == "" {
		return "", ErrInvalidInput
	}
	id := NewID(time.Now(), title)
	dir := s.Dir(id)
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return "", err
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("proposal %s: %w", id, err)
	}
	if err := os.WriteFile(filepath.Join(dir, titleFile), []byte(title+"\n"), 0o644); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, statusFile), []byte(string(StatusPending)+"\n"), 0o644); err != nil {
		return "", err
	}
	// #nosec G306 -- the payload is executed as a script
	if err := os.WriteFile(filepath.Join(dir, payloadFile), []byte(payload), 0o755); err != nil {
		return "", err
	}
	return id, nil
}

// List returns all non-archived proposals ordered newest first.
func (s *Store) List() ([]Proposal, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Proposal, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), "_") {
			continue
		}
		p, err := s.load(e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// Get loads a single proposal by id.
func (s *Store) Get(id string) (Proposal, error) {
	if _, err := os.Stat(s.Dir(id)); err != nil {
		if os.IsNotExist(err) {
			return Proposal{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Proposal{}, err
	}
	return s.load(id)
}

// GetStatus returns the stored status of id. A record with no status marker
// reads as StatusUnknown.
func (s *Store) GetStatus(id string) (Status, error) {
	p, err := s.Get(id)
	if err != nil {
		return StatusUnknown, err
	}
	return p.Status, nil
}

// SetStatus overwrites the status token. Called only by the executor, and
// only with terminal states.
func (s *Store) SetStatus(id string, st Status) error {
	if _, err := os.Stat(s.Dir(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return err
	}
	return os.WriteFile(filepath.Join(s.Dir(id), statusFile), []byte(string(st)+"\n"), 0o644)
}

// ReadPayload returns the stored payload bytes.
func (s *Store) ReadPayload(id string) ([]byte, error) {
	b, err := os.ReadFile(s.PayloadPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return b, nil
}

// HasPending reports whether any non-archived proposal is pending.
func (s *Store) HasPending() (bool, error) {
	list, err := s.List()
	if err != nil {
		return false, err
	}
	for _, p := range list {
		if p.Status == StatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) load(id string) (Proposal, error) {
	dir := s.Dir(id)
	p := Proposal{ID: id, Status: StatusUnknown}
	if t, ok := CreatedAtFromID(id); ok {
		p.CreatedAt = t
	}
	if b, err := os.ReadFile(filepath.Join(dir, titleFile)); err == nil {
		p.Title = strings.TrimSpace(string(b))
	}
	if b, err := os.ReadFile(filepath.Join(dir, statusFile)); err == nil {
		p.Status = ParseStatus(string(b))
	}
	if _, err := os.Stat(filepath.Join(dir, logFile)); err == nil {
		p.LogPath = filepath.Join(dir, logFile)
	}
	return p, nil
}
