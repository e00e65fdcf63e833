// Package snapshot captures and restores the critical-file set around a
// guarded apply. A snapshot is a timestamped directory of file copies plus a
// manifest recording original paths and modes, so a restore can put back
// exact prior byte content.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// ErrRollbackFailed wraps any restore copy failure. A failed restore leaves
// the system in an undefined file state; it must surface loudly and is never
// silently swallowed.
var ErrRollbackFailed = errors.New("snapshot: rollback failed")

const manifestFile = "manifest.json"

// entry records one captured file inside the manifest.
type entry struct {
	Name     string `json:"name"`      // file name inside the snapshot dir
	Original string `json:"original"`  // absolute source path
	Mode     uint32 `json:"mode"`
}

// Manager creates snapshot sets under a backup root. Snapshots are retained
// indefinitely for forensics; pruning is a manual operation.
type Manager struct {
	root string
}

func NewManager(root string) *Manager { return &Manager{root: root} }

// Dir returns the directory of a snapshot id.
func (m *Manager) Dir(id string) string { return filepath.Join(m.root, id) }

// Capture copies each existing file in files into a fresh timestamped
// directory and returns its id. Missing files are skipped without error:
// on a fresh install some critical files may not exist yet.
func (m *Manager) Capture(files []string) (string, error) {
	id := time.Now().Format("20060102-150405.000000000")
	dir := m.Dir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	entries := make([]entry, 0, len(files))
	for i, src := range files {
		st, err := os.Stat(src)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		name := fmt.Sprintf("%03d_%s", i, filepath.Base(src))
		if err := copyFile(src, filepath.Join(dir, name), st.Mode()); err != nil {
			return "", err
		}
		entries = append(entries, entry{Name: name, Original: src, Mode: uint32(st.Mode().Perm())})
	}
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), b, 0o644); err != nil {
		return "", err
	}
	return id, nil
}

// Restore copies every captured file back to its original location. The
// first copy failure aborts the whole restore and surfaces as
// ErrRollbackFailed; a restore is never partially reported as success.
func (m *Manager) Restore(id string) error {
	dir := m.Dir(id)
	b, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return fmt.Errorf("%w: read manifest for %s: %v", ErrRollbackFailed, id, err)
	}
	var entries []entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return fmt.Errorf("%w: decode manifest for %s: %v", ErrRollbackFailed, id, err)
	}
	for _, e := range entries {
		if err := copyFile(filepath.Join(dir, e.Name), e.Original, fs.FileMode(e.Mode)); err != nil {
			return fmt.Errorf("%w: restore %s: %v", ErrRollbackFailed, e.Original, err)
		}
	}
	return nil
}

// Files returns the original paths captured in snapshot id.
func (m *Manager) Files(id string) ([]string, error) {
	b, err := os.ReadFile(filepath.Join(m.Dir(id), manifestFile))
	if err != nil {
		return nil, err
	}
	var entries []entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Original)
	}
	return out, nil
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src) // #nosec G304 -- paths come from operator config
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm()) // #nosec G304
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
