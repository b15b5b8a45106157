package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LogFileExt is the encrypted log file extension.
const LogFileExt = ".nxt"

// FileInfo describes one log file for the file browser.
type FileInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
}

// Store wraps the log directory on the removable medium. It owns presence
// and writability probing plus file naming and listing; the nxt.Writer owns
// the open handle itself.
type Store struct {
	dir string
}

// New creates a Store for dir. The directory may not exist yet — Probe
// reports that as not-ready rather than an error class of its own.
func New(dir string) *Store { return &Store{dir: dir} }

// Dir returns the log directory path.
func (s *Store) Dir() string { return s.dir }

// Probe verifies the medium is present and writable. A probe file is
// created and removed because a pulled card can keep answering stat from
// cache while every write fails.
func (s *Store) Probe() error {
	fi, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("storage probe %s: %w", s.dir, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("storage probe %s: not a directory", s.dir)
	}
	probe := filepath.Join(s.dir, ".probe")
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("storage probe %s: %w", s.dir, err)
	}
	_, werr := f.Write([]byte{0})
	cerr := f.Close()
	_ = os.Remove(probe)
	if werr != nil {
		return fmt.Errorf("storage probe %s: %w", s.dir, werr)
	}
	if cerr != nil {
		return fmt.Errorf("storage probe %s: %w", s.dir, cerr)
	}
	return nil
}

// List returns the log files in the directory, newest name last.
func (s *Store) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("storage list %s: %w", s.dir, err)
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !strings.HasSuffix(e.Name(), LogFileExt) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileInfo{Name: e.Name(), Size: fi.Size(), ModTime: fi.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Resolve maps a client-supplied file name to a path inside the log
// directory, rejecting traversal.
func (s *Store) Resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("storage: invalid file name %q", name)
	}
	if !strings.HasSuffix(name, LogFileExt) {
		return "", fmt.Errorf("storage: not a log file %q", name)
	}
	return filepath.Join(s.dir, name), nil
}

// FileName derives the timestamp-based log file name used at create and
// rollover time.
func FileName(t time.Time) string {
	return "log-" + t.Format("20060102-150405") + LogFileExt
}
