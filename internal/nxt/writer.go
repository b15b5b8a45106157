package nxt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nxtlog/canlogd/internal/logging"
	"github.com/nxtlog/canlogd/internal/metrics"
)

// ErrClosed is returned by WriteLine when no file is open. The orchestrator
// reacts by recreating a file; the writer never buffers across a close.
var ErrClosed = errors.New("nxt: writer closed")

// ErrNotActive is returned by WithFileClosedIf when the requested path is
// not the file currently open for append. The caller can read it directly;
// it is final on disk.
var ErrNotActive = errors.New("nxt: not the active file")

// WriterConfig carries the file policy knobs. The flush and size thresholds
// are deployment configuration, not format constants.
type WriterConfig struct {
	// Dir is the log directory on the removable medium.
	Dir string
	// Key is the static cipher key.
	Key Key
	// MaxFileBytes triggers rollover once the file reaches this size.
	// 0 disables rollover.
	MaxFileBytes int64
	// FlushEvery syncs the file after this many records. Bounds loss on
	// power cut without paying a sync per record.
	FlushEvery int
	// ForceFlushFirst syncs each of the first N records individually so a
	// bad medium fails loudly right after create, not records later.
	ForceFlushFirst int
	// HeaderLine is the plaintext CSV column header (no newline). It is the
	// first encrypted line of every file.
	HeaderLine string
	// NameFunc derives a file name from the creation time.
	NameFunc func(time.Time) string
	// Now supplies the clock (tests override).
	Now func() time.Time
}

const (
	defaultFlushEvery      = 20
	defaultForceFlushFirst = 5
)

// Writer owns one open log file: its handle, cipher state, byte counter and
// flush bookkeeping. All methods are safe for concurrent use; the
// close-for-read sequence in WithFileClosed excludes writes for its whole
// duration.
type Writer struct {
	cfg WriterConfig

	mu         sync.Mutex
	f          *os.File
	cipher     *Cipher
	nonce      uint32
	path       string
	size       int64
	records    uint64
	sinceFlush int
	open       bool
}

// NewWriter builds a Writer in the Closed state. Create opens the first file.
func NewWriter(cfg WriterConfig) *Writer {
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = defaultFlushEvery
	}
	if cfg.ForceFlushFirst < 0 {
		cfg.ForceFlushFirst = defaultForceFlushFirst
	}
	if cfg.NameFunc == nil {
		cfg.NameFunc = func(t time.Time) string {
			return "log-" + t.Format("20060102-150405") + ".nxt"
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Writer{cfg: cfg}
}

// Create opens a fresh log file: new nonce, plain 16-byte header, encrypted
// CSV header line, initial flush. Any previously open file is closed first.
func (w *Writer) Create() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.open {
		w.closeLocked(true)
	}
	return w.createLocked()
}

func (w *Writer) createLocked() error {
	nonce := NewNonce()
	now := w.cfg.Now()
	base := w.cfg.NameFunc(now)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]

	var f *os.File
	var path string
	for i := 0; ; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s-%d%s", stem, i, ext)
		}
		path = filepath.Join(w.cfg.Dir, name)
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			break
		}
		if !os.IsExist(err) || i >= 999 {
			metrics.IncError(metrics.ErrFileCreate)
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	hdr := EncodeHeader(nonce)
	line := append([]byte(w.cfg.HeaderLine), '\n')
	cipher := NewCipher(nonce, w.cfg.Key)
	cipher.XORKeyStream(line)
	if _, err := f.Write(hdr[:]); err == nil {
		_, err = f.Write(line)
		if err == nil {
			err = f.Sync()
		}
		if err != nil {
			_ = f.Close()
			metrics.IncError(metrics.ErrFileCreate)
			return fmt.Errorf("write header %s: %w", path, err)
		}
	} else {
		_ = f.Close()
		metrics.IncError(metrics.ErrFileCreate)
		return fmt.Errorf("write header %s: %w", path, err)
	}

	w.f = f
	w.cipher = cipher
	w.nonce = nonce
	w.path = path
	w.size = int64(HeaderSize + len(line))
	w.records = 0
	w.sinceFlush = 0
	w.open = true
	metrics.IncFileCreated()
	metrics.SetFileBytes(w.size)
	logging.L().Info("file_created", "path", path, "nonce", nonce)
	return nil
}

// WriteLine encrypts one CSV record line (no trailing newline in the input;
// the terminator is appended and encrypted here) and appends it to the open
// file. A failed write closes the file — the record is dropped and the
// orchestrator decides on recovery.
func (w *Writer) WriteLine(line []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.open {
		return ErrClosed
	}

	buf := make([]byte, len(line)+1)
	copy(buf, line)
	buf[len(line)] = '\n'
	w.cipher.XORKeyStream(buf)

	n, err := w.f.Write(buf)
	w.size += int64(n)
	if err != nil {
		metrics.IncError(metrics.ErrFileWrite)
		w.closeLocked(false)
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	w.records++

	// Flush policy: first records individually, then every FlushEvery.
	if w.records <= uint64(w.cfg.ForceFlushFirst) {
		if err := w.syncLocked(); err != nil {
			w.closeLocked(false)
			return err
		}
	} else {
		w.sinceFlush++
		if w.sinceFlush >= w.cfg.FlushEvery {
			if err := w.syncLocked(); err != nil {
				w.closeLocked(false)
				return err
			}
			w.sinceFlush = 0
		}
	}
	metrics.SetFileBytes(w.size)

	if w.cfg.MaxFileBytes > 0 && w.size >= w.cfg.MaxFileBytes {
		prev := w.path
		w.closeLocked(true)
		metrics.IncRollover()
		if err := w.createLocked(); err != nil {
			// The record above is already durable; stay Closed and let the
			// orchestrator's next write or probe drive recovery.
			logging.L().Warn("rollover_create_failed", "prev", prev, "error", err)
			return nil
		}
		logging.L().Info("file_rollover", "prev", prev, "next", w.path)
	}
	return nil
}

func (w *Writer) syncLocked() error {
	if err := w.f.Sync(); err != nil {
		metrics.IncError(metrics.ErrFileFlush)
		return fmt.Errorf("flush %s: %w", w.path, err)
	}
	metrics.IncFlush()
	return nil
}

// Close flushes and releases the file. Idempotent.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.open {
		w.closeLocked(true)
	}
}

func (w *Writer) closeLocked(sync bool) {
	if w.f != nil {
		if sync {
			_ = w.f.Sync()
		}
		_ = w.f.Close()
		w.f = nil
		logging.L().Info("file_closed", "path", w.path, "bytes", w.size, "records", w.records)
	}
	w.open = false
}

// WithFileClosed runs fn while the active file is flushed and closed, then
// reopens it for append. The byte counter is resynced from the on-disk size
// rather than trusted, guarding against anything fn (or the medium) did in
// between. No WriteLine proceeds while fn runs.
func (w *Writer) WithFileClosed(fn func(path string) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.open {
		return ErrClosed
	}
	return w.withFileClosedLocked(fn)
}

// WithFileClosedIf is WithFileClosed gated on path still being the open
// file. The comparison happens under the writer lock, so a rollover between
// the caller's path lookup and this call cannot swap in the wrong file.
func (w *Writer) WithFileClosedIf(path string, fn func(path string) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.open || w.path != path {
		return ErrNotActive
	}
	return w.withFileClosedLocked(fn)
}

func (w *Writer) withFileClosedLocked(fn func(path string) error) error {
	if err := w.f.Sync(); err != nil {
		metrics.IncError(metrics.ErrFileFlush)
		w.closeLocked(false)
		return fmt.Errorf("flush before read %s: %w", w.path, err)
	}
	_ = w.f.Close()
	w.f = nil

	fnErr := fn(w.path)

	f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		metrics.IncError(metrics.ErrFileReopen)
		w.open = false
		return fmt.Errorf("reopen %s: %w", w.path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		metrics.IncError(metrics.ErrFileReopen)
		w.open = false
		return fmt.Errorf("stat %s: %w", w.path, err)
	}
	w.f = f
	w.size = fi.Size()
	metrics.SetFileBytes(w.size)
	return fnErr
}

// IsOpen reports whether a file is accepting writes.
func (w *Writer) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}

// Path returns the active file path ("" when closed).
func (w *Writer) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.open {
		return ""
	}
	return w.path
}

// Size returns the active file byte count.
func (w *Writer) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Nonce returns the active file's nonce.
func (w *Writer) Nonce() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nonce
}

// Records returns the record count of the active file.
func (w *Writer) Records() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.records
}
