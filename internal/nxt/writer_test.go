package nxt

import (
	"bufio"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"
)

const testHeader = "ID,Data"

func newTestWriter(t *testing.T, dir string, mod func(*WriterConfig)) *Writer {
	t.Helper()
	cfg := WriterConfig{
		Dir:        dir,
		Key:        DefaultKey,
		HeaderLine: testHeader,
	}
	if mod != nil {
		mod(&cfg)
	}
	return NewWriter(cfg)
}

func decodeLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	r, err := NewReader(f, DefaultKey)
	if err != nil {
		t.Fatalf("reader %s: %v", path, err)
	}
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan %s: %v", path, err)
	}
	return lines
}

func logFiles(t *testing.T, dir string) []string {
	t.Helper()
	m, err := filepath.Glob(filepath.Join(dir, "*.nxt"))
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(m)
	return m
}

func TestWriterCreateWriteDecode(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir, nil)
	if err := w.WriteLine([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("write before create: got %v", err)
	}
	if err := w.Create(); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, l := range []string{"1A3,AB", "7FF,00", "123,FF"} {
		if err := w.WriteLine([]byte(l)); err != nil {
			t.Fatalf("write %q: %v", l, err)
		}
	}
	if w.Records() != 3 {
		t.Fatalf("records = %d", w.Records())
	}
	path := w.Path()
	w.Close()
	if w.IsOpen() || w.Path() != "" {
		t.Fatal("writer still open after Close")
	}

	lines := decodeLines(t, path)
	want := []string{testHeader, "1A3,AB", "7FF,00", "123,FF"}
	if len(lines) != len(want) {
		t.Fatalf("decoded %d lines, want %d: %q", len(lines), len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d: got %q want %q", i, lines[i], want[i])
		}
	}
}

func TestWriterRolloverDistinctNonces(t *testing.T) {
	dir := t.TempDir()
	// Tight threshold: every record pushes the file past the limit.
	w := newTestWriter(t, dir, func(c *WriterConfig) { c.MaxFileBytes = int64(HeaderSize + len(testHeader) + 2) })
	if err := w.Create(); err != nil {
		t.Fatalf("create: %v", err)
	}
	first := w.Path()
	for i := 0; i < 3; i++ {
		if err := w.WriteLine([]byte("1,00")); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if w.Path() == first {
		t.Fatal("expected rollover to a new file")
	}
	w.Close()

	files := logFiles(t, dir)
	if len(files) != 4 { // 3 rolled files + the freshly created successor
		t.Fatalf("expected 4 files, got %d: %v", len(files), files)
	}
	nonces := map[uint32]bool{}
	for _, p := range files {
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatal(err)
		}
		nonce, err := ParseHeader(data)
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		nonces[nonce] = true
	}
	if len(nonces) != len(files) {
		t.Fatalf("nonce reuse across files: %v", nonces)
	}
	// Every rolled file is independently decodable.
	for _, p := range files[:3] {
		lines := decodeLines(t, p)
		if len(lines) == 0 || lines[0] != testHeader {
			t.Fatalf("%s: bad decode %q", p, lines)
		}
	}
}

func TestWriterNameCollisionSuffix(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir, func(c *WriterConfig) {
		c.NameFunc = func(time.Time) string { return "log.nxt" }
	})
	if err := w.Create(); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := w.Create(); err != nil {
		t.Fatalf("second create: %v", err)
	}
	if got := filepath.Base(w.Path()); got != "log-1.nxt" {
		t.Fatalf("collision name: got %q", got)
	}
}

func TestWriterWithFileClosed(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir, nil)
	if err := w.Create(); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := w.WriteLine([]byte("before,01")); err != nil {
		t.Fatal(err)
	}

	var snapshot []byte
	err := w.WithFileClosed(func(path string) error {
		var err error
		snapshot, err = os.ReadFile(path)
		return err
	})
	if err != nil {
		t.Fatalf("with file closed: %v", err)
	}
	// The snapshot is a complete decodable prefix.
	r, err := NewReader(bytes.NewReader(snapshot), DefaultKey)
	if err != nil {
		t.Fatalf("snapshot reader: %v", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != testHeader+"\nbefore,01\n" {
		t.Fatalf("snapshot decode: %q", got)
	}

	// Appends resume with the keystream intact.
	if err := w.WriteLine([]byte("after,02")); err != nil {
		t.Fatalf("write after reopen: %v", err)
	}
	path := w.Path()
	w.Close()
	lines := decodeLines(t, path)
	if len(lines) != 3 || lines[2] != "after,02" {
		t.Fatalf("final decode: %q", lines)
	}
}

func TestWriterWithFileClosedIfGuardsPath(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir, nil)
	if err := w.Create(); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := w.WriteLine([]byte("a,01")); err != nil {
		t.Fatal(err)
	}

	// A stale path, e.g. left over from a rollover between the caller's
	// lookup and the call, must not close the current file.
	stale := filepath.Join(dir, "stale.nxt")
	err := w.WithFileClosedIf(stale, func(string) error {
		t.Fatal("fn ran for a non-active path")
		return nil
	})
	if !errors.Is(err, ErrNotActive) {
		t.Fatalf("stale path: got %v", err)
	}
	if !w.IsOpen() {
		t.Fatal("writer closed by a non-active request")
	}

	ran := false
	err = w.WithFileClosedIf(w.Path(), func(p string) error {
		ran = true
		_, serr := os.Stat(p)
		return serr
	})
	if err != nil || !ran {
		t.Fatalf("active path: err=%v ran=%v", err, ran)
	}
	if err := w.WriteLine([]byte("b,02")); err != nil {
		t.Fatalf("write after reopen: %v", err)
	}
	w.Close()

	if err := w.WithFileClosedIf(stale, func(string) error { return nil }); !errors.Is(err, ErrNotActive) {
		t.Fatalf("closed writer: got %v", err)
	}
}

func TestWriterWithFileClosedPropagatesFnError(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir, nil)
	if err := w.Create(); err != nil {
		t.Fatal(err)
	}
	sentinel := errors.New("boom")
	if err := w.WithFileClosed(func(string) error { return sentinel }); !errors.Is(err, sentinel) {
		t.Fatalf("got %v", err)
	}
	if !w.IsOpen() {
		t.Fatal("writer should have reopened after fn error")
	}
	w.Close()
}

func TestReaderRejectsGarbage(t *testing.T) {
	if _, err := NewReader(strings.NewReader("not a log file at all"), DefaultKey); err == nil {
		t.Fatal("expected header error")
	}
	if _, err := NewReader(strings.NewReader("NX"), DefaultKey); !errors.Is(err, ErrShortHeader) {
		t.Fatalf("got %v", err)
	}
}

func TestDecodeFile(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir, nil)
	if err := w.Create(); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteLine([]byte("100,AA")); err != nil {
		t.Fatal(err)
	}
	path := w.Path()
	w.Close()
	var out bytes.Buffer
	if err := DecodeFile(path, DefaultKey, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.String() != testHeader+"\n100,AA\n" {
		t.Fatalf("decode output: %q", out.String())
	}
}
