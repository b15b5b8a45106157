package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/nxtlog/canlogd/internal/can"
	"github.com/nxtlog/canlogd/internal/livebuf"
	"github.com/nxtlog/canlogd/internal/logger"
	"github.com/nxtlog/canlogd/internal/nxt"
	"github.com/nxtlog/canlogd/internal/record"
	"github.com/nxtlog/canlogd/internal/storage"
)

type fixture struct {
	srv  *httptest.Server
	live *livebuf.Buffer
	ctl  *logger.Logger
	dir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	writer := nxt.NewWriter(nxt.WriterConfig{
		Dir:        dir,
		Key:        nxt.DefaultKey,
		HeaderLine: record.HeaderLine(),
		NameFunc:   storage.FileName,
	})
	live := livebuf.New(16)
	store := storage.New(dir)
	ctl := logger.New(context.Background(), logger.Config{
		Writer: writer,
		Live:   live,
		Store:  store,
	})
	t.Cleanup(ctl.Close)

	s := New(
		WithLive(live),
		WithControl(ctl),
		WithStore(store),
		WithDefaultLimit(10),
		WithMaxLimit(50),
	)
	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return &fixture{srv: ts, live: live, ctl: ctl, dir: dir}
}

func (f *fixture) ingest(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		fr := can.Frame{ID: uint32(0x100 + i), DLC: 2, Data: [8]byte{0xAB, byte(i)}}
		f.ctl.HandleFrame(fr, time.Date(2024, 5, 12, 10, 30, 45, 0, time.UTC))
	}
	deadline := time.Now().Add(2 * time.Second)
	for f.ctl.Snapshot().FileRecords < uint64(n) {
		if time.Now().After(deadline) {
			t.Fatalf("records not persisted: %+v", f.ctl.Snapshot())
		}
		time.Sleep(time.Millisecond)
	}
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func TestLiveEndpoint(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, 3)

	var resp liveResponse
	getJSON(t, f.srv.URL+"/live?since=0", &resp)
	if resp.Latest != 3 {
		t.Fatalf("latest = %d", resp.Latest)
	}
	if resp.Boot != f.ctl.Boot() {
		t.Fatalf("boot = %d want %d", resp.Boot, f.ctl.Boot())
	}
	if len(resp.Frames) != 3 {
		t.Fatalf("frames = %d", len(resp.Frames))
	}
	first := resp.Frames[0]
	if first.Seq != 1 || first.ID != "100" || first.DLC != 2 {
		t.Fatalf("first frame: %+v", first)
	}
	if len(first.Data) != 2 || first.Data[0] != "AB" || first.Data[1] != "00" {
		t.Fatalf("data: %v", first.Data)
	}
	if first.Time != "2024-05-12 10:30:45" {
		t.Fatalf("time: %q", first.Time)
	}

	// Incremental poll from a cursor.
	getJSON(t, f.srv.URL+"/live?since=2", &resp)
	if len(resp.Frames) != 1 || resp.Frames[0].Seq != 3 {
		t.Fatalf("incremental: %+v", resp.Frames)
	}

	// At the cursor: empty but latest still advances the poller.
	getJSON(t, f.srv.URL+"/live?since=3", &resp)
	if len(resp.Frames) != 0 || resp.Latest != 3 {
		t.Fatalf("caught-up poll: %+v", resp)
	}
}

func TestLiveEndpointBadParams(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/live?since=notanumber")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestLiveEndpointLimitCapped(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, 12)
	var resp liveResponse
	getJSON(t, f.srv.URL+"/live?since=0&limit=100000", &resp)
	if len(resp.Frames) > 50 {
		t.Fatalf("limit cap ignored: %d", len(resp.Frames))
	}
	// Default limit applies when the param is absent.
	getJSON(t, f.srv.URL+"/live?since=0", &resp)
	if len(resp.Frames) != 10 {
		t.Fatalf("default limit: %d", len(resp.Frames))
	}
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, 1)
	var resp struct {
		Logger   logger.Status     `json:"logger"`
		Counters map[string]uint64 `json:"counters"`
	}
	getJSON(t, f.srv.URL+"/status", &resp)
	if resp.Logger.State != "logging" || !resp.Logger.StorageReady {
		t.Fatalf("logger status: %+v", resp.Logger)
	}
	if _, ok := resp.Counters["records_written"]; !ok {
		t.Fatalf("counters: %v", resp.Counters)
	}
}

func TestFilesListAndDownload(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, 2)

	var listing struct {
		Files  []storage.FileInfo `json:"files"`
		Active string             `json:"active"`
	}
	getJSON(t, f.srv.URL+"/files", &listing)
	if len(listing.Files) != 1 {
		t.Fatalf("files: %+v", listing.Files)
	}
	name := listing.Files[0].Name
	if listing.Active != name {
		t.Fatalf("active = %q want %q", listing.Active, name)
	}

	// Downloading the active file must yield a complete decryptable blob.
	resp, err := http.Get(f.srv.URL + "/files/" + name)
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("download: status %d err %v", resp.StatusCode, err)
	}
	r, err := nxt.NewReader(bytes.NewReader(body), nxt.DefaultKey)
	if err != nil {
		t.Fatalf("downloaded blob: %v", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(plain, []byte(record.HeaderLine()+"\n")) {
		t.Fatalf("decoded download: %q", plain[:60])
	}

	// Logging continues after the close-for-read download.
	f.ingest(t, 3)
}

func TestDownloadFinishedFileLeavesActiveOpen(t *testing.T) {
	f := newFixture(t)
	// A finished file from an earlier session sits beside the active one.
	oldName := "log-20240101-000000.nxt"
	old := nxt.NewWriter(nxt.WriterConfig{
		Dir:        f.dir,
		Key:        nxt.DefaultKey,
		HeaderLine: record.HeaderLine(),
		NameFunc:   func(time.Time) string { return oldName },
	})
	if err := old.Create(); err != nil {
		t.Fatal(err)
	}
	old.Close()
	f.ingest(t, 2)
	active := f.ctl.Snapshot().FilePath

	resp, err := http.Get(f.srv.URL + "/files/" + oldName)
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("download: status %d err %v", resp.StatusCode, err)
	}
	if _, err := nxt.NewReader(bytes.NewReader(body), nxt.DefaultKey); err != nil {
		t.Fatalf("downloaded blob: %v", err)
	}
	// The finished file must be served without touching the active one.
	if got := f.ctl.Snapshot().FilePath; got != active {
		t.Fatalf("active file changed: %q -> %q", active, got)
	}
	f.ingest(t, 1)
}

func TestDownloadUnknownFile(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/files/log-19700101-000000.nxt")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	resp, err = http.Get(f.srv.URL + "/files/..%2Fescape.nxt")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("traversal status = %d", resp.StatusCode)
	}
}

func TestDeleteFile(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, 1)
	active := f.ctl.Snapshot().FilePath

	// Active file refuses deletion.
	req, _ := http.NewRequest(http.MethodDelete, f.srv.URL+"/files/"+filepath.Base(active), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("delete active: status %d", resp.StatusCode)
	}

	// A closed file deletes cleanly.
	f.ctl.Close()
	req, _ = http.NewRequest(http.MethodDelete, f.srv.URL+"/files/"+filepath.Base(active), nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete closed: status %d", resp.StatusCode)
	}
	var listing struct {
		Files []storage.FileInfo `json:"files"`
	}
	getJSON(t, f.srv.URL+"/files", &listing)
	if len(listing.Files) != 0 {
		t.Fatalf("file still listed: %+v", listing.Files)
	}
}

func TestServeReadySignal(t *testing.T) {
	f := newFixture(t)
	s := New(WithListenAddr("127.0.0.1:0"), WithLive(f.live), WithControl(f.ctl), WithStore(storage.New(t.TempDir())))
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx) }()
	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server never became ready")
	}
	if s.Addr() == "127.0.0.1:0" {
		t.Fatal("bound address not recorded")
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("serve: %v", err)
	}
}
