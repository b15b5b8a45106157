package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/nxtlog/canlogd/internal/livebuf"
	"github.com/nxtlog/canlogd/internal/metrics"
	"github.com/nxtlog/canlogd/internal/nxt"
)

// liveFrame mirrors the JSON shape the dashboard poller expects: hex id
// without prefix, data as per-byte hex strings, flags as 0/1.
type liveFrame struct {
	Seq  uint64   `json:"seq"`
	Time string   `json:"time"`
	Unix int64    `json:"unix"`
	ID   string   `json:"id"`
	Ext  int      `json:"ext"`
	RTR  int      `json:"rtr"`
	DLC  uint8    `json:"dlc"`
	Data []string `json:"data"`
}

type liveResponse struct {
	Latest uint64      `json:"latest"`
	Boot   uint32      `json:"boot"`
	Frames []liveFrame `json:"frames"`
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	since, err := parseUintParam(r, "since", 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := parseUintParam(r, "limit", uint64(s.defaultLimit))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if limit > uint64(s.maxLimit) {
		limit = uint64(s.maxLimit)
	}

	entries, latest := s.live.Query(since, int(limit))
	resp := liveResponse{
		Latest: latest,
		Boot:   s.ctl.Boot(),
		Frames: make([]liveFrame, 0, len(entries)),
	}
	for _, e := range entries {
		resp.Frames = append(resp.Frames, toLiveFrame(e))
	}
	writeJSON(w, resp)
}

func toLiveFrame(e livebuf.Entry) liveFrame {
	lf := liveFrame{
		Seq:  e.Seq,
		Time: e.Wall.Format("2006-01-02 15:04:05"),
		Unix: e.Wall.Unix(),
		ID:   fmt.Sprintf("%X", e.Frame.ID),
		DLC:  e.Frame.DLC,
		Data: make([]string, e.Frame.DLC),
	}
	if e.Frame.Extended {
		lf.Ext = 1
	}
	if e.Frame.RTR {
		lf.RTR = 1
	}
	for i := 0; i < int(e.Frame.DLC); i++ {
		lf.Data[i] = fmt.Sprintf("%02X", e.Frame.Data[i])
	}
	return lf
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := metrics.Snap()
	writeJSON(w, map[string]any{
		"logger": s.ctl.Snapshot(),
		"counters": map[string]uint64{
			"bus_rx":          snap.BusRx,
			"records_written": snap.RecordsWritten,
			"records_dropped": snap.RecordsDropped,
			"rollovers":       snap.Rollovers,
			"files_created":   snap.FilesCreated,
			"errors":          snap.Errors,
		},
	})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.store.List()
	if err != nil {
		metrics.IncError(metrics.ErrHTTP)
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]any{
		"files":  files,
		"active": filepath.Base(s.ctl.ActivePath()),
	})
}

// handleDownload streams one log file. Downloading the file currently being
// written runs inside the writer's close-for-read critical section so the
// bytes on the wire are a complete, decryptable prefix and appends resume
// cleanly afterwards.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	path, err := s.store.Resolve(r.PathValue("name"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = s.ctl.WithActiveFileClosed(path, func(p string) error {
		return serveFile(w, p)
	})
	if errors.Is(err, nxt.ErrNotActive) {
		// Final on disk (or never the active file): plain read.
		err = serveFile(w, path)
	}
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "no such file", http.StatusNotFound)
			return
		}
		metrics.IncError(metrics.ErrHTTP)
		s.log.Warn("download_failed", "path", path, "error", err)
	}
}

func serveFile(w http.ResponseWriter, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(fi.Size(), 10))
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(filepath.Base(path)))
	_, err = io.Copy(w, f)
	return err
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	path, err := s.store.Resolve(r.PathValue("name"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if path == s.ctl.ActivePath() {
		http.Error(w, "file is being written", http.StatusConflict)
		return
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "no such file", http.StatusNotFound)
			return
		}
		metrics.IncError(metrics.ErrHTTP)
		http.Error(w, "remove failed", http.StatusInternalServerError)
		return
	}
	s.log.Info("file_deleted", "path", path)
	w.WriteHeader(http.StatusNoContent)
}

func parseUintParam(r *http.Request, name string, def uint64) (uint64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", name, err)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		metrics.IncError(metrics.ErrHTTP)
	}
}
