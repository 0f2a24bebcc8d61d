package api

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// systemStatus returns GET /api/system/status.
func (h *Handler) systemStatus(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	now := h.now()
	st := SystemStatus{
		Status:         "ok",
		Version:        h.version,
		StartedAt:      h.startedAt.UTC(),
		Uptime:         now.Sub(h.startedAt).Seconds(),
		UptimeHuman:    strings.TrimSpace(humanize.RelTime(h.startedAt, now, "", "")),
		Goroutines:     runtime.NumGoroutine(),
		HeapAlloc:      mem.HeapAlloc,
		HeapAllocHuman: humanize.Bytes(mem.HeapAlloc),
		History:        h.history.Info(),
		MetricsRuns:    h.metrics.Len(),
	}
	if st.History.StorageErrors > 0 {
		st.Status = "degraded"
	}
	if h.hub != nil {
		st.ConnectedClients = h.hub.Count()
	}
	ok(w, st)
}

// systemStorage returns GET /api/system/storage.
func (h *Handler) systemStorage(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	resp := StorageResponse{Files: []StorageFile{}}

	targets := []struct {
		name, path string
		dir        bool
	}{
		{"history", h.files.History, false},
		{"metrics", h.files.Metrics, false},
		{"finalStats", h.files.FinalStats, false},
		{"results", h.files.ResultsDir, true},
	}
	for _, t := range targets {
		if t.path == "" {
			continue
		}
		stat := statFile
		if t.dir {
			stat = statDir
		}
		f, err := stat(t.path)
		if err != nil {
			fail(w, err)
			return
		}
		f.Name = t.name
		f.SizeHuman = humanize.Bytes(uint64(f.Size))
		if f.Modified != nil {
			f.Age = humanize.RelTime(*f.Modified, now, "ago", "from now")
		}
		resp.Files = append(resp.Files, f)
		resp.TotalSize += f.Size
	}

	resp.TotalHuman = humanize.Bytes(uint64(resp.TotalSize))
	ok(w, resp)
}

// statFile describes path. A missing file is reported, not an error.
func statFile(path string) (StorageFile, error) {
	f := StorageFile{Path: path}
	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return f, err
	}
	mod := fi.ModTime().UTC()
	f.Exists, f.Size, f.Modified = true, fi.Size(), &mod
	return f, nil
}

// statDir sums the regular files under path; Modified is the newest file.
func statDir(path string) (StorageFile, error) {
	f := StorageFile{Path: path}
	var newest time.Time
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		f.Files++
		f.Size += fi.Size()
		if fi.ModTime().After(newest) {
			newest = fi.ModTime()
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return f, err
	}
	f.Exists = true
	if !newest.IsZero() {
		mod := newest.UTC()
		f.Modified = &mod
	}
	return f, nil
}
