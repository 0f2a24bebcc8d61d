package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/testpulse/testpulse/internal/config"
	"github.com/testpulse/testpulse/internal/errs"
	"github.com/testpulse/testpulse/internal/storage"
	"github.com/testpulse/testpulse/pkg/types"
)

// maxRawBytes bounds the input kept verbatim in NormalizedResult.Raw.
// Larger inputs are parsed normally but stored without Raw.
const maxRawBytes = 1 << 20

// Collector runs the parser chain over the configured targets.
type Collector struct {
	cfg      config.CollectorConfig
	parsers  []Parser
	onResult func(types.NormalizedResult)
	onError  func(error)
	now      func() time.Time

	mu   sync.Mutex
	seen map[string]fileStamp // keyed by absolute target path
}

// fileStamp identifies one version of a file for change detection.
type fileStamp struct {
	modTime time.Time
	size    int64
}

// Option configures a Collector.
type Option func(*Collector)

// WithOnResult sets the hook called for every successfully parsed file.
func WithOnResult(fn func(types.NormalizedResult)) Option {
	return func(c *Collector) { c.onResult = fn }
}

// WithOnError sets the hook called with every *errs.ParseError.
func WithOnError(fn func(error)) Option {
	return func(c *Collector) { c.onError = fn }
}

// WithParsers replaces the default parser chain.
func WithParsers(p ...Parser) Option {
	return func(c *Collector) { c.parsers = p }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// New returns a Collector for cfg.
func New(cfg config.CollectorConfig, opts ...Option) *Collector {
	c := &Collector{
		cfg:     cfg,
		parsers: DefaultParsers(),
		now:     time.Now,
		seen:    make(map[string]fileStamp),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ProcessFile parses the file at path. On success it writes a snapshot to
// the output directory and calls the OnResult hook. On failure it returns a
// *errs.ParseError, which is also passed to the OnError hook.
func (c *Collector) ProcessFile(path string) (*types.NormalizedResult, error) {
	res, err := c.processFile(path)
	if err != nil {
		slog.Warn("collector: file skipped", "path", path, "err", err)
		if c.onError != nil {
			c.onError(err)
		}
		return nil, err
	}

	if c.cfg.OutputDir != "" {
		snap := filepath.Join(c.cfg.OutputDir, fmt.Sprintf("%s-%s.json", res.Framework, res.ID))
		if err := storage.WriteJSON(snap, res); err != nil {
			slog.Warn("collector: snapshot write failed", "path", snap, "err", err)
		}
	}

	slog.Info("collector: result parsed",
		"path", path,
		"framework", res.Framework,
		"total", res.Summary.TotalTests,
		"failed", res.Summary.FailedTests,
	)
	if c.onResult != nil {
		c.onResult(*res)
	}
	return res, nil
}

func (c *Collector) processFile(path string) (res *types.NormalizedResult, err error) {
	data, err := c.readBounded(path)
	if err != nil {
		return nil, &errs.ParseError{Path: path, Err: err}
	}
	if len(data) == 0 {
		return nil, &errs.ParseError{Path: path, Err: errors.New("file is empty")}
	}

	p := detect(c.parsers, data)
	if p == nil {
		return nil, &errs.ParseError{Path: path, Err: errors.New("unrecognised report format")}
	}

	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = &errs.ParseError{Path: path, Parser: p.Name(), Err: fmt.Errorf("parser panic: %v", r)}
		}
	}()

	out, perr := p.Parse(data)
	if perr != nil {
		return nil, &errs.ParseError{Path: path, Parser: p.Name(), Err: perr}
	}

	out.ID = uuid.NewString()
	out.Source = c.sourceName(path)
	if out.Timestamp.IsZero() {
		out.Timestamp = c.now().UTC()
	}
	if len(data) <= maxRawBytes {
		out.Raw = rawPayload(data)
	}
	return &out, nil
}

// readBounded reads at most cfg.MaxFileSize bytes from path and fails if the
// file is larger.
func (c *Collector) readBounded(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	limit := c.cfg.MaxFileSize
	if limit <= 0 {
		limit = config.DefaultMaxFileSize
	}
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("file exceeds max_file_size (%d bytes)", limit)
	}
	return data, nil
}

// sourceName is path relative to the collector root when possible.
func (c *Collector) sourceName(path string) string {
	if c.cfg.Root != "" {
		if rel, err := filepath.Rel(c.cfg.Root, path); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(path)
}

// rawPayload keeps JSON input as-is and wraps anything else in a JSON string.
func rawPayload(data []byte) json.RawMessage {
	if json.Valid(data) {
		return json.RawMessage(append([]byte(nil), data...))
	}
	enc, err := json.Marshal(string(data))
	if err != nil {
		return nil
	}
	return enc
}

// CollectOnce processes every existing target once, regardless of whether it
// changed since the last scan, and returns the parsed results.
func (c *Collector) CollectOnce(ctx context.Context) []types.NormalizedResult {
	return c.scan(ctx, true)
}

// Scan processes the targets whose modification time or size changed since
// the previous scan. It returns the parsed results.
func (c *Collector) Scan(ctx context.Context) []types.NormalizedResult {
	return c.scan(ctx, false)
}

func (c *Collector) scan(ctx context.Context, all bool) []types.NormalizedResult {
	var out []types.NormalizedResult
	for _, t := range c.cfg.Targets {
		if ctx.Err() != nil {
			break
		}
		path := c.abs(t.Path)

		if t.FallbackFor != "" && exists(c.abs(t.FallbackFor)) {
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				slog.Warn("collector: stat failed", "path", path, "err", err)
			}
			c.mu.Lock()
			delete(c.seen, path)
			c.mu.Unlock()
			continue
		}
		stamp := fileStamp{modTime: info.ModTime(), size: info.Size()}

		c.mu.Lock()
		prev, ok := c.seen[path]
		c.seen[path] = stamp
		c.mu.Unlock()
		if !all && ok && prev == stamp {
			continue
		}

		// A failed parse still records the stamp, so a broken file is
		// retried only once it changes.
		if res, err := c.ProcessFile(path); err == nil {
			out = append(out, *res)
		}
	}
	return out
}

func (c *Collector) abs(rel string) string {
	if filepath.IsAbs(rel) || c.cfg.Root == "" {
		return rel
	}
	return filepath.Join(c.cfg.Root, rel)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Run polls the targets every PollInterval until ctx is cancelled. When Watch
// is enabled, filesystem events in the target directories trigger an
// immediate scan in addition to polling.
func (c *Collector) Run(ctx context.Context) error {
	interval := c.cfg.PollInterval
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if c.cfg.Watch {
		w, err := c.newWatcher()
		if err != nil {
			slog.Warn("collector: fsnotify unavailable, polling only", "err", err)
		} else {
			defer w.Close()
			events, watchErrs = w.Events, w.Errors
		}
	}

	slog.Info("collector: started", "targets", len(c.cfg.Targets), "interval", interval, "watch", events != nil)
	c.Scan(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("collector: stopped")
			return nil
		case <-ticker.C:
			c.Scan(ctx)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				c.Scan(ctx)
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			slog.Warn("collector: watcher error", "err", err)
		}
	}
}

// newWatcher watches the existing parent directories of every target.
// Directories created later are still covered by polling.
func (c *Collector) newWatcher() (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	added := make(map[string]bool)
	for _, t := range c.cfg.Targets {
		dir := filepath.Dir(c.abs(t.Path))
		if added[dir] {
			continue
		}
		added[dir] = true
		if err := w.Add(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Debug("collector: cannot watch directory", "dir", dir, "err", err)
		}
	}
	return w, nil
}
