package collector

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testpulse/testpulse/internal/config"
	"github.com/testpulse/testpulse/internal/errs"
	"github.com/testpulse/testpulse/pkg/types"
)

var fixedNow = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

type recorder struct {
	mu      sync.Mutex
	results []types.NormalizedResult
	errs    []error
}

func (r *recorder) onResult(res types.NormalizedResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results), len(r.errs)
}

func newTestCollector(t *testing.T, targets ...config.Target) (*Collector, *recorder, string) {
	t.Helper()
	root := t.TempDir()
	rec := &recorder{}
	c := New(config.CollectorConfig{
		Root:         root,
		OutputDir:    filepath.Join(root, "out"),
		PollInterval: 20 * time.Millisecond,
		MaxFileSize:  1 << 20,
		Targets:      targets,
	}, WithOnResult(rec.onResult), WithOnError(rec.onError), WithClock(func() time.Time { return fixedNow }))
	return c, rec, root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestProcessFile_Success(t *testing.T) {
	c, rec, root := newTestCollector(t)
	path := filepath.Join(root, "coverage", "lcov.info")
	writeFile(t, path, lcovFixture)

	res, err := c.ProcessFile(path)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, "coverage/lcov.info", res.Source)
	assert.Equal(t, fixedNow, res.Timestamp, "lcov has no timestamp, clock is used")

	var raw string
	require.NoError(t, json.Unmarshal(res.Raw, &raw), "text input is stored as a JSON string")
	assert.Equal(t, lcovFixture, raw)

	n, e := rec.counts()
	assert.Equal(t, 1, n)
	assert.Zero(t, e)

	snaps, err := os.ReadDir(filepath.Join(root, "out"))
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "coverage-"+res.ID+".json", snaps[0].Name())
}

func TestProcessFile_KeepsJSONRaw(t *testing.T) {
	c, _, root := newTestCollector(t)
	path := filepath.Join(root, "agg.json")
	writeFile(t, path, externalFixture)

	res, err := c.ProcessFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, externalFixture, string(res.Raw))
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), res.Timestamp)
}

func TestProcessFile_SnapshotCanBeReingested(t *testing.T) {
	c, _, root := newTestCollector(t)
	path := filepath.Join(root, "agg.json")
	writeFile(t, path, externalFixture)

	first, err := c.ProcessFile(path)
	require.NoError(t, err)

	snap := filepath.Join(root, "out", "api-"+first.ID+".json")
	again, err := c.ProcessFile(snap)
	require.NoError(t, err)

	assert.Equal(t, first.Framework, again.Framework)
	assert.Equal(t, first.Summary, again.Summary)
	assert.True(t, first.Timestamp.Equal(again.Timestamp))
}

func TestProcessFile_Errors(t *testing.T) {
	c, rec, root := newTestCollector(t)

	unknown := filepath.Join(root, "notes.txt")
	writeFile(t, unknown, "nothing to see")
	empty := filepath.Join(root, "empty.json")
	writeFile(t, empty, "")
	big := filepath.Join(root, "big.json")
	writeFile(t, big, `{"totalTests": 1, "pad": "`+strings.Repeat("x", 1<<20)+`"}`)

	for _, path := range []string{unknown, empty, big, filepath.Join(root, "missing.json")} {
		res, err := c.ProcessFile(path)
		assert.Nil(t, res, path)
		var pe *errs.ParseError
		require.ErrorAs(t, err, &pe, path)
		assert.Equal(t, path, pe.Path)
	}

	n, e := rec.counts()
	assert.Zero(t, n)
	assert.Equal(t, 4, e)
}

type panicParser struct{}

func (panicParser) Name() string                                 { return "boom" }
func (panicParser) CanParse([]byte) bool                         { return true }
func (panicParser) Parse([]byte) (types.NormalizedResult, error) { panic("unexpected input") }

func TestProcessFile_RecoversParserPanic(t *testing.T) {
	c, _, root := newTestCollector(t)
	c.parsers = []Parser{panicParser{}}
	path := filepath.Join(root, "x.json")
	writeFile(t, path, "{}")

	res, err := c.ProcessFile(path)
	assert.Nil(t, res)
	var pe *errs.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "boom", pe.Parser)
	assert.Contains(t, pe.Error(), "unexpected input")
}

func TestScan_Idempotent(t *testing.T) {
	c, rec, root := newTestCollector(t, config.Target{Path: "test-results/jest-results.json"})
	ctx := context.Background()
	path := filepath.Join(root, "test-results", "jest-results.json")

	assert.Empty(t, c.Scan(ctx), "missing target is not an error")

	writeFile(t, path, jestFixture)
	assert.Len(t, c.Scan(ctx), 1)
	assert.Empty(t, c.Scan(ctx), "unchanged file is a no-op")

	writeFile(t, path, jestFixture+"\n")
	assert.Len(t, c.Scan(ctx), 1, "size change is picked up")

	assert.Len(t, c.CollectOnce(ctx), 1, "batch mode ignores change tracking")

	n, e := rec.counts()
	assert.Equal(t, 3, n)
	assert.Zero(t, e)
}

func TestScan_BrokenFileRetriedOnlyWhenChanged(t *testing.T) {
	c, rec, root := newTestCollector(t, config.Target{Path: "junit.xml"})
	ctx := context.Background()
	path := filepath.Join(root, "junit.xml")

	writeFile(t, path, "<testsuites><testsuite")
	c.Scan(ctx)
	c.Scan(ctx)
	_, e := rec.counts()
	assert.Equal(t, 1, e)

	writeFile(t, path, junitFixture)
	assert.Len(t, c.Scan(ctx), 1)
}

func TestScan_FallbackSkippedWhileStructuredExists(t *testing.T) {
	c, _, root := newTestCollector(t,
		config.Target{Path: "test-results/playwright-results.json"},
		config.Target{Path: "playwright-report/index.html", FallbackFor: "test-results/playwright-results.json"},
	)
	ctx := context.Background()
	writeFile(t, filepath.Join(root, "playwright-report", "index.html"), htmlFixture)

	got := c.Scan(ctx)
	require.Len(t, got, 1)
	assert.Equal(t, "playwright-report/index.html", got[0].Source)

	writeFile(t, filepath.Join(root, "test-results", "playwright-results.json"), playwrightFixture)
	got = c.CollectOnce(ctx)
	require.Len(t, got, 1)
	assert.Equal(t, "test-results/playwright-results.json", got[0].Source)
}

func TestRun_PicksUpNewFilesAndStops(t *testing.T) {
	c, rec, root := newTestCollector(t, config.Target{Path: "coverage/lcov.info"})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	writeFile(t, filepath.Join(root, "coverage", "lcov.info"), lcovFixture)
	require.Eventually(t, func() bool {
		n, _ := rec.counts()
		return n == 1
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
