package collector

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/testpulse/testpulse/pkg/types"
)

type lcovParser struct{}

func (lcovParser) Name() string { return "lcov" }

func (lcovParser) CanParse(data []byte) bool {
	return (bytes.HasPrefix(data, []byte("SF:")) || bytes.Contains(data, []byte("\nSF:"))) &&
		bytes.Contains(data, []byte("end_of_record"))
}

// Parse folds the per-file records into the four coverage categories.
// LCOV has no statement counts; statements mirror lines.
func (lcovParser) Parse(data []byte) (types.NormalizedResult, error) {
	var (
		files   []types.FileCoverage
		cur     *lcovCounts
		total   lcovCounts
		lineNum int
	)

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		lineNum++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line == "end_of_record" {
			if cur != nil {
				files = append(files, cur.file())
				total.add(*cur)
				cur = nil
			}
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if key == "SF" {
			cur = &lcovCounts{path: val}
			continue
		}
		if cur == nil {
			continue
		}
		dst := cur.field(key)
		if dst == nil {
			continue // DA, FN, FNDA, BRDA, TN, ...
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return types.NormalizedResult{}, fmt.Errorf("lcov line %d: %s: %w", lineNum, key, err)
		}
		*dst = n
	}
	if err := sc.Err(); err != nil {
		return types.NormalizedResult{}, fmt.Errorf("read lcov: %w", err)
	}
	if len(files) == 0 {
		return types.NormalizedResult{}, fmt.Errorf("lcov: no complete records")
	}

	lines := types.NewCoverageMetric(total.lf, total.lh)
	return types.NormalizedResult{
		Framework: types.FrameworkCoverage,
		Summary:   types.Summary{Success: true},
		Coverage: &types.Coverage{
			Lines:      lines,
			Functions:  types.NewCoverageMetric(total.fnf, total.fnh),
			Branches:   types.NewCoverageMetric(total.brf, total.brh),
			Statements: lines,
			Files:      files,
		},
		TestSuites: []types.TestSuite{},
	}, nil
}

type lcovCounts struct {
	path               string
	lf, lh             int
	fnf, fnh, brf, brh int
}

func (c *lcovCounts) field(key string) *int {
	switch key {
	case "LF":
		return &c.lf
	case "LH":
		return &c.lh
	case "FNF":
		return &c.fnf
	case "FNH":
		return &c.fnh
	case "BRF":
		return &c.brf
	case "BRH":
		return &c.brh
	}
	return nil
}

func (c *lcovCounts) add(o lcovCounts) {
	c.lf += o.lf
	c.lh += o.lh
	c.fnf += o.fnf
	c.fnh += o.fnh
	c.brf += o.brf
	c.brh += o.brh
}

func (c *lcovCounts) file() types.FileCoverage {
	return types.FileCoverage{
		Path:      c.path,
		Lines:     types.NewCoverageMetric(c.lf, c.lh),
		Functions: types.NewCoverageMetric(c.fnf, c.fnh),
		Branches:  types.NewCoverageMetric(c.brf, c.brh),
	}
}
