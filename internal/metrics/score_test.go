package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFromScore_Boundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{100, LevelExcellent},
		{80, LevelExcellent},
		{79.999, LevelGood},
		{70, LevelGood},
		{69.999, LevelFair},
		{60, LevelFair},
		{59.999, LevelPoor},
		{50, LevelPoor},
		{49.999, LevelCritical},
		{0, LevelCritical},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, LevelFromScore(c.score), "score %v", c.score)
	}
}

func TestComputeHealth_NoRuns(t *testing.T) {
	h := ComputeHealth(ScoreInput{})
	assert.Equal(t, Health{Score: 0, Level: LevelCritical}, h)
}

func TestComputeHealth_Perfect(t *testing.T) {
	h := ComputeHealth(ScoreInput{
		Runs:          3,
		SuccessRate:   100,
		CoverageLines: 100,
		RunSuccess:    []float64{1, 1, 1},
	})
	assert.Equal(t, 100.0, h.Score)
	assert.Equal(t, LevelExcellent, h.Level)
	assert.Equal(t, HealthFactors{SuccessRate: 40, Coverage: 30, Consistency: 20, RecentPerformance: 10}, h.Factors)
}

func TestComputeHealth_NoCoverage(t *testing.T) {
	h := ComputeHealth(ScoreInput{Runs: 2, SuccessRate: 100, RunSuccess: []float64{1, 1}})
	assert.Equal(t, 70.0, h.Score)
	assert.Equal(t, LevelGood, h.Level)
	assert.Zero(t, h.Factors.Coverage)
}

func TestComputeHealth_Consistency(t *testing.T) {
	// Alternating 0/1 has σ = 0.5, so the consistency factor bottoms out.
	h := ComputeHealth(ScoreInput{Runs: 4, SuccessRate: 50, RunSuccess: []float64{0, 1, 0, 1}})
	assert.Zero(t, h.Factors.Consistency)
	assert.Equal(t, 20.0, h.Factors.SuccessRate)
	assert.Equal(t, 5.0, h.Factors.RecentPerformance)

	// Only the last five runs count as recent.
	h = ComputeHealth(ScoreInput{Runs: 6, SuccessRate: 90, RunSuccess: []float64{0.4, 1, 1, 1, 1, 1}})
	assert.Equal(t, 10.0, h.Factors.RecentPerformance)
}

func TestComputeHealth_AlwaysInRange(t *testing.T) {
	inputs := []ScoreInput{
		{Runs: 1, SuccessRate: 250, CoverageLines: 400, RunSuccess: []float64{3}},
		{Runs: 1, SuccessRate: -20, CoverageLines: -1, RunSuccess: []float64{-2, 5}},
		{Runs: 1, SuccessRate: math.NaN()},
		{Runs: 5},
	}
	for _, in := range inputs {
		h := ComputeHealth(in)
		assert.GreaterOrEqual(t, h.Score, 0.0, "%+v", in)
		assert.LessOrEqual(t, h.Score, 100.0, "%+v", in)
		assert.Equal(t, LevelFromScore(h.Score), h.Level)
	}
}
