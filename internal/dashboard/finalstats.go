package dashboard

import (
	"time"

	"github.com/testpulse/testpulse/internal/history"
	"github.com/testpulse/testpulse/internal/metrics"
	"github.com/testpulse/testpulse/internal/storage"
)

// FinalStats is the snapshot written on shutdown.
type FinalStats struct {
	GeneratedAt time.Time                `json:"generatedAt"`
	Report      metrics.AggregatedReport `json:"report"`
	History     history.Info             `json:"history"`
}

// WriteFinalStats writes a FinalStats snapshot covering every recorded run
// to the configured path. An empty path disables it.
func (s *Server) WriteFinalStats() error {
	path := s.cfg.Metrics.FinalStatsPath
	if path == "" {
		return nil
	}
	report, err := s.metrics.GetAggregatedData(metrics.RangeAll, true)
	if err != nil {
		return err
	}
	return storage.WriteJSON(path, FinalStats{
		GeneratedAt: s.now().UTC(),
		Report:      report,
		History:     s.history.Info(),
	})
}
