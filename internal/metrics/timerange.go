package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/testpulse/testpulse/internal/errs"
)

// DefaultTimeRange is used when a caller passes an empty range.
const DefaultTimeRange = "24h"

// RangeAll selects every recorded run.
const RangeAll = "all"

// ParseTimeRange converts a time range to a window length. It accepts "all"
// (zero window), a number of days such as "7d", or any time.ParseDuration
// string ("1h", "90m"). The returned key is the canonical cache key.
func ParseTimeRange(s string) (key string, window time.Duration, err error) {
	key = strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		key = DefaultTimeRange
	}
	if key == RangeAll {
		return key, 0, nil
	}
	if days, ok := strings.CutSuffix(key, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return "", 0, errs.Invalid("timeRange", "%q is not a valid number of days", s)
		}
		return key, time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(key)
	if err != nil || d <= 0 {
		return "", 0, errs.Invalid("timeRange", "%q: want all, <n>d or a duration such as 1h", s)
	}
	return key, d, nil
}
