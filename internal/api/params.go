package api

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/testpulse/testpulse/internal/errs"
	"github.com/testpulse/testpulse/internal/history"
)

const dateLayout = "2006-01-02"

func intParam(q url.Values, name string, def int) (int, error) {
	s := strings.TrimSpace(q.Get(name))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errs.Invalid(name, "%q is not an integer", s)
	}
	return n, nil
}

func boolParam(q url.Values, name string) bool {
	b, _ := strconv.ParseBool(q.Get(name))
	return b
}

// timeParam accepts RFC 3339 or a plain date. A plain date used as an upper
// bound means the end of that day.
func timeParam(q url.Values, name string, endOfDay bool) (time.Time, error) {
	s := strings.TrimSpace(q.Get(name))
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, errs.Invalid(name, "%q: want YYYY-MM-DD or RFC 3339", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func parseResultsQuery(q url.Values) (history.Query, error) {
	out := history.Query{
		Framework: q.Get("framework"),
		Status:    q.Get("status"),
		Source:    q.Get("source"),
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
	}
	var err error
	if out.Limit, err = intParam(q, "limit", 0); err != nil {
		return out, err
	}
	if out.Offset, err = intParam(q, "offset", 0); err != nil {
		return out, err
	}
	if out.DateFrom, err = timeParam(q, "dateFrom", false); err != nil {
		return out, err
	}
	if out.DateTo, err = timeParam(q, "dateTo", true); err != nil {
		return out, err
	}
	return out, nil
}
