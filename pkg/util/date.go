package util

import (
    "strconv"
    "time"
)

// DateLayout is the wire format of trading dates.
const DateLayout = "2006-01-02"

// ParseDate accepts YYYY-MM-DD, RFC3339 or unix seconds and returns the UTC
// calendar day. Returns (t, true) if any worked.
func ParseDate(s string) (time.Time, bool) {
    if s == "" {
        return time.Time{}, false
    }
    if t, err := time.Parse(DateLayout, s); err == nil {
        return t, true
    }
    if t, err := time.Parse(time.RFC3339, s); err == nil {
        return truncateDay(t), true
    }
    if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
        return truncateDay(time.Unix(ts, 0)), true
    }
    return time.Time{}, false
}

// ParseDateDefault parses a date or returns def if empty/invalid.
func ParseDateDefault(s string, def time.Time) time.Time {
    if t, ok := ParseDate(s); ok {
        return t
    }
    return def
}

// OrderRange returns from and to in ascending order.
func OrderRange(from, to time.Time) (time.Time, time.Time) {
    if to.Before(from) {
        return to, from
    }
    return from, to
}

func truncateDay(t time.Time) time.Time {
    y, m, d := t.UTC().Date()
    return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
