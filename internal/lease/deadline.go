package lease

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	nlerrors "github.com/Meesho/BharatMLStack/node-lease-manager/internal/errors"
)

// Zoned layouts keep their offset; the rest are read as UTC.
var absoluteLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

var longUnit = regexp.MustCompile(`([0-9]*\.?[0-9]+)([dw])`)

// ParseDeadline resolves raw into an absolute UTC deadline. raw is either a
// timestamp or a duration relative to now ("2h", "+90m", "1d12h", "1w").
// It does not check that the result lies in the future.
func ParseDeadline(raw string, now time.Time) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, nlerrors.InvalidDeadline("deadline is required")
	}
	if d, ok := parseRelative(value); ok {
		return now.Add(d).UTC(), nil
	}
	for _, layout := range absoluteLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, nlerrors.InvalidDeadline("cannot parse %q as a timestamp or duration", value)
}

func parseRelative(value string) (time.Duration, bool) {
	value = strings.TrimPrefix(value, "+")
	if value == "" {
		return 0, false
	}
	expanded := longUnit.ReplaceAllStringFunc(value, func(token string) string {
		parts := longUnit.FindStringSubmatch(token)
		n, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return token
		}
		hours := n * 24
		if parts[2] == "w" {
			hours *= 7
		}
		return strconv.FormatFloat(hours, 'f', -1, 64) + "h"
	})
	d, err := time.ParseDuration(expanded)
	if err != nil {
		return 0, false
	}
	return d, true
}
