package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"deribit-pnl/internal/models"
	"deribit-pnl/pkg/utils"
)

// ParseTimeFlag parses a --from/--to/--as-of value. Besides absolute forms
// it accepts "now" and a relative age such as "7d" or "36h" counted back
// from ref. An empty value yields the zero time.
func ParseTimeFlag(value string, ref time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	switch value {
	case "":
		return time.Time{}, nil
	case "now":
		return ref, nil
	}

	if age, ok := parseAge(value); ok {
		return ref.Add(-age), nil
	}

	t, err := utils.ParseTime(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: use RFC3339, YYYY-MM-DD, unix ms, 'now' or an age like 7d", value)
	}
	return t, nil
}

func parseAge(value string) (time.Duration, bool) {
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, false
		}
		return time.Duration(n) * 24 * time.Hour, true
	}
	if days, ok := strings.CutSuffix(value, "w"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, false
		}
		return time.Duration(n) * 7 * 24 * time.Hour, true
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}

// FormatTimestamp formats a time for table output.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

// FormatExpiry renders an expiry column.
func FormatExpiry(e models.Expiry) string {
	if s := e.String(); s != "" {
		return s
	}
	return "-"
}

// FormatAvg renders an average price, blank when no fills back it.
func FormatAvg(avg, amount float64) string {
	if amount == 0 {
		return "-"
	}
	return utils.FormatPrice(avg)
}

// NormalizeCurrencies upper-cases and de-duplicates currency flags.
func NormalizeCurrencies(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, c := range in {
		for _, part := range strings.Split(c, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" || seen[part] {
				continue
			}
			seen[part] = true
			out = append(out, part)
		}
	}
	return out
}
