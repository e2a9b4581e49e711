// Package retention decides which indices are older than a retention window.
package retention

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// DayMillis is one day in milliseconds.
const DayMillis int64 = 86_400_000

// MaxDays is the longest window whose length in milliseconds fits an int64.
const MaxDays = math.MaxInt64 / DayMillis

// Threshold returns the cutoff in epoch milliseconds for a window of days
// ending at now. A window reaching past the int64 range returns
// math.MinInt64, so nothing is older than it.
func Threshold(now time.Time, days int) int64 {
	d := int64(days)
	if d > MaxDays || now.UnixMilli() < math.MinInt64+d*DayMillis {
		return math.MinInt64
	}
	return now.UnixMilli() - d*DayMillis
}

// FilterExpired returns the entries of dates (index name -> creation time in
// epoch milliseconds) strictly older than the retention window.
func FilterExpired(dates map[string]int64, days int, now time.Time) map[string]int64 {
	threshold := Threshold(now, days)
	expired := make(map[string]int64)
	for name, created := range dates {
		if created < threshold {
			expired[name] = created
		}
	}
	return expired
}

// Sorted returns the index names of dates, oldest first, ties broken by name.
func Sorted(dates map[string]int64) []string {
	names := make([]string, 0, len(dates))
	for name := range dates {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		if dates[a] != dates[b] {
			if dates[a] < dates[b] {
				return -1
			}
			return 1
		}
		return strings.Compare(a, b)
	})
	return names
}

// ParseDays parses a retention window given as an int or a numeric string.
func ParseDays(v any) (int, error) {
	var days int
	switch d := v.(type) {
	case int:
		days = d
	case int64:
		days = int(d)
	case float64:
		if d > float64(MaxDays) {
			return 0, fmt.Errorf("retention days out of range, got %v", d)
		}
		if d != float64(int(d)) {
			return 0, fmt.Errorf("retention days must be whole, got %v", d)
		}
		days = int(d)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(d))
		if err != nil {
			return 0, fmt.Errorf("invalid retention days %q", d)
		}
		days = n
	default:
		return 0, fmt.Errorf("invalid retention days of type %T", v)
	}
	if days < 0 {
		return 0, fmt.Errorf("retention days must not be negative, got %d", days)
	}
	return days, nil
}

// ParseCreationDate parses the cluster's creation_date setting, an epoch
// milliseconds string.
func ParseCreationDate(v string) (int64, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid creation_date %q: %w", v, err)
	}
	return ms, nil
}
