package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Supported history periods.
const (
	Period1D      = "1d"
	Period5D      = "5d"
	Period1M      = "1mo"
	Period3M      = "3mo"
	Period6M      = "6mo"
	DefaultPeriod = Period1D
)

// lookbackDays maps a period to the number of calendar days it covers.
var lookbackDays = map[string]int{
	Period1D: 1,
	Period5D: 5,
	Period1M: 30,
	Period3M: 90,
	Period6M: 180,
}

// defaultLookbackDays applies to periods missing from lookbackDays.
const defaultLookbackDays = 30

// NormalizePeriod lower-cases p and returns it when supported. Unknown periods
// come back as DefaultPeriod together with ErrInvalidPeriod.
func NormalizePeriod(p string) (string, error) {
	p = strings.ToLower(strings.TrimSpace(p))
	if _, ok := lookbackDays[p]; ok {
		return p, nil
	}
	return DefaultPeriod, fmt.Errorf("%w: %q", ErrInvalidPeriod, p)
}

// IsIntraday reports whether p is served from 5-minute bars.
func IsIntraday(p string) bool {
	return p == Period1D || p == Period5D
}

// LookbackDays returns the lookback window of p, 30 for unknown periods.
func LookbackDays(p string) int {
	if d, ok := lookbackDays[p]; ok {
		return d
	}
	return defaultLookbackDays
}

// BarDate truncates an epoch-seconds bar time to its UTC calendar date.
func BarDate(ts int64) time.Time {
	t := time.Unix(ts, 0).UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NormalizeSeries returns the bars ordered by time with at most one bar per
// UTC date; when two bars share a date the later one wins.
func NormalizeSeries(bars []DailyBar) []DailyBar {
	out := make([]DailyBar, len(bars))
	copy(out, bars)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })

	n := 0
	for _, b := range out {
		if n > 0 && BarDate(out[n-1].Time).Equal(BarDate(b.Time)) {
			out[n-1] = b
			continue
		}
		out[n] = b
		n++
	}
	return out[:n]
}

// AvgVolume returns the mean volume of the last n bars (fewer if the series is shorter).
func AvgVolume(bars []DailyBar, n int) float64 {
	if len(bars) == 0 || n <= 0 {
		return 0
	}
	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	var sum float64
	for _, b := range bars {
		sum += b.Volume
	}
	return sum / float64(len(bars))
}
