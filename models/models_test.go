package models

import (
	"errors"
	"testing"
	"time"
)

func TestDailyBarRowRoundTrip(t *testing.T) {
	bar := DailyBar{
		Time:   time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC).Unix(),
		Open:   25.5,
		High:   26.25,
		Low:    25.1,
		Close:  26,
		Volume: 150000,
	}

	row := NewDailyBarRow("PETR4", bar)

	if row.Symbol != "PETR4" {
		t.Errorf("Expected symbol PETR4, got %s", row.Symbol)
	}
	if row.Interval != IntervalDaily {
		t.Errorf("Expected interval %s, got %s", IntervalDaily, row.Interval)
	}
	expectedDate := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	if !row.Date.Equal(expectedDate) {
		t.Errorf("Expected date %v, got %v", expectedDate, row.Date)
	}
	if got := row.Bar(); got != bar {
		t.Errorf("Expected %+v, got %+v", bar, got)
	}
}

func TestNormalizePeriod(t *testing.T) {
	for _, p := range []string{"1d", "5d", "1mo", "3mo", "6mo", " 3MO "} {
		if _, err := NormalizePeriod(p); err != nil {
			t.Errorf("Expected %q to be valid, got %v", p, err)
		}
	}

	got, err := NormalizePeriod("10y")
	if !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("Expected ErrInvalidPeriod, got %v", err)
	}
	if got != DefaultPeriod {
		t.Errorf("Expected default period %s, got %s", DefaultPeriod, got)
	}
}

func TestLookbackDays(t *testing.T) {
	cases := map[string]int{"1mo": 30, "3mo": 90, "6mo": 180, "bogus": 30}
	for p, want := range cases {
		if got := LookbackDays(p); got != want {
			t.Errorf("LookbackDays(%q) = %d, want %d", p, got, want)
		}
	}
}

func TestNormalizeSeriesSortsAndDedupes(t *testing.T) {
	day := func(d, h int) int64 { return time.Date(2024, 3, d, h, 0, 0, 0, time.UTC).Unix() }
	bars := []DailyBar{
		{Time: day(3, 14), Close: 3},
		{Time: day(1, 14), Close: 1},
		{Time: day(2, 14), Close: 2},
		{Time: day(3, 20), Close: 33},
	}

	got := NormalizeSeries(bars)

	if len(got) != 3 {
		t.Fatalf("Expected 3 bars, got %d", len(got))
	}
	for i, want := range []float64{1, 2, 33} {
		if got[i].Close != want {
			t.Errorf("bar %d: expected close %v, got %v", i, want, got[i].Close)
		}
	}
	if bars[0].Close != 3 {
		t.Error("NormalizeSeries must not mutate its input")
	}
}

func TestAvgVolume(t *testing.T) {
	var bars []DailyBar
	for i := 1; i <= 40; i++ {
		bars = append(bars, DailyBar{Volume: float64(i)})
	}

	// last 30 bars are volumes 11..40
	if got := AvgVolume(bars, 30); got != 25.5 {
		t.Errorf("Expected 25.5, got %v", got)
	}
	if got := AvgVolume(bars[:4], 30); got != 2.5 {
		t.Errorf("Expected 2.5 for a short series, got %v", got)
	}
	if got := AvgVolume(nil, 30); got != 0 {
		t.Errorf("Expected 0 for no bars, got %v", got)
	}
}

func TestRateLimitedIsDataUnavailable(t *testing.T) {
	if !errors.Is(ErrRateLimited, ErrDataUnavailable) {
		t.Error("ErrRateLimited should match ErrDataUnavailable")
	}
}
