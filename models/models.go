package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// IntervalDaily is the interval key of the persisted daily series.
const IntervalDaily = "1d"

// IntervalIntraday is the bar resolution served for 1d/5d history.
const IntervalIntraday = "5m"

// Quote is the latest live price/volume known for a symbol
type Quote struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	ChangePct  float64   `json:"change_pct"`
	ChangeAbs  float64   `json:"change_abs"`
	Volume     float64   `json:"volume"`
	PrevVolume float64   `json:"prev_volume"`
	Timestamp  time.Time `json:"timestamp"`
	MarketOpen bool      `json:"market_open"`
}

// Trade is a single price print received from a live source.
type Trade struct {
	Symbol    string
	Price     float64
	Volume    float64
	Timestamp time.Time
}

// DailyBar is the OHLCV aggregate for one trading day. Time is epoch seconds.
type DailyBar struct {
	Time   int64   `json:"time" bson:"time"`
	Open   float64 `json:"open" bson:"open"`
	High   float64 `json:"high" bson:"high"`
	Low    float64 `json:"low" bson:"low"`
	Close  float64 `json:"close" bson:"close"`
	Volume float64 `json:"volume" bson:"volume"`
}

// Bar is an intraday bar; same shape as a daily bar at 5-minute resolution.
type Bar = DailyBar

// FastQuote is the lightweight quote returned by the provider.
type FastQuote struct {
	Symbol   string  `json:"symbol"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
}

// FastInfo carries the provider fields used for symbol metadata.
type FastInfo struct {
	MarketCap float64
	YearHigh  float64
	YearLow   float64
}

// SymbolMetadata is derived from the stored daily series plus provider fast info.
type SymbolMetadata struct {
	MarketCap    float64 `json:"market_cap"`
	YearHigh     float64 `json:"year_high"`
	YearLow      float64 `json:"year_low"`
	AvgVolume30d float64 `json:"avg_volume_30d"`
}

// SnapshotEntry is the per-symbol composite view of live and daily data.
type SnapshotEntry struct {
	Symbol     string  `json:"symbol"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	ChangePct  float64 `json:"change_pct"`
	ChangeAbs  float64 `json:"change_abs"`
	Volume     float64 `json:"volume"`
	PrevVolume float64 `json:"prev_volume"`
	RVol       float64 `json:"rvol"`
	MarketCap  float64 `json:"market_cap"`
	YearHigh   float64 `json:"year_high"`
	YearLow    float64 `json:"year_low"`
	Time       int64   `json:"time"`
	MarketOpen bool    `json:"market_open"`
	Status     string  `json:"status,omitempty"`
}

// History is the response shape of a history query.
type History struct {
	Symbol   string     `json:"symbol"`
	Period   string     `json:"period"`
	Interval string     `json:"interval"`
	Data     []DailyBar `json:"data"`
	Degraded bool       `json:"degraded,omitempty"`
}

// MarketStatus reports whether the exchange session is open.
type MarketStatus struct {
	MarketOpen bool   `json:"market_open"`
	Status     string `json:"status"`
}

// DailySeries is the header row of a persisted daily series, one per symbol and interval.
type DailySeries struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Symbol    string    `gorm:"size:20;uniqueIndex:uidx_series_symbol_interval" json:"symbol"`
	Interval  string    `gorm:"column:bar_interval;size:5;uniqueIndex:uidx_series_symbol_interval" json:"interval"`
	BarCount  int       `json:"bar_count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DailyBarRow is one stored bar of a daily series.
type DailyBarRow struct {
	ID       uint            `gorm:"primaryKey" json:"id"`
	Symbol   string          `gorm:"size:20;uniqueIndex:uidx_bar_symbol_interval_date" json:"symbol"`
	Interval string          `gorm:"column:bar_interval;size:5;uniqueIndex:uidx_bar_symbol_interval_date" json:"interval"`
	Date     time.Time       `gorm:"type:date;uniqueIndex:uidx_bar_symbol_interval_date" json:"date"`
	Time     int64           `json:"time"`
	Open     decimal.Decimal `gorm:"type:decimal(20,6)" json:"open"`
	High     decimal.Decimal `gorm:"type:decimal(20,6)" json:"high"`
	Low      decimal.Decimal `gorm:"type:decimal(20,6)" json:"low"`
	Close    decimal.Decimal `gorm:"type:decimal(20,6)" json:"close"`
	Volume   decimal.Decimal `gorm:"type:decimal(24,2)" json:"volume"`
}

func (DailySeries) TableName() string { return "daily_series" }

func (DailyBarRow) TableName() string { return "daily_bars" }

// NewDailyBarRow converts a bar to its stored row.
func NewDailyBarRow(symbol string, bar DailyBar) DailyBarRow {
	return DailyBarRow{
		Symbol:   symbol,
		Interval: IntervalDaily,
		Date:     BarDate(bar.Time),
		Time:     bar.Time,
		Open:     decimal.NewFromFloat(bar.Open),
		High:     decimal.NewFromFloat(bar.High),
		Low:      decimal.NewFromFloat(bar.Low),
		Close:    decimal.NewFromFloat(bar.Close),
		Volume:   decimal.NewFromFloat(bar.Volume),
	}
}

// Bar converts a stored row back to a bar.
func (r DailyBarRow) Bar() DailyBar {
	return DailyBar{
		Time:   r.Time,
		Open:   r.Open.InexactFloat64(),
		High:   r.High.InexactFloat64(),
		Low:    r.Low.InexactFloat64(),
		Close:  r.Close.InexactFloat64(),
		Volume: r.Volume.InexactFloat64(),
	}
}
