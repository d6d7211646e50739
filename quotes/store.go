// Package quotes holds the latest live quote per symbol.
package quotes

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/viktsys/marketcache/models"
)

// Update carries the fields of a quote that changed. Nil fields keep their stored value.
type Update struct {
	Price      *float64
	Volume     *float64
	Timestamp  *time.Time
	MarketOpen *bool
}

// FromTrade builds the update for a single live trade.
func FromTrade(t models.Trade, open bool) Update {
	u := Update{Price: &t.Price, MarketOpen: &open}
	if t.Volume > 0 {
		u.Volume = &t.Volume
	}
	if !t.Timestamp.IsZero() {
		u.Timestamp = &t.Timestamp
	}
	return u
}

type slot struct {
	mu  sync.Mutex // serializes writers of one symbol
	cur atomic.Pointer[models.Quote]
}

// Store is safe for concurrent use. Readers never block; writers only contend
// with writers of the same symbol.
type Store struct {
	slots sync.Map // symbol -> *slot
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{now: time.Now}
}

func (s *Store) slot(symbol string) *slot {
	if v, ok := s.slots.Load(symbol); ok {
		return v.(*slot)
	}
	v, _ := s.slots.LoadOrStore(symbol, &slot{})
	return v.(*slot)
}

// Upsert merges u into the stored quote and returns the committed record.
// ChangePct and ChangeAbs are recomputed against the previous price on every
// price update, and are zero when there was no previous nonzero price.
func (s *Store) Upsert(symbol string, u Update) models.Quote {
	symbol = strings.ToUpper(symbol)
	sl := s.slot(symbol)

	sl.mu.Lock()
	defer sl.mu.Unlock()

	var next models.Quote
	if prev := sl.cur.Load(); prev != nil {
		next = *prev
	}
	next.Symbol = symbol

	if u.Price != nil {
		prevPrice := next.Price
		next.Price = *u.Price
		if prevPrice != 0 {
			next.ChangeAbs = next.Price - prevPrice
			next.ChangePct = next.ChangeAbs / prevPrice * 100
		} else {
			next.ChangeAbs = 0
			next.ChangePct = 0
		}
	}
	if u.Volume != nil {
		next.PrevVolume = next.Volume
		next.Volume = *u.Volume
	}
	if u.MarketOpen != nil {
		next.MarketOpen = *u.MarketOpen
	}
	if u.Timestamp != nil {
		next.Timestamp = *u.Timestamp
	} else {
		next.Timestamp = s.now()
	}

	sl.cur.Store(&next)
	return next
}

// Get returns the latest committed quote for symbol.
func (s *Store) Get(symbol string) (models.Quote, bool) {
	v, ok := s.slots.Load(strings.ToUpper(symbol))
	if !ok {
		return models.Quote{}, false
	}
	q := v.(*slot).cur.Load()
	if q == nil {
		return models.Quote{}, false
	}
	return *q, true
}

// All copies every stored quote.
func (s *Store) All() map[string]models.Quote {
	out := make(map[string]models.Quote)
	s.slots.Range(func(k, v any) bool {
		if q := v.(*slot).cur.Load(); q != nil {
			out[k.(string)] = *q
		}
		return true
	})
	return out
}
