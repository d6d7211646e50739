package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/viktsys/marketcache/models"
	"go.uber.org/zap"
)

// FinnhubConfig configures the streaming trade source.
type FinnhubConfig struct {
	URL          string        `mapstructure:"url"`
	Token        string        `mapstructure:"token"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// PongWait bounds the silence between inbound frames or pongs; zero disables the read deadline.
	PongWait     time.Duration `mapstructure:"pong_wait"`
}

type finnhubMessage struct {
	Type string         `json:"type"`
	Msg  string         `json:"msg"`
	Data []finnhubTrade `json:"data"`
}

type finnhubTrade struct {
	Symbol string  `json:"s"`
	Price  float64 `json:"p"`
	Volume float64 `json:"v"`
	Time   int64   `json:"t"` // epoch milliseconds
}

type subscribeMessage struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// FinnhubSource streams trades from the Finnhub websocket. Each Stream call
// opens a fresh connection and subscribes every symbol.
type FinnhubSource struct {
	cfg    FinnhubConfig
	dialer *websocket.Dialer
	log    *zap.Logger
}

func NewFinnhubSource(cfg FinnhubConfig, log *zap.Logger) *FinnhubSource {
	return &FinnhubSource{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		log:    log.Named("finnhub"),
	}
}

func (f *FinnhubSource) Name() string { return "finnhub" }

func (f *FinnhubSource) endpoint() (string, error) {
	u, err := url.Parse(f.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid finnhub url: %w", err)
	}
	if f.cfg.Token != "" {
		q := u.Query()
		q.Set("token", f.cfg.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (f *FinnhubSource) Stream(ctx context.Context, symbols []string, emit func([]models.Trade)) error {
	endpoint, err := f.endpoint()
	if err != nil {
		return err
	}

	conn, _, err := f.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial finnhub: %w", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	for _, s := range symbols {
		if err := write(subscribeMessage{Type: "subscribe", Symbol: s}); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
	}
	f.log.Info("subscribed", zap.Int("symbols", len(symbols)))

	// a half-open socket never fails a read; the deadline turns a missed pong into an error
	extend := func() {
		if f.cfg.PongWait > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(f.cfg.PongWait))
		}
	}
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		var tick <-chan time.Time
		if f.cfg.PingInterval > 0 {
			t := time.NewTicker(f.cfg.PingInterval)
			defer t.Stop()
			tick = t.C
		}
		for {
			select {
			case <-ctx.Done():
				// unblocks ReadMessage
				conn.Close()
				return
			case <-done:
				return
			case <-tick:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				writeMu.Unlock()
				if err != nil {
					f.log.Debug("ping failed", zap.Error(err))
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read finnhub: %w", err)
		}
		extend()

		var msg finnhubMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			f.log.Warn("undecodable message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case "trade":
			if trades := msg.trades(); len(trades) > 0 {
				emit(trades)
			}
		case "error":
			f.log.Warn("finnhub error", zap.String("msg", msg.Msg))
		}
	}
}

func (m finnhubMessage) trades() []models.Trade {
	out := make([]models.Trade, 0, len(m.Data))
	for _, d := range m.Data {
		if d.Symbol == "" || d.Price <= 0 {
			continue
		}
		t := models.Trade{Symbol: d.Symbol, Price: d.Price, Volume: d.Volume}
		if d.Time > 0 {
			t.Timestamp = time.UnixMilli(d.Time)
		}
		out = append(out, t)
	}
	return out
}
