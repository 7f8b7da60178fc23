package ticker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const reconnectDelay = 5 * time.Second

// Feed streams miniTicker updates for a set of symbols over a combined
// websocket stream and caches the last price per symbol. It is a
// reference feed only; no trading decision depends on it being up.
type Feed struct {
	wsURL   string
	symbols []string
	log     zerolog.Logger

	mu      sync.RWMutex
	prices  map[string]decimal.Decimal
	updated map[string]time.Time
}

func New(wsURL string, symbols []string, log zerolog.Logger) *Feed {
	return &Feed{
		wsURL:   wsURL,
		symbols: symbols,
		log:     log.With().Str("component", "ticker").Logger(),
		prices:  make(map[string]decimal.Decimal),
		updated: make(map[string]time.Time),
	}
}

// normalize maps pair spellings like "LTC/BTC" onto the exchange's
// concatenated uppercase form.
func normalize(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// Price returns the last seen price for a symbol, if any.
func (f *Feed) Price(symbol string) (decimal.Decimal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[normalize(symbol)]
	return p, ok
}

// UpdatedAt returns when the symbol's price was last refreshed.
func (f *Feed) UpdatedAt(symbol string) (time.Time, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ts, ok := f.updated[normalize(symbol)]
	return ts, ok
}

// Run connects and reads until ctx is cancelled, reconnecting with a
// fixed delay after any read or dial failure.
func (f *Feed) Run(ctx context.Context) error {
	streams := make([]string, 0, len(f.symbols))
	for _, s := range f.symbols {
		streams = append(streams, strings.ToLower(s)+"@miniTicker")
	}
	wsURL := fmt.Sprintf("%s/stream?streams=%s", f.wsURL, strings.Join(streams, "/"))

	for {
		if err := f.readLoop(ctx, wsURL); err != nil {
			f.log.Warn().Err(err).Msg("ticker stream dropped, reconnecting")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (f *Feed) readLoop(ctx context.Context, wsURL string) error {
	f.log.Info().Str("url", wsURL).Msg("connecting to ticker stream")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("ticker ws connect: %w", err)
	}
	defer conn.Close()
	f.log.Info().Msg("ticker stream connected")

	// ReadMessage has no ctx support; closing the conn unblocks it.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("ticker ws read: %w", err)
		}
		f.handleMessage(msg)
	}
}

// combinedFrame is the wrapper the combined-stream endpoint puts around
// every event.
type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type miniTickerEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
}

func (f *Feed) handleMessage(msg []byte) {
	var frame combinedFrame
	if err := json.Unmarshal(msg, &frame); err != nil || len(frame.Data) == 0 {
		return
	}

	var ev miniTickerEvent
	if err := json.Unmarshal(frame.Data, &ev); err != nil {
		return
	}
	if ev.EventType != "24hrMiniTicker" || ev.Symbol == "" {
		return
	}
	price, err := decimal.NewFromString(ev.Close)
	if err != nil || !price.IsPositive() {
		return
	}

	f.mu.Lock()
	f.prices[normalize(ev.Symbol)] = price
	f.updated[normalize(ev.Symbol)] = time.Now()
	f.mu.Unlock()
}
