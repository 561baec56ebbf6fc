package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/proerror77/ploy-sub002/internal/config"
	"github.com/proerror77/ploy-sub002/internal/domain"
	"github.com/proerror77/ploy-sub002/internal/monitor"
)

// feedMessage is the exchange's quote/tick envelope.
type feedMessage struct {
	Channel  string          `json:"channel"`
	Domain   string          `json:"domain"`
	MarketID string          `json:"market_id"`
	BestBid  decimal.Decimal `json:"best_bid"`
	BestAsk  decimal.Decimal `json:"best_ask"`
	Price    decimal.Decimal `json:"price"`
	Size     decimal.Decimal `json:"size"`
}

// WSFeed maintains the exchange websocket and feeds the quote service. It
// reconnects with jittered exponential backoff and reports the last message
// time so the breaker can detect silent disconnects.
type WSFeed struct {
	url     string
	markets []string
	cfg     *config.MarketDataConfig

	mu          sync.Mutex
	conn        *websocket.Conn
	lastMessage time.Time

	service *Service
	metrics *monitor.Metrics
	logger  *slog.Logger
}

func NewWSFeed(cfg *config.MarketDataConfig, service *Service, metrics *monitor.Metrics, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:     cfg.WsURL,
		markets: cfg.Markets,
		cfg:     cfg,
		service: service,
		metrics: metrics,
		logger:  logger.With("component", "ws_feed"),
	}
}

// LastMessageTime is zero before the first message arrives.
func (f *WSFeed) LastMessageTime() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastMessage
}

func (f *WSFeed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("websocket connect to %s: %w", f.url, err)
	}

	for _, market := range f.markets {
		msg := map[string]interface{}{
			"op":      "subscribe",
			"channel": "quotes",
			"args":    []string{market},
		}
		if err := conn.WriteJSON(msg); err != nil {
			conn.Close()
			return fmt.Errorf("subscribe %s: %w", market, err)
		}
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	f.logger.Info("websocket connected", "url", f.url, "markets", len(f.markets))
	return nil
}

// reconnect retries forever with capped exponential backoff plus jitter, so
// a fleet of restarting instances does not stampede the exchange.
func (f *WSFeed) reconnect(ctx context.Context) error {
	delay := f.cfg.ReconnectBase()
	for {
		jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}

		if err := f.connect(ctx); err != nil {
			f.logger.Warn("reconnect attempt failed", "delay", delay.String(), "error", err)
			delay *= 2
			if delay > f.cfg.ReconnectMax() {
				delay = f.cfg.ReconnectMax()
			}
			continue
		}
		if f.metrics != nil {
			f.metrics.FeedReconnects.Inc()
		}
		return nil
	}
}

// Run connects and pumps messages until ctx is done.
func (f *WSFeed) Run(ctx context.Context) error {
	if err := f.connect(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			f.close()
			return ctx.Err()
		default:
		}

		f.mu.Lock()
		conn := f.conn
		f.mu.Unlock()

		if conn == nil {
			if err := f.reconnect(ctx); err != nil {
				return err
			}
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			f.logger.Error("websocket read error", "error", err)
			f.close()
			if reconnErr := f.reconnect(ctx); reconnErr != nil {
				return reconnErr
			}
			continue
		}

		f.mu.Lock()
		f.lastMessage = time.Now().UTC()
		f.mu.Unlock()

		f.handleMessage(ctx, message)
	}
}

func (f *WSFeed) handleMessage(ctx context.Context, raw []byte) {
	var msg feedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		f.logger.Warn("failed to parse feed message", "error", err)
		return
	}

	dom := domain.Domain(msg.Domain)
	if dom == "" {
		dom = domain.DomainOther
	}

	switch msg.Channel {
	case "quotes":
		f.service.UpdateQuote(ctx, dom, msg.MarketID, msg.BestBid, msg.BestAsk)
	case "trades":
		f.service.RecordTick(ctx, dom, msg.MarketID, msg.Price, msg.Size)
	}
}

func (f *WSFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}
