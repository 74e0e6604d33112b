// Package feed connects to a websocket market data source and decodes
// MarketEvent envelopes into a channel for the ingestion loop.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/pquerna/otp/totp"

	"indicator-systemv1/internal/model"
)

// Config controls the websocket client.
type Config struct {
	URL               string
	ReconnectDelay    time.Duration // initial backoff, default 2s
	MaxReconnectDelay time.Duration // backoff cap, default 30s

	// Optional TOTP auth. When Secret is set, an auth frame carrying a
	// fresh code is sent immediately after connecting.
	ClientID   string
	TOTPSecret string
}

func (c *Config) defaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// authFrame is the first message sent on an authenticated connection.
type authFrame struct {
	Action   string `json:"action"`
	ClientID string `json:"client_id,omitempty"`
	Code     string `json:"code"`
}

// Ingest is a reconnecting websocket client. Start blocks until ctx is
// cancelled, redialing with exponential backoff on any disconnect.
type Ingest struct {
	cfg Config
	log *slog.Logger

	// OnConnect fires after each successful dial (and auth, if configured).
	OnConnect func()
	// OnReconnect fires before each backoff sleep.
	OnReconnect func()
}

// New validates the config and returns a client ready to Start.
func New(cfg Config, log *slog.Logger) (*Ingest, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "feed: bad url %q", cfg.URL)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.Errorf("feed: url %q must be ws:// or wss://", cfg.URL)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ingest{cfg: cfg, log: log}, nil
}

// Start runs the connect/read/reconnect loop until ctx is cancelled.
// Decoded events are sent to eventCh; if the channel is full the event
// is dropped rather than stalling the read loop.
func (ing *Ingest) Start(ctx context.Context, eventCh chan<- model.MarketEvent) error {
	delay := ing.cfg.ReconnectDelay

	for {
		err := ing.runOnce(ctx, eventCh)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			// Clean disconnect, restart with a fresh backoff.
			delay = ing.cfg.ReconnectDelay
		}

		ing.log.Warn("feed disconnected, reconnecting", "error", err, "delay", delay)
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > ing.cfg.MaxReconnectDelay {
			delay = ing.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect
// or ctx cancel.
func (ing *Ingest) runOnce(ctx context.Context, eventCh chan<- model.MarketEvent) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if ing.cfg.TOTPSecret != "" {
		code, err := totp.GenerateCode(ing.cfg.TOTPSecret, time.Now())
		if err != nil {
			return errors.Wrap(err, "feed: totp")
		}
		frame := authFrame{Action: "auth", ClientID: ing.cfg.ClientID, Code: code}
		if err := conn.WriteJSON(frame); err != nil {
			return errors.Wrap(err, "feed: auth write")
		}
	}

	ing.log.Info("feed connected", "url", ing.cfg.URL)
	if ing.OnConnect != nil {
		ing.OnConnect()
	}

	// Closes the connection when ctx is cancelled so ReadMessage unblocks.
	// done releases the watcher when this connection ends first, so
	// reconnects do not accumulate goroutines.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		ev, err := Decode(raw)
		if err != nil {
			ing.log.Warn("feed parse error", "error", err, "raw", string(raw))
			continue
		}

		select {
		case eventCh <- ev:
		default:
			ing.log.Warn("feed channel full, dropping event")
		}
	}
}

// Decode parses one wire frame into a MarketEvent. A frame must carry
// exactly one of trade or quote.
func Decode(raw []byte) (model.MarketEvent, error) {
	var ev model.MarketEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return model.MarketEvent{}, err
	}
	if (ev.Trade == nil) == (ev.Quote == nil) {
		return model.MarketEvent{}, errors.New("frame must carry exactly one of trade or quote")
	}
	return ev, nil
}
