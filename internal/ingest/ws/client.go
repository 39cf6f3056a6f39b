// Package ws provides the WebSocket client that streams finalized bars from
// the upstream market data feed into the engine's bar channel.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"stock-evalv1/internal/model"
	"stock-evalv1/internal/ringbuf"

	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"
)

const (
	heartbeatInterval = 10 * time.Second
	pongWait          = 30 * time.Second
	writeWait         = 5 * time.Second
)

// Config holds configuration for the feed client.
type Config struct {
	URL        string   // feed endpoint, e.g. "wss://feed.example.com/bars"
	APIKey     string
	TOTPSecret string   // base32 secret for the login challenge
	Symbols    []string // instruments to subscribe

	MaxRetryAttempts int           // 0 = retry forever
	RetryDelay       time.Duration // initial backoff, doubles per attempt
	MaxRetryDelay    time.Duration
}

// loginRequest is the first frame sent after dialing. The feed requires a
// time-based one-time code alongside the API key.
type loginRequest struct {
	Action string `json:"action"` // "login"
	APIKey string `json:"api_key"`
	TOTP   string `json:"totp"`
}

type subscribeRequest struct {
	Action  string   `json:"action"` // "subscribe"
	Symbols []string `json:"symbols"`
}

type serverFrame struct {
	Type string          `json:"type"` // "ack", "bar", "error"
	Msg  string          `json:"msg,omitempty"`
	Bar  json.RawMessage `json:"bar,omitempty"`
}

// Client connects to the bar feed and pushes bars into a channel.
// It reconnects with exponential backoff and re-subscribes after each
// successful login.
type Client struct {
	cfg Config

	// Optional hooks for metrics
	OnReconnect func()
	OnDrop      func()
	OnConnected func(bool)
}

// New validates the config and creates a feed client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" || cfg.APIKey == "" || cfg.TOTPSecret == "" {
		return nil, errors.New("ws feed: url, api key and totp secret are required")
	}
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("ws feed: no symbols to subscribe")
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = time.Minute
	}
	return &Client{cfg: cfg}, nil
}

// Start runs the connect/consume/reconnect loop until ctx is cancelled or
// the retry budget is exhausted. Bars are pushed into ring; a full buffer
// drops the bar rather than stalling the read loop. The read loop is the
// only producer, so the SPSC ring contract holds across reconnects.
func (c *Client) Start(ctx context.Context, ring *ringbuf.Ring) error {
	delay := c.cfg.RetryDelay
	attempt := 0

	for {
		err := c.runOnce(ctx, ring)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt++
		if c.cfg.MaxRetryAttempts > 0 && attempt >= c.cfg.MaxRetryAttempts {
			return fmt.Errorf("ws feed: giving up after %d attempts: %w", attempt, err)
		}
		log.Printf("[ws-feed] connection lost (%v), reconnecting in %s", err, delay)
		if c.OnReconnect != nil {
			c.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.cfg.MaxRetryDelay {
			delay = c.cfg.MaxRetryDelay
		}
	}
}

// runOnce dials, authenticates, subscribes and consumes until the
// connection breaks.
func (c *Client) runOnce(ctx context.Context, ring *ringbuf.Ring) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.cfg.URL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	defer conn.Close()

	if err := c.login(conn); err != nil {
		return err
	}
	if err := c.subscribe(conn); err != nil {
		return err
	}
	log.Printf("[ws-feed] connected, subscribed %d symbols", len(c.cfg.Symbols))
	if c.OnConnected != nil {
		c.OnConnected(true)
		defer c.OnConnected(false)
	}

	// Heartbeat: server answers pings with pongs; a missed pong window
	// breaks the read deadline and forces a reconnect.
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				conn.Close()
				return
			case <-ticker.C:
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var frame serverFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("[ws-feed] bad frame: %v", err)
			continue
		}

		switch frame.Type {
		case "bar":
			var bar model.Bar
			if err := json.Unmarshal(frame.Bar, &bar); err != nil {
				log.Printf("[ws-feed] bad bar payload: %v", err)
				continue
			}
			if !ring.Push(bar) {
				if c.OnDrop != nil {
					c.OnDrop()
				}
				log.Println("[ws-feed] ring buffer full, dropping bar")
			}
		case "error":
			log.Printf("[ws-feed] server error: %s", frame.Msg)
		}
	}
}

// login sends the API key with a fresh TOTP code and waits for the ack.
func (c *Client) login(conn *websocket.Conn) error {
	code, err := totp.GenerateCode(c.cfg.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("generate totp: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(loginRequest{Action: "login", APIKey: c.cfg.APIKey, TOTP: code}); err != nil {
		return fmt.Errorf("send login: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var ack serverFrame
	if err := conn.ReadJSON(&ack); err != nil {
		return fmt.Errorf("read login ack: %w", err)
	}
	if ack.Type != "ack" {
		return fmt.Errorf("login rejected: %s", ack.Msg)
	}
	return nil
}

func (c *Client) subscribe(conn *websocket.Conn) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(subscribeRequest{Action: "subscribe", Symbols: c.cfg.Symbols}); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}
	return nil
}
