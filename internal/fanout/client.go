package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/gorilla/websocket"

	"github.com/albapepper/ingestd/internal/telemetry"
)

const (
	minBackoff = 1 * time.Second
	maxBackoff = 30 * time.Second
)

// Client dials a fan-out Server and republishes received messages to a
// caller-supplied handler. Used when ingestion is horizontally scaled and a
// downstream consumer needs to subscribe over the network rather than
// in-process.
type Client struct {
	addr string
}

func NewClient(addr string) *Client {
	return &Client{addr: addr}
}

// Subscribe opens a connection, subscribes to fixtureID, and calls
// onMessage for every Message received, reconnecting with exponential
// backoff on any failure. Blocks until ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, fixtureID int, onMessage func(Message)) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		connStart := time.Now()
		err := c.connect(ctx, fixtureID, onMessage)
		if ctx.Err() != nil {
			return
		}

		if time.Since(connStart) > time.Minute {
			attempt = 0
		}
		attempt++
		backoff := time.Duration(float64(minBackoff) * math.Pow(2, float64(min(attempt-1, 5))))
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		if err != nil {
			telemetry.Warnf("fanout: client connection lost (attempt %d): %v, retrying in %s", attempt, err, backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (c *Client) connect(ctx context.Context, fixtureID int, onMessage func(Message)) error {
	url := fmt.Sprintf("ws://%s/ws", c.addr)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(Action{Action: ActionSubscribe, FixtureID: fixtureID}); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}
	telemetry.Infof("fanout: client subscribed to fixture=%d via %s", fixtureID, c.addr)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			telemetry.Warnf("fanout: client unmarshal error: %v", err)
			continue
		}
		onMessage(msg)
	}
}
