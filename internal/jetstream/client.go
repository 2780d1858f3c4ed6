package jetstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Handler receives firehose events and connection lifecycle
// notifications. HandleEvent is called from a single goroutine in
// arrival order; the next event is not read until it returns.
type Handler interface {
	HandleEvent(ctx context.Context, evt *Event)

	// ResumeCursor supplies the cursor for the next (re)connect.
	// Zero means tail from now.
	ResumeCursor() int64

	ConnectionOpened()
	ConnectionClosed()
}

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Client maintains a subscription to a Jetstream endpoint.
type Client struct {
	endpoint    string // e.g. "wss://jetstream2.us-east.bsky.network"
	collections []string
	dialer      *websocket.Dialer
}

// New creates a Client for the given endpoint, subscribed to the given
// collection prefixes.
func New(endpoint string, collections []string) *Client {
	return &Client{
		endpoint:    endpoint,
		collections: collections,
		dialer:      websocket.DefaultDialer,
	}
}

// subscribeURL builds the /subscribe URL with collection scope and an
// optional resume cursor.
func (c *Client) subscribeURL(cursor int64) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("jetstream: parse endpoint: %w", err)
	}
	u.Path = "/subscribe"

	q := u.Query()
	for _, coll := range c.collections {
		q.Add("wantedCollections", coll)
	}
	if cursor > 0 {
		q.Set("cursor", fmt.Sprintf("%d", cursor))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run connects and consumes events until the context is cancelled,
// reconnecting with capped backoff after transient failures. Each
// reconnect resumes from the handler's cursor, so recent events may be
// re-delivered; downstream mutation must tolerate that.
func (c *Client) Run(ctx context.Context, h Handler) error {
	backoff := initialBackoff
	for {
		start := time.Now()
		err := c.consume(ctx, h)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A connection that held for a while resets the backoff.
		if time.Since(start) > time.Minute {
			backoff = initialBackoff
		}
		log.Printf("Jetstream connection lost: %v (reconnecting in %s)", err, backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// consume dials once and reads events until the connection drops or the
// context is cancelled.
func (c *Client) consume(ctx context.Context, h Handler) error {
	addr, err := c.subscribeURL(h.ResumeCursor())
	if err != nil {
		return err
	}

	conn, _, err := c.dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("jetstream: dial %s: %w", c.endpoint, err)
	}

	h.ConnectionOpened()
	defer h.ConnectionClosed()

	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()

	log.Printf("Jetstream connected: %s", addr)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("jetstream: read: %w", err)
		}

		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			log.Printf("Warning: undecodable jetstream frame: %v (%s)", err, truncate(data, 512))
			continue
		}

		switch evt.Kind {
		case KindCommit, KindIdentity, KindAccount:
			h.HandleEvent(ctx, &evt)
		default:
			log.Printf("Warning: unknown jetstream event kind %q, dropping", evt.Kind)
		}
	}
}

// truncate bounds raw payloads quoted in log lines.
func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
