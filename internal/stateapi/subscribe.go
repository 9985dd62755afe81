package stateapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/kingrea/bedtime/internal/wire"
)

const (
	maxMessageBytes   = 4 << 20
	subscriberBacklog = 16
)

// Subscribe follows the push channel until ctx is done and delivers the
// payload of every state message in receipt order. Messages of any other
// shape are dropped. Lost connections are re-established with the client's
// back-off policy; the policy is reset after each successful connect. The
// returned channel is closed once ctx is done or the policy gives up.
func (c *Client) Subscribe(ctx context.Context) <-chan json.RawMessage {
	out := make(chan json.RawMessage, subscriberBacklog)
	go c.follow(ctx, out)
	return out
}

func (c *Client) follow(ctx context.Context, out chan<- json.RawMessage) {
	defer close(out)
	policy := c.newBackOff()
	for {
		connected, err := c.stream(ctx, out)
		if ctx.Err() != nil {
			return
		}
		if connected {
			policy.Reset()
		}
		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			c.logger.Warn("push channel: giving up", "url", c.pushURL, "error", err)
			return
		}
		c.logger.Info("push channel: reconnecting", "url", c.pushURL, "in", wait, "error", err)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// stream runs one connection. connected reports whether the handshake
// succeeded.
func (c *Client) stream(ctx context.Context, out chan<- json.RawMessage) (connected bool, err error) {
	switch {
	case strings.HasPrefix(c.pushURL, "ws://"), strings.HasPrefix(c.pushURL, "wss://"):
		return c.streamSocket(ctx, out)
	case strings.HasPrefix(c.pushURL, "http://"), strings.HasPrefix(c.pushURL, "https://"):
		return c.streamEvents(ctx, out)
	default:
		return false, fmt.Errorf("stateapi: unsupported push url %q", c.pushURL)
	}
}

func (c *Client) streamSocket(ctx context.Context, out chan<- json.RawMessage) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.pushURL, nil)
	if err != nil {
		return false, fmt.Errorf("stateapi: dial %s: %w", c.pushURL, err)
	}
	conn.SetReadLimit(maxMessageBytes)
	c.logger.Debug("push channel: connected", "url", c.pushURL, "transport", "websocket")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return true, errClosed
			}
			return true, err
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		if !c.deliver(ctx, out, data) {
			return true, ctx.Err()
		}
	}
}

func (c *Client) streamEvents(ctx context.Context, out chan<- json.RawMessage) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pushURL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("stateapi: connect %s: %w", c.pushURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, &Error{Op: "subscribe", Code: CodeBadResponse, Status: resp.StatusCode}
	}
	c.logger.Debug("push channel: connected", "url", c.pushURL, "transport", "sse")

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxMessageBytes)
	var event string
	var data []string
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		switch {
		case line == "":
			if len(data) > 0 && (event == "" || event == wire.SSEEventState) {
				if !c.deliver(ctx, out, []byte(strings.Join(data, "\n"))) {
					return true, ctx.Err()
				}
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
			// heartbeat
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return true, err
	}
	return true, errClosed
}

// deliver forwards a state payload. It returns false once ctx is done.
func (c *Client) deliver(ctx context.Context, out chan<- json.RawMessage, data []byte) bool {
	payload, err := wire.DecodeMessage(data)
	if err != nil {
		c.logger.Debug("push channel: ignoring message", "bytes", len(data))
		return true
	}
	select {
	case out <- payload:
		return true
	case <-ctx.Done():
		return false
	}
}
