// Package stateapi talks to the shared state store: it reads and replaces
// the document over HTTP and follows the push channel over WebSocket or
// server-sent events.
//
// Documents cross this package as raw JSON. Callers normalize them.
package stateapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kingrea/bedtime/internal/logging"
	"github.com/kingrea/bedtime/internal/wire"
)

// Variant selects which write endpoint the store exposes.
type Variant string

const (
	// VariantLegacy reads GET /state and writes POST /state. The store never
	// refuses a write.
	VariantLegacy Variant = "legacy"
	// VariantV1 reads GET /api/v1/state and writes PUT /api/v1/state. A stale
	// write is refused with 409 and the current document.
	VariantV1 Variant = "v1"
)

// ParseVariant accepts the names used in configuration.
func ParseVariant(s string) (Variant, error) {
	switch Variant(strings.ToLower(strings.TrimSpace(s))) {
	case "", VariantLegacy:
		return VariantLegacy, nil
	case VariantV1:
		return VariantV1, nil
	default:
		return "", fmt.Errorf("stateapi: unknown variant %q", s)
	}
}

const (
	defaultRequestTimeout = 15 * time.Second
	maxResponseBytes      = 4 << 20
	errorBodyLimit        = 512
)

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	pushURL    string
	variant    Variant
	httpClient *http.Client
	// streamClient has no overall timeout; SSE responses never end.
	streamClient *http.Client
	logger       *slog.Logger
	newBackOff   func() backoff.BackOff
}

// Option customizes a Client.
type Option func(*Client)

// WithVariant selects the endpoint family.
func WithVariant(v Variant) Option {
	return func(c *Client) {
		if v != "" {
			c.variant = v
		}
	}
}

// WithPushURL overrides the push channel address. ws:// and wss:// URLs use
// WebSocket; http:// and https:// URLs use server-sent events.
func WithPushURL(u string) Option {
	return func(c *Client) {
		if u = strings.TrimSpace(u); u != "" {
			c.pushURL = u
		}
	}
}

// WithHTTPClient replaces the client used for load and save.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger routes connection diagnostics to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBackOff sets the reconnect policy of Subscribe. The factory is called
// once per subscription.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(c *Client) {
		if factory != nil {
			c.newBackOff = factory
		}
	}
}

// New builds a client for the store at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		variant:      VariantLegacy,
		httpClient:   &http.Client{Timeout: defaultRequestTimeout},
		streamClient: &http.Client{},
		logger:       logging.Discard(),
		newBackOff:   defaultBackOff,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.pushURL == "" {
		c.pushURL = wire.PushURL(c.baseURL)
	}
	return c
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// BaseURL returns the store address.
func (c *Client) BaseURL() string { return c.baseURL }

// PushURL returns the push channel address.
func (c *Client) PushURL() string { return c.pushURL }

// Variant returns the endpoint family in use.
func (c *Client) Variant() Variant { return c.variant }

func (c *Client) statePath() string {
	if c.variant == VariantV1 {
		return wire.PathStateV1
	}
	return wire.PathState
}

// Load fetches the current document.
func (c *Client) Load(ctx context.Context) (json.RawMessage, error) {
	const op = "load"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.statePath(), nil)
	if err != nil {
		return nil, &Error{Op: op, Code: CodeNetwork, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	status, body, err := c.do(op, req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, badResponse(op, status, body)
	}
	obj, ok := jsonObject(body)
	if !ok {
		return nil, &Error{Op: op, Code: CodeInvalidJSON, Status: status}
	}
	return obj, nil
}

// Save replaces the document and returns what the store persisted. When the
// store only acknowledges the write with {"ok":true}, the persisted document
// is read back with Load. Any other 2xx body is invalid_json. On VariantV1 a stale write fails with a *ConflictError.
func (c *Client) Save(ctx context.Context, doc json.RawMessage) (json.RawMessage, error) {
	const op = "save"
	method := http.MethodPost
	if c.variant == VariantV1 {
		method = http.MethodPut
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+c.statePath(), bytes.NewReader(doc))
	if err != nil {
		return nil, &Error{Op: op, Code: CodeNetwork, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	status, body, err := c.do(op, req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusConflict && c.variant == VariantV1 {
		var conflict wire.ConflictBody
		if err := json.Unmarshal(body, &conflict); err != nil {
			return nil, &Error{Op: op, Code: CodeInvalidJSON, Status: status, Err: err}
		}
		current, ok := jsonObject(conflict.CurrentState)
		if !ok {
			return nil, &Error{Op: op, Code: CodeInvalidJSON, Status: status}
		}
		return nil, &ConflictError{Current: current}
	}
	if status < 200 || status > 299 {
		return nil, badResponse(op, status, body)
	}
	persisted, ok := jsonObject(body)
	if !ok {
		return nil, &Error{Op: op, Code: CodeInvalidJSON, Status: status}
	}
	if !isAck(persisted) {
		return persisted, nil
	}
	var ack wire.OKBody
	if err := json.Unmarshal(persisted, &ack); err != nil || !ack.OK {
		return nil, &Error{Op: op, Code: CodeInvalidJSON, Status: status, Err: err}
	}
	return c.Load(ctx)
}

// Health fetches the store's health report.
func (c *Client) Health(ctx context.Context) (wire.Health, error) {
	const op = "health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+wire.PathHealth, nil)
	if err != nil {
		return wire.Health{}, &Error{Op: op, Code: CodeNetwork, Err: err}
	}
	status, body, err := c.do(op, req)
	if err != nil {
		return wire.Health{}, err
	}
	if status != http.StatusOK {
		return wire.Health{}, badResponse(op, status, body)
	}
	var health wire.Health
	if err := json.Unmarshal(body, &health); err != nil {
		return wire.Health{}, &Error{Op: op, Code: CodeInvalidJSON, Status: status, Err: err}
	}
	return health, nil
}

func (c *Client) do(op string, req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &Error{Op: op, Code: CodeNetwork, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, &Error{Op: op, Code: CodeNetwork, Status: resp.StatusCode, Err: err}
	}
	return resp.StatusCode, body, nil
}

func badResponse(op string, status int, body []byte) error {
	text := strings.TrimSpace(string(body))
	if len(text) > errorBodyLimit {
		text = text[:errorBodyLimit]
	}
	return &Error{Op: op, Code: CodeBadResponse, Status: status, Body: text}
}

// jsonObject returns body when it holds a single JSON object.
func jsonObject(body []byte) (json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, false
	}
	return json.RawMessage(trimmed), true
}

// isAck reports whether a 2xx body is an acknowledgement rather than a
// document. Documents always carry updatedAt.
func isAck(obj json.RawMessage) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(obj, &fields); err != nil {
		return true
	}
	_, hasVersion := fields["updatedAt"]
	return !hasVersion
}

// errClosed ends a stream that the server closed cleanly.
var errClosed = errors.New("stateapi: push channel closed")
