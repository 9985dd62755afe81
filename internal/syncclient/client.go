package syncclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/bedtime/internal/logging"
	"github.com/kingrea/bedtime/internal/planner"
)

// Remote is the store as seen by a Client. *stateapi.Client implements it.
type Remote interface {
	Load(ctx context.Context) (json.RawMessage, error)
	Save(ctx context.Context, doc json.RawMessage) (json.RawMessage, error)
	Subscribe(ctx context.Context) <-chan json.RawMessage
}

// Policy decides when dirty changes are pushed.
type Policy string

const (
	// PolicyAuto pushes every local change as soon as no other push is in
	// flight.
	PolicyAuto Policy = "auto"
	// PolicyManual pushes only when Save is called.
	PolicyManual Policy = "manual"
)

// ParsePolicy accepts the names used in configuration.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyAuto:
		return PolicyAuto, nil
	case PolicyManual:
		return PolicyManual, nil
	default:
		return "", fmt.Errorf("syncclient: unknown policy %q", s)
	}
}

const (
	// DefaultPushTimeout bounds a single push, so the UI never stays in the
	// saving state indefinitely.
	DefaultPushTimeout = 10 * time.Second
	// DefaultLoadTimeout bounds the initial load before the cache stands in.
	DefaultLoadTimeout = 10 * time.Second

	eventBacklog = 64
)

type eventKind int

const (
	eventAction eventKind = iota
	eventSave
	eventReset
)

type event struct {
	kind   eventKind
	action planner.Action
}

type loadResult struct {
	doc json.RawMessage
	err error
}

type pushResult struct {
	ticket Ticket
	doc    json.RawMessage
	err    error
}

// Client runs a Session on one goroutine. Load results, push messages, local
// actions and push outcomes are applied one at a time, in the order they are
// received. Network calls run on their own goroutines and report back as
// events, so the loop never blocks on I/O.
type Client struct {
	remote      Remote
	session     *Session
	policy      Policy
	pushTimeout time.Duration
	loadTimeout time.Duration
	logger      *slog.Logger

	events   chan event
	views    chan View
	done     chan struct{}
	doneOnce sync.Once

	mu     sync.RWMutex
	latest View

	// wantPush is set by the session observer when a local edit happens.
	wantPush bool
}

// ClientOption customizes a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	policy      Policy
	pushTimeout time.Duration
	loadTimeout time.Duration
	logger      *slog.Logger
	session     []SessionOption
}

// WithPolicy selects when pushes happen.
func WithPolicy(p Policy) ClientOption {
	return func(c *clientConfig) {
		if p != "" {
			c.policy = p
		}
	}
}

// WithPushTimeout bounds each push.
func WithPushTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		if d > 0 {
			c.pushTimeout = d
		}
	}
}

// WithLoadTimeout bounds the initial load.
func WithLoadTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		if d > 0 {
			c.loadTimeout = d
		}
	}
}

// WithLogger routes diagnostics of the client and its session to logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSessionOptions passes options through to the Session.
func WithSessionOptions(opts ...SessionOption) ClientOption {
	return func(c *clientConfig) {
		c.session = append(c.session, opts...)
	}
}

// NewClient wires a Session over cache to remote. Call Run to start it.
func NewClient(remote Remote, cache Cache, opts ...ClientOption) *Client {
	cfg := clientConfig{
		policy:      PolicyAuto,
		pushTimeout: DefaultPushTimeout,
		loadTimeout: DefaultLoadTimeout,
		logger:      logging.Discard(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	c := &Client{
		remote:      remote,
		policy:      cfg.policy,
		pushTimeout: cfg.pushTimeout,
		loadTimeout: cfg.loadTimeout,
		logger:      cfg.logger,
		events:      make(chan event, eventBacklog),
		views:       make(chan View, 1),
		done:        make(chan struct{}),
	}
	sessionOpts := append([]SessionOption{WithSessionLogger(cfg.logger)}, cfg.session...)
	sessionOpts = append(sessionOpts, WithObserver(c.observe))
	c.session = NewSession(cache, sessionOpts...)
	c.latest = c.session.View()
	return c
}

// Policy returns the push policy in use.
func (c *Client) Policy() Policy { return c.policy }

// Dispatch queues a local action.
func (c *Client) Dispatch(action planner.Action) {
	c.send(event{kind: eventAction, action: action})
}

// Save queues a push of the current document. It does nothing when the
// document is clean or a push is already in flight.
func (c *Client) Save() {
	c.send(event{kind: eventSave})
}

// Reset queues a hard reset: the cached plan is dropped and the document is
// replaced by an empty one.
func (c *Client) Reset() {
	c.send(event{kind: eventReset})
}

func (c *Client) send(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Updates delivers the latest View after every event. Views are not queued:
// a slow reader sees only the most recent one.
func (c *Client) Updates() <-chan View { return c.views }

// View returns the most recently published View.
func (c *Client) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

// Done is closed when Run returns.
func (c *Client) Done() <-chan struct{} { return c.done }

// Run loads the document, follows the push channel and applies events until
// ctx is done. It returns ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	defer c.doneOnce.Do(func() { close(c.done) })

	loads := make(chan loadResult, 1)
	pushes := make(chan pushResult, 1)
	var inbound <-chan json.RawMessage

	c.session.BeginLoad()
	c.publish()
	go func() {
		lctx, cancel := context.WithTimeout(ctx, c.loadTimeout)
		defer cancel()
		doc, err := c.remote.Load(lctx)
		loads <- loadResult{doc: doc, err: err}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case res := <-loads:
			c.session.CompleteLoad(res.doc, res.err)
			c.wantPush = false
			// The store seeds every new subscriber with its current document,
			// so following the channel only after loading loses nothing.
			inbound = c.remote.Subscribe(ctx)

		case doc, ok := <-inbound:
			if !ok {
				inbound = nil
				c.logger.Warn("push channel closed")
				break
			}
			c.session.ApplyRemote(doc)

		case ev := <-c.events:
			switch ev.kind {
			case eventAction:
				c.session.Dispatch(ev.action)
			case eventSave:
				c.push(ctx, pushes)
			case eventReset:
				c.session.Reset()
			}

		case res := <-pushes:
			c.session.CompletePush(res.ticket, res.doc, res.err)
			// Edits made while a successful push was in flight go out next.
			// A failed push waits for the next edit or an explicit Save.
			c.wantPush = res.err == nil && c.session.Dirty()
		}

		if c.wantPush && c.policy == PolicyAuto {
			c.push(ctx, pushes)
		}
		c.wantPush = false
		c.publish()
	}
}

// observe runs inside Session calls on the loop goroutine.
func (c *Client) observe(v View) {
	if v.Mode.ApplyingRemote || v.Mode.Phase != PhaseReady {
		return
	}
	if v.Dirty {
		c.wantPush = true
	}
}

func (c *Client) push(ctx context.Context, results chan<- pushResult) {
	ticket, ok := c.session.BeginPush()
	if !ok {
		return
	}
	c.logger.Debug("pushing document", "version", ticket.Version)
	go func() {
		pctx, cancel := context.WithTimeout(ctx, c.pushTimeout)
		defer cancel()
		doc, err := c.remote.Save(pctx, ticket.Doc)
		results <- pushResult{ticket: ticket, doc: doc, err: err}
	}()
}

func (c *Client) publish() {
	v := c.session.View()
	c.mu.Lock()
	c.latest = v
	c.mu.Unlock()
	select {
	case <-c.views:
	default:
	}
	select {
	case c.views <- v:
	default:
	}
}
