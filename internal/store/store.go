// Package store holds the single shared plan document. It stamps every
// accepted write with its own clock, persists it through a Backend and
// broadcasts the new document to every push-channel subscriber, the writer
// included.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/kingrea/bedtime/internal/hub"
	"github.com/kingrea/bedtime/internal/logging"
	"github.com/kingrea/bedtime/internal/wire"
)

var (
	// ErrNotFound is returned by a Backend that holds no document yet.
	ErrNotFound = errors.New("store: document not found")
	// ErrInvalidDocument is returned for a write whose body is not a JSON object.
	ErrInvalidDocument = errors.New("store: state must be an object")
	// ErrConflict matches every *ConflictError.
	ErrConflict = errors.New("store: stale write")
)

// ConflictError refuses a write whose updatedAt is older than the stored one.
type ConflictError struct {
	Incoming int64
	Stored   int64
	Current  json.RawMessage
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("store: stale write: incoming updatedAt %d is older than %d", e.Incoming, e.Stored)
}

// Is lets errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Backend persists the document between restarts.
type Backend interface {
	Load(ctx context.Context) (json.RawMessage, error)
	Save(ctx context.Context, doc json.RawMessage) error
	Close() error
}

// DefaultDocument is served until the first write lands.
var DefaultDocument = json.RawMessage(`{"bedtime":"22:30","tasks":[],"updatedAt":0}`)

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces the stamping clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger routes store diagnostics to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHub fans broadcasts out through h instead of a private hub.
func WithHub(h *hub.Hub) Option {
	return func(s *Store) {
		if h != nil {
			s.hub = h
		}
	}
}

// Store is safe for concurrent use. Writes are serialized; each one is
// persisted and broadcast before the next is accepted, so subscribers see
// accepted documents in the order they were stamped.
type Store struct {
	backend Backend
	hub     *hub.Hub
	now     func() time.Time
	logger  *slog.Logger

	mu      sync.Mutex
	encoded json.RawMessage
	version int64
}

// Open loads the persisted document from backend, or starts from
// DefaultDocument when the backend is empty or holds something unreadable.
func Open(ctx context.Context, backend Backend, opts ...Option) (*Store, error) {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	s := &Store{
		backend: backend,
		now:     time.Now,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.hub == nil {
		s.hub = hub.New(hub.WithLogger(s.logger))
	}

	raw, err := backend.Load(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		raw = DefaultDocument
	case err != nil:
		return nil, fmt.Errorf("store: load: %w", err)
	}
	doc, err := decodeObject(raw)
	if err != nil {
		s.logger.Warn("persisted document unreadable, starting from default", "error", err)
		doc, _ = decodeObject(DefaultDocument)
	}
	if err := s.install(doc); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the current document as stored, without normalization.
func (s *Store) Get() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRaw(s.encoded)
}

// Version returns the current document's updatedAt.
func (s *Store) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Replace accepts body as the whole new document, last writer wins. It
// returns the persisted document.
func (s *Store) Replace(ctx context.Context, body []byte) (json.RawMessage, error) {
	return s.write(ctx, body, false)
}

// ReplaceIfCurrent is Replace for writers that track versions: a body whose
// updatedAt is lower than the stored one is refused with a *ConflictError
// carrying the current document.
func (s *Store) ReplaceIfCurrent(ctx context.Context, body []byte) (json.RawMessage, error) {
	return s.write(ctx, body, true)
}

// Subscribe registers a push-channel listener. The current document is
// queued first, then every accepted write follows in order.
func (s *Store) Subscribe() (hub.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seed, err := wire.EncodeState(s.encoded)
	if err != nil {
		return hub.Subscription{}, fmt.Errorf("store: subscribe: %w", err)
	}
	return s.hub.Subscribe(seed), nil
}

// Subscribers reports the number of live push-channel listeners.
func (s *Store) Subscribers() int { return s.hub.Len() }

// Close ends every subscription and releases the backend.
func (s *Store) Close() error {
	s.hub.Close()
	return s.backend.Close()
}

func (s *Store) write(ctx context.Context, body []byte, checkVersion bool) (json.RawMessage, error) {
	doc, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if checkVersion {
		incoming := versionOf(doc)
		if incoming < s.version {
			return nil, &ConflictError{Incoming: incoming, Stored: s.version, Current: cloneRaw(s.encoded)}
		}
	}

	stamp := s.now().UnixMilli()
	if stamp <= s.version {
		stamp = s.version + 1
	}
	doc["updatedAt"] = json.RawMessage(strconv.FormatInt(stamp, 10))
	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	if err := s.backend.Save(ctx, encoded); err != nil {
		return nil, fmt.Errorf("store: save: %w", err)
	}
	s.encoded = encoded
	s.version = stamp

	msg, err := wire.EncodeState(encoded)
	if err != nil {
		return nil, fmt.Errorf("store: encode message: %w", err)
	}
	delivered := s.hub.Broadcast(msg)
	s.logger.Debug("document replaced", "updatedAt", stamp, "subscribers", delivered)
	return cloneRaw(encoded), nil
}

func (s *Store) install(doc map[string]json.RawMessage) error {
	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}
	s.encoded = encoded
	s.version = versionOf(doc)
	return nil
}

func decodeObject(body []byte) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrInvalidDocument
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &doc); err != nil || doc == nil {
		return nil, ErrInvalidDocument
	}
	return doc, nil
}

// versionOf reads updatedAt. Anything that is not a finite number counts as 0.
func versionOf(doc map[string]json.RawMessage) int64 {
	raw, ok := doc["updatedAt"]
	if !ok {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	if f > math.MaxInt64/2 {
		return math.MaxInt64 / 2
	}
	if f < 0 {
		return 0
	}
	return int64(f)
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
