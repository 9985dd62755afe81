// Package syncclient keeps a local copy of the shared plan in step with the
// store. A Session is the protocol state machine: it decides what every
// load result, inbound push, local action and push outcome does to the
// document, the local cache and the last known server version. A Client runs
// a Session on a single goroutine and performs the network I/O around it.
package syncclient

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/kingrea/bedtime/internal/logging"
	"github.com/kingrea/bedtime/internal/planner"
	"github.com/kingrea/bedtime/internal/stateapi"
)

// Phase is the load lifecycle: Idle until the first load starts, Loading
// while it runs and Ready afterwards, whether the store answered or the
// cache stood in.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	default:
		return "idle"
	}
}

// Mode is the session's protocol state. ApplyingRemote is true only while a
// document from the store is being installed; observers use it to tell an
// echo from a local edit.
type Mode struct {
	Phase          Phase
	ApplyingRemote bool
}

// SaveStatus describes the most recent push.
type SaveStatus string

const (
	StatusIdle     SaveStatus = "idle"
	StatusSaving   SaveStatus = "saving"
	StatusSaved    SaveStatus = "saved"
	StatusError    SaveStatus = "error"
	StatusConflict SaveStatus = "conflict"
)

// View is an immutable snapshot of a Session.
type View struct {
	State             planner.State
	Mode              Mode
	Status            SaveStatus
	Err               error
	Dirty             bool
	Pushing           bool
	Offline           bool
	LastServerVersion int64
	SavedAt           time.Time
}

// CanSave reports whether a manual save would push anything.
func (v View) CanSave() bool {
	return v.Dirty && !v.Pushing
}

// Cache is the local mirror a Session writes through to.
type Cache interface {
	Load() (planner.State, bool)
	Save(planner.State) error
	Clear() error
}

// Ticket describes one outbound push. It is handed back to CompletePush.
type Ticket struct {
	Doc     json.RawMessage
	Version int64
	// prior is the last known server version before the optimistic update.
	prior int64
}

// Session is not safe for concurrent use; Client serializes access.
type Session struct {
	reducer    planner.Reducer
	normalizer planner.Normalizer
	cache      Cache
	logger     *slog.Logger
	now        func() time.Time
	observe    func(View)

	state      planner.State
	mode       Mode
	lastServer int64
	status     SaveStatus
	err        error
	offline    bool
	savedAt    time.Time
	inflight   *Ticket
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithReducer replaces the reducer (and with it the clock used for stamps).
func WithReducer(r planner.Reducer) SessionOption {
	return func(s *Session) { s.reducer = r }
}

// WithNormalizer replaces the normalizer applied to every inbound document.
func WithNormalizer(n planner.Normalizer) SessionOption {
	return func(s *Session) { s.normalizer = n }
}

// WithSessionLogger routes diagnostics to logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSessionClock sets the clock used for SavedAt.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithObserver is called after every change to the document, with the
// session's view at that moment.
func WithObserver(fn func(View)) SessionOption {
	return func(s *Session) { s.observe = fn }
}

// NewSession starts Idle with the default plan.
func NewSession(cache Cache, opts ...SessionOption) *Session {
	s := &Session{
		cache:  cache,
		logger: logging.Discard(),
		now:    time.Now,
		status: StatusIdle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.state = planner.DefaultState(0)
	return s
}

// BeginLoad enters Loading.
func (s *Session) BeginLoad() {
	s.mode.Phase = PhaseLoading
}

// CompleteLoad installs the store's document, or the cached one when the
// load failed, and enters Ready. Either way the installed version becomes the
// last known server version, so nothing is dirty right after loading.
func (s *Session) CompleteLoad(doc json.RawMessage, loadErr error) {
	var next planner.State
	if loadErr == nil {
		next = s.normalizer.Normalize(doc)
		s.offline = false
	} else {
		cached, found := s.cache.Load()
		next = cached
		s.offline = true
		s.logger.Warn("load from store failed, using local cache", "error", loadErr, "cached", found)
	}
	s.lastServer = next.UpdatedAt
	s.install(next)
	s.mode.Phase = PhaseReady
	s.changed()
}

// ApplyRemote installs a document received from the store. Inbound documents
// are applied in the order they arrive and become the last known server
// version. A document carrying the version the session already adopted is
// one it holds already, so it is skipped and local edits made since survive.
// It reports whether the document was installed.
func (s *Session) ApplyRemote(doc json.RawMessage) bool {
	next := s.normalizer.Normalize(doc)
	if s.mode.Phase == PhaseReady && next.UpdatedAt > 0 && next.UpdatedAt == s.lastServer {
		s.logger.Debug("push message already applied", "version", next.UpdatedAt)
		s.offline = false
		return false
	}
	s.mode.ApplyingRemote = true
	defer func() { s.mode.ApplyingRemote = false }()
	s.lastServer = next.UpdatedAt
	s.offline = false
	s.install(next)
	s.changed()
	return true
}

// Dispatch runs a local action through the reducer and writes the result
// through to the cache. It reports whether the document changed.
func (s *Session) Dispatch(action planner.Action) bool {
	if action == nil {
		return false
	}
	next := s.reducer.Reduce(s.state, action)
	if next.UpdatedAt == s.state.UpdatedAt && action.Kind() != planner.KindInit {
		return false
	}
	s.state = next
	s.writeThrough()
	s.changed()
	return true
}

// Reset clears the cached plan and replaces the document with an empty one.
func (s *Session) Reset() {
	if err := s.cache.Clear(); err != nil {
		s.logger.Warn("clear local cache failed", "error", err)
	}
	s.Dispatch(planner.ResetAll{})
}

// Dirty reports whether the document holds changes the store has not seen.
func (s *Session) Dirty() bool {
	return s.mode.Phase == PhaseReady &&
		s.state.UpdatedAt > 0 &&
		s.state.UpdatedAt != s.lastServer
}

// BeginPush prepares a push of the current document. It refuses when nothing
// is dirty or a push is already in flight. The document's version is adopted
// as the last known server version before the request is sent, so the
// store's echo of this write is not mistaken for news.
func (s *Session) BeginPush() (Ticket, bool) {
	if s.inflight != nil || !s.Dirty() {
		return Ticket{}, false
	}
	doc, err := json.Marshal(s.state)
	if err != nil {
		s.status = StatusError
		s.err = err
		return Ticket{}, false
	}
	t := Ticket{Doc: doc, Version: s.state.UpdatedAt, prior: s.lastServer}
	s.lastServer = t.Version
	s.inflight = &t
	s.status = StatusSaving
	s.err = nil
	return t, true
}

// CompletePush records the outcome of the push described by t.
//
// On success the persisted document's version replaces the optimistic one
// and, when no local edit happened meanwhile, the persisted document itself
// is installed. On conflict the store's current document is installed exactly
// like a push message and the local edit is dropped. On any other failure the
// optimistic version is rolled back so the change stays dirty.
//
// If a push message arrived while the request was in flight, the session
// already holds a newer server version. Success leaves it alone and failure
// does not roll it back. A conflict only adopts a document at least as new.
// An edit made during a successful push is restamped above the persisted
// version so it stays dirty and is accepted next time.
func (s *Session) CompletePush(t Ticket, persisted json.RawMessage, pushErr error) {
	s.inflight = nil
	untouched := s.lastServer == t.Version

	var conflict *stateapi.ConflictError
	switch {
	case pushErr == nil:
		s.status = StatusSaved
		s.err = nil
		s.savedAt = s.now()
		s.offline = false
		if !untouched {
			s.changed()
			return
		}
		next := s.normalizer.Normalize(persisted)
		s.lastServer = next.UpdatedAt
		if s.state.UpdatedAt == t.Version {
			s.install(next)
		} else {
			// The edit made during the push must outrank the stored version
			// or the store rejects it as stale.
			s.state.UpdatedAt = max(s.state.UpdatedAt, next.UpdatedAt+1)
			s.writeThrough()
		}
		s.changed()
	case errors.As(pushErr, &conflict):
		s.logger.Info("push rejected as stale, adopting store document", "version", t.Version)
		s.status = StatusConflict
		s.err = pushErr
		current := s.normalizer.Normalize(conflict.Current)
		if !untouched && current.UpdatedAt < s.lastServer {
			s.logger.Debug("conflict document older than applied push message", "version", current.UpdatedAt, "applied", s.lastServer)
			s.changed()
			return
		}
		if !s.ApplyRemote(conflict.Current) {
			s.changed()
		}
	default:
		if untouched {
			s.lastServer = t.prior
		}
		s.status = StatusError
		s.err = pushErr
		s.logger.Warn("push failed", "version", t.Version, "code", stateapi.CodeOf(pushErr), "error", pushErr)
		s.changed()
	}
}

// State returns the current document.
func (s *Session) State() planner.State {
	return s.state.Clone()
}

// View snapshots the session.
func (s *Session) View() View {
	return View{
		State:             s.state.Clone(),
		Mode:              s.mode,
		Status:            s.status,
		Err:               s.err,
		Dirty:             s.Dirty(),
		Pushing:           s.inflight != nil,
		Offline:           s.offline,
		LastServerVersion: s.lastServer,
		SavedAt:           s.savedAt,
	}
}

func (s *Session) install(next planner.State) {
	s.state = s.reducer.Reduce(s.state, planner.Init{Payload: next})
	s.writeThrough()
}

func (s *Session) writeThrough() {
	if err := s.cache.Save(s.state); err != nil {
		s.logger.Warn("write local cache failed", "error", err)
	}
}

func (s *Session) changed() {
	if s.observe != nil {
		s.observe(s.View())
	}
}
