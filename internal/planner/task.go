// Package planner holds the shared planning document (bedtime + tasks), the
// stopwatch accounting for each task, the normalizer that turns untrusted
// payloads into a typed State, and the reducer that owns every mutation.
//
// Nothing in this package performs I/O. Clocks and id generators are
// injected so that every function is deterministic under test.
package planner

import (
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultBedtime is used whenever a document carries no usable bedtime.
	DefaultBedtime = "22:30"

	// MinPlannedMin and MaxPlannedMin bound Task.PlannedMin.
	MinPlannedMin = 1
	MaxPlannedMin = 10_000
	// MaxActualMin bounds Task.ActualMin (the lower bound is zero).
	MaxActualMin = 10_000
)

// Task is one entry of the shared plan.
//
// Timer invariant: TimerRunning implies TimerStartedAtMs != nil, and a
// stopped task has TimerStartedAtMs == nil with all recorded time folded into
// TimerAccumulatedMs.
type Task struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	PlannedMin         int       `json:"plannedMin"`
	ActualMin          *int      `json:"actualMin"`
	Done               bool      `json:"done"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
	TimerRunning       bool      `json:"timerRunning"`
	TimerStartedAtMs   *int64    `json:"timerStartedAtMs"`
	TimerAccumulatedMs int64     `json:"timerAccumulatedMs"`
}

// State is the single shared document. UpdatedAt is an epoch-millisecond
// version stamp and the only conflict-detection token.
type State struct {
	Bedtime   string `json:"bedtime"`
	Tasks     []Task `json:"tasks"`
	UpdatedAt int64  `json:"updatedAt"`
}

// DefaultState returns an empty plan stamped with updatedAt.
func DefaultState(updatedAt int64) State {
	return State{
		Bedtime:   DefaultBedtime,
		Tasks:     []Task{},
		UpdatedAt: updatedAt,
	}
}

// Clone returns a deep copy so callers can hand out snapshots safely.
func (s State) Clone() State {
	out := State{Bedtime: s.Bedtime, UpdatedAt: s.UpdatedAt, Tasks: make([]Task, len(s.Tasks))}
	for i, t := range s.Tasks {
		out.Tasks[i] = t.clone()
	}
	return out
}

// Task looks a task up by id.
func (s State) Task(id string) (Task, bool) {
	if i := s.indexOf(id); i >= 0 {
		return s.Tasks[i], true
	}
	return Task{}, false
}

// Running returns the task whose stopwatch is currently running, if any.
func (s State) Running() (Task, bool) {
	for _, t := range s.Tasks {
		if t.TimerRunning {
			return t, true
		}
	}
	return Task{}, false
}

func (s State) indexOf(id string) int {
	for i, t := range s.Tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// index maps task ids to their position in Tasks.
func (s State) index() map[string]int {
	idx := make(map[string]int, len(s.Tasks))
	for i, t := range s.Tasks {
		if _, seen := idx[t.ID]; !seen {
			idx[t.ID] = i
		}
	}
	return idx
}

func (t Task) clone() Task {
	out := t
	if t.ActualMin != nil {
		v := *t.ActualMin
		out.ActualMin = &v
	}
	if t.TimerStartedAtMs != nil {
		v := *t.TimerStartedAtMs
		out.TimerStartedAtMs = &v
	}
	return out
}

// NewID returns a fresh opaque task id.
func NewID() string {
	return uuid.NewString()
}

// NewTask builds a task ready for CreateTask: fresh id, clamped plan, both
// timestamps set to now and a stopped stopwatch.
func NewTask(title string, plannedMin int, now time.Time) Task {
	stamp := stampTime(now)
	return Task{
		ID:         NewID(),
		Title:      title,
		PlannedMin: clamp(plannedMin, MinPlannedMin, MaxPlannedMin),
		CreatedAt:  stamp,
		UpdatedAt:  stamp,
	}
}

// IntPtr is a small helper for building tasks with an ActualMin.
func IntPtr(v int) *int { return &v }

// Int64Ptr is a small helper for building tasks with a TimerStartedAtMs.
func Int64Ptr(v int64) *int64 { return &v }

// stampTime drops the monotonic reading and sub-millisecond precision so
// timestamps survive a JSON round trip unchanged.
func stampTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
