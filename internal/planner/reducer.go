package planner

import (
	"strings"
	"time"
)

// Reducer owns every mutation of the shared document. Reduce is total: it
// never fails and never touches its input.
type Reducer struct {
	Now        func() time.Time
	Normalizer Normalizer
}

// DefaultReducer uses the wall clock.
var DefaultReducer = Reducer{}

// Reduce is DefaultReducer.Reduce.
func Reduce(state State, action Action) State {
	return DefaultReducer.Reduce(state, action)
}

// Reduce maps (state, action) to the next state.
//
// Every transition except Init stamps UpdatedAt with max(now, previous+1), so
// a local mutation always yields a version different from the one it started
// from, even when the wall clock stalls or steps backwards. Transitions that
// name a task which does not exist return the state unchanged.
func (r Reducer) Reduce(state State, action Action) State {
	switch a := action.(type) {
	case Init:
		return r.normalizer().Normalize(a.Payload)
	case *Init:
		if a == nil {
			return state
		}
		return r.normalizer().Normalize(a.Payload)
	case SetBedtime:
		next := state.Clone()
		next.Bedtime = a.Value
		next.UpdatedAt = r.stamp(state)
		return next
	case CreateTask:
		return r.createTask(state, a.Task)
	case UpdateTask:
		return r.updateTask(state, a.Task)
	case DeleteTask:
		return r.deleteTask(state, a.ID)
	case ToggleDone:
		return r.toggleDone(state, a)
	case StartTimer:
		return r.startTimer(state, a)
	case StopTimer:
		return r.stopTimer(state, a)
	case ResetAll:
		return DefaultState(r.stamp(state))
	default:
		return state
	}
}

func (r Reducer) createTask(state State, task Task) State {
	if strings.TrimSpace(task.Title) == "" {
		return state
	}
	if task.ID == "" {
		task.ID = r.normalizer().newID()
	}
	if state.indexOf(task.ID) >= 0 {
		return state
	}
	now := stampTime(r.now())
	task = task.clone()
	task.PlannedMin = clamp(task.PlannedMin, MinPlannedMin, MaxPlannedMin)
	if task.ActualMin != nil {
		*task.ActualMin = clamp(*task.ActualMin, 0, MaxActualMin)
	}
	// New tasks enter with a stopped stopwatch; StartTimer is the only way in.
	task.TimerRunning = false
	task.TimerStartedAtMs = nil
	if task.TimerAccumulatedMs < 0 {
		task.TimerAccumulatedMs = 0
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = now
	}
	if task.Done && task.ActualMin == nil {
		task.ActualMin = resolveActual(task)
	}

	next := State{Bedtime: state.Bedtime, Tasks: make([]Task, 0, len(state.Tasks)+1)}
	next.Tasks = append(next.Tasks, task)
	for _, t := range state.Tasks {
		next.Tasks = append(next.Tasks, t.clone())
	}
	next.UpdatedAt = r.stamp(state)
	return next
}

// updateTask replaces the editable fields of a task. The stopwatch fields and
// the creation time stay with the stored task; they change only through the
// timer transitions.
func (r Reducer) updateTask(state State, task Task) State {
	i := state.indexOf(task.ID)
	if i < 0 || strings.TrimSpace(task.Title) == "" {
		return state
	}
	next := state.Clone()
	current := next.Tasks[i]
	if task.Done && !current.Done {
		current = Stop(current, r.now().UnixMilli())
	}
	current.Title = task.Title
	current.PlannedMin = clamp(task.PlannedMin, MinPlannedMin, MaxPlannedMin)
	current.ActualMin = nil
	if task.ActualMin != nil {
		current.ActualMin = IntPtr(clamp(*task.ActualMin, 0, MaxActualMin))
	}
	current.Done = task.Done
	if current.Done && current.ActualMin == nil {
		current.ActualMin = resolveActual(current)
	}
	current.UpdatedAt = stampTime(r.now())
	next.Tasks[i] = current
	next.UpdatedAt = r.stamp(state)
	return next
}

func (r Reducer) deleteTask(state State, id string) State {
	if state.indexOf(id) < 0 {
		return state
	}
	next := State{Bedtime: state.Bedtime, Tasks: make([]Task, 0, len(state.Tasks))}
	for _, t := range state.Tasks {
		if t.ID != id {
			next.Tasks = append(next.Tasks, t.clone())
		}
	}
	next.UpdatedAt = r.stamp(state)
	return next
}

func (r Reducer) toggleDone(state State, a ToggleDone) State {
	i := state.indexOf(a.ID)
	if i < 0 {
		return state
	}
	next := state.Clone()
	t := next.Tasks[i]
	if a.Done {
		t = Stop(t, a.NowMs)
	}
	t.Done = a.Done
	if t.Done {
		t.ActualMin = resolveActual(t)
	}
	t.UpdatedAt = stampTime(r.now())
	next.Tasks[i] = t
	next.UpdatedAt = r.stamp(state)
	return next
}

// startTimer maintains the one-running-stopwatch rule: every running task is
// stopped at NowMs, then the target starts unless it is done.
func (r Reducer) startTimer(state State, a StartTimer) State {
	next := state.Clone()
	idx := next.index()
	touched := stampTime(r.now())
	for i := range next.Tasks {
		if next.Tasks[i].TimerRunning {
			next.Tasks[i] = Stop(next.Tasks[i], a.NowMs)
			next.Tasks[i].UpdatedAt = touched
		}
	}
	if i, ok := idx[a.ID]; ok && !next.Tasks[i].Done {
		t := next.Tasks[i]
		t.TimerRunning = true
		t.TimerStartedAtMs = Int64Ptr(a.NowMs)
		t.UpdatedAt = touched
		next.Tasks[i] = t
	}
	next.UpdatedAt = r.stamp(state)
	return next
}

func (r Reducer) stopTimer(state State, a StopTimer) State {
	i := state.indexOf(a.ID)
	if i < 0 {
		return state
	}
	next := state.Clone()
	t := Stop(next.Tasks[i], a.NowMs)
	t.UpdatedAt = stampTime(r.now())
	next.Tasks[i] = t
	next.UpdatedAt = r.stamp(state)
	return next
}

func (r Reducer) stamp(prev State) int64 {
	now := r.now().UnixMilli()
	if now <= prev.UpdatedAt {
		return prev.UpdatedAt + 1
	}
	return now
}

func (r Reducer) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Reducer) normalizer() Normalizer {
	n := r.Normalizer
	if n.Now == nil {
		n.Now = r.Now
	}
	return n
}
