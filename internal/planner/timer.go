package planner

const msPerMinute = 60_000

// LiveElapsed reports the total stopwatch time of t at nowMs. A start time in
// the future contributes nothing, so the result never goes below the
// accumulator.
func LiveElapsed(t Task, nowMs int64) int64 {
	acc := t.TimerAccumulatedMs
	if acc < 0 {
		acc = 0
	}
	if t.TimerRunning && t.TimerStartedAtMs != nil {
		if delta := nowMs - *t.TimerStartedAtMs; delta > 0 {
			acc += delta
		}
	}
	return acc
}

// Stop folds the running interval into the accumulator and records the
// rounded-up minutes as ActualMin. A stopped task is returned unchanged.
func Stop(t Task, nowMs int64) Task {
	if !t.TimerRunning || t.TimerStartedAtMs == nil {
		return t
	}
	acc := LiveElapsed(t, nowMs)
	out := t.clone()
	out.TimerRunning = false
	out.TimerStartedAtMs = nil
	out.TimerAccumulatedMs = acc
	out.ActualMin = IntPtr(clamp(MinutesCeil(acc), 0, MaxActualMin))
	return out
}

// MinutesCeil converts milliseconds to whole minutes, rounding up so any
// positive duration counts as at least one minute.
func MinutesCeil(ms int64) int {
	if ms <= 0 {
		return 0
	}
	return int((ms + msPerMinute - 1) / msPerMinute)
}

// resolveActual returns the ActualMin a finished task must carry: an existing
// value wins, then the stopwatch, then the plan.
func resolveActual(t Task) *int {
	if t.ActualMin != nil {
		v := *t.ActualMin
		return &v
	}
	if t.TimerAccumulatedMs > 0 {
		return IntPtr(clamp(MinutesCeil(t.TimerAccumulatedMs), 0, MaxActualMin))
	}
	return IntPtr(t.PlannedMin)
}
