package planner

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Normalizer converts loosely typed documents into a well-formed State. It is
// the only place in the module that tolerates malformed input: every field is
// defaulted independently, so any value produces a usable State.
type Normalizer struct {
	Now   func() time.Time
	NewID func() string
}

// DefaultNormalizer uses the wall clock and random uuids.
var DefaultNormalizer = Normalizer{}

// Normalize is DefaultNormalizer.Normalize.
func Normalize(v any) State {
	return DefaultNormalizer.Normalize(v)
}

// Normalize accepts raw JSON ([]byte, json.RawMessage, string), decoded JSON
// (map[string]any), a State or *State, or nil. Normalizing an already
// normalized value returns an equal value.
func (n Normalizer) Normalize(v any) State {
	now := n.now()
	doc, ok := toObject(v)
	if !ok {
		return DefaultState(now.UnixMilli())
	}

	state := State{Bedtime: DefaultBedtime, Tasks: []Task{}}
	if bedtime, ok := doc["bedtime"].(string); ok {
		state.Bedtime = bedtime
	}
	if stamp, ok := integer(doc["updatedAt"]); ok {
		state.UpdatedAt = stamp
	} else {
		state.UpdatedAt = now.UnixMilli()
	}

	if raw, ok := doc["tasks"].([]any); ok {
		for _, item := range raw {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			task := n.normalizeTask(entry, now)
			if strings.TrimSpace(task.Title) == "" {
				continue
			}
			state.Tasks = append(state.Tasks, task)
		}
	}
	state.Tasks = settleTimers(state.Tasks)
	return state
}

func (n Normalizer) normalizeTask(entry map[string]any, now time.Time) Task {
	t := Task{}
	if id, ok := entry["id"].(string); ok && id != "" {
		t.ID = id
	} else {
		t.ID = n.newID()
	}
	if title, ok := entry["title"].(string); ok {
		t.Title = title
	}
	t.PlannedMin = clampInt(entry["plannedMin"], MinPlannedMin, MaxPlannedMin)
	if v, present := entry["actualMin"]; present && v != nil {
		t.ActualMin = IntPtr(clampInt(v, 0, MaxActualMin))
	}
	t.Done = truthy(entry["done"])
	t.CreatedAt = parseStamp(entry["createdAt"], now)
	t.UpdatedAt = parseStamp(entry["updatedAt"], now)

	t.TimerRunning = truthy(entry["timerRunning"])
	if started, ok := integer(entry["timerStartedAtMs"]); ok {
		t.TimerStartedAtMs = Int64Ptr(started)
	}
	if acc, ok := integer(entry["timerAccumulatedMs"]); ok && acc > 0 {
		t.TimerAccumulatedMs = acc
	}

	// Restore the running/start-time pairing.
	if t.TimerRunning && t.TimerStartedAtMs == nil {
		t.TimerRunning = false
	}
	if !t.TimerRunning {
		t.TimerStartedAtMs = nil
	}
	if t.Done && t.ActualMin == nil {
		t.ActualMin = resolveActual(t)
	}
	return t
}

// settleTimers keeps at most one stopwatch running. The most recently started
// one survives; the others are stopped at the moment it started, which is what
// StartTimer would have done had it seen them.
func settleTimers(tasks []Task) []Task {
	latest := -1
	for i, t := range tasks {
		if !t.TimerRunning {
			continue
		}
		if latest < 0 || *t.TimerStartedAtMs > *tasks[latest].TimerStartedAtMs {
			latest = i
		}
	}
	if latest < 0 {
		return tasks
	}
	cutoff := *tasks[latest].TimerStartedAtMs
	for i := range tasks {
		if i != latest && tasks[i].TimerRunning {
			tasks[i] = Stop(tasks[i], cutoff)
		}
	}
	return tasks
}

func (n Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

func (n Normalizer) newID() string {
	if n.NewID != nil {
		if id := n.NewID(); id != "" {
			return id
		}
	}
	return NewID()
}

// toObject decodes v into a generic JSON object.
func toObject(v any) (map[string]any, bool) {
	var raw []byte
	switch val := v.(type) {
	case nil:
		return nil, false
	case map[string]any:
		return val, true
	case json.RawMessage:
		raw = val
	case []byte:
		raw = val
	case string:
		raw = []byte(val)
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return nil, false
		}
		raw = encoded
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, false
	}
	obj, ok := decoded.(map[string]any)
	return obj, ok
}

// finiteNumber reports whether v is a JSON number (not a numeric string).
func finiteNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// integer reads a JSON number as int64, exactly when it is integral and
// truncated otherwise.
func integer(v any) (int64, bool) {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	f, ok := finiteNumber(v)
	if !ok {
		return 0, false
	}
	return toInt64(f), true
}

func toInt64(f float64) int64 {
	switch {
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}

// clampInt reads an integer the lenient way: numbers are truncated, strings
// contribute their leading integer ("12px" is 12), anything else is lo.
func clampInt(v any, lo, hi int) int {
	var n float64
	if f, ok := finiteNumber(v); ok {
		n = math.Trunc(f)
	} else if s, ok := v.(string); ok {
		parsed, ok := leadingInt(s)
		if !ok {
			return lo
		}
		n = float64(parsed)
	} else {
		return lo
	}
	if n < float64(lo) {
		return lo
	}
	if n > float64(hi) {
		return hi
	}
	return int(n)
}

func leadingInt(s string) (int64, bool) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	parsed, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		// Out of range still has a sign; saturate.
		if strings.HasPrefix(s, "-") {
			return math.MinInt64, true
		}
		return math.MaxInt64, true
	}
	return parsed, true
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case json.Number, float64, float32, int, int64:
		f, ok := finiteNumber(val)
		return ok && f != 0
	default:
		return true
	}
}

func parseStamp(v any, now time.Time) time.Time {
	if s, ok := v.(string); ok {
		if parsed, err := time.Parse(time.RFC3339, s); err == nil {
			return stampTime(parsed)
		}
	}
	return stampTime(now)
}
