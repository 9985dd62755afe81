package planner

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)

func testNormalizer() Normalizer {
	seq := 0
	return Normalizer{
		Now: func() time.Time { return fixedNow },
		NewID: func() string {
			seq++
			return fmt.Sprintf("gen-%d", seq)
		},
	}
}

func TestNormalizeNonObjectYieldsDefault(t *testing.T) {
	n := testNormalizer()
	for _, in := range []any{nil, "not json", "[1,2]", []byte("42"), json.RawMessage(`"x"`), 17, []any{1}} {
		got := n.Normalize(in)
		assert.Equal(t, DefaultState(fixedNow.UnixMilli()), got, "input %#v", in)
	}
}

func TestNormalizeDefaultsEachFieldIndependently(t *testing.T) {
	n := testNormalizer()
	got := n.Normalize(`{"bedtime": 2230, "tasks": "nope", "updatedAt": "soon"}`)
	assert.Equal(t, DefaultBedtime, got.Bedtime)
	assert.Empty(t, got.Tasks)
	assert.NotNil(t, got.Tasks)
	assert.Equal(t, fixedNow.UnixMilli(), got.UpdatedAt)

	got = n.Normalize(`{"bedtime": "whenever", "updatedAt": 1700000000123}`)
	assert.Equal(t, "whenever", got.Bedtime, "any string bedtime is kept")
	assert.Equal(t, int64(1700000000123), got.UpdatedAt)
}

func TestNormalizeRepairsTasks(t *testing.T) {
	n := testNormalizer()
	raw := `{
		"bedtime": "23:00",
		"updatedAt": 500,
		"tasks": [
			{"title": "  ", "plannedMin": 10},
			"not an object",
			{"id": "", "title": "no id", "plannedMin": "12px", "done": 1},
			{"id": "big", "title": "big", "plannedMin": 1e9, "actualMin": -3},
			{"id": "small", "title": "small", "plannedMin": -5, "actualMin": null, "createdAt": "yesterday"},
			{"id": "frac", "title": "frac", "plannedMin": 2.9, "actualMin": 4.6, "done": "yes",
			 "createdAt": "2024-01-01T00:00:00.000Z", "timerAccumulatedMs": -10},
			{"id": "orphan", "title": "orphan", "timerRunning": true}
		]
	}`
	got := n.Normalize(raw)
	require.Len(t, got.Tasks, 5)

	noID := got.Tasks[0]
	assert.Equal(t, "no id", noID.Title)
	assert.Contains(t, noID.ID, "gen-")
	assert.Equal(t, 12, noID.PlannedMin)
	assert.True(t, noID.Done)
	require.NotNil(t, noID.ActualMin, "done implies actual")
	assert.Equal(t, 12, *noID.ActualMin)

	big := got.Tasks[1]
	assert.Equal(t, MaxPlannedMin, big.PlannedMin)
	require.NotNil(t, big.ActualMin)
	assert.Equal(t, 0, *big.ActualMin)

	small := got.Tasks[2]
	assert.Equal(t, MinPlannedMin, small.PlannedMin)
	assert.Nil(t, small.ActualMin)
	assert.Equal(t, stampTime(fixedNow), small.CreatedAt)

	frac := got.Tasks[3]
	assert.Equal(t, 2, frac.PlannedMin)
	assert.Equal(t, 4, *frac.ActualMin)
	assert.True(t, frac.Done)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), frac.CreatedAt)
	assert.Equal(t, int64(0), frac.TimerAccumulatedMs)

	orphan := got.Tasks[4]
	assert.False(t, orphan.TimerRunning, "running without a start time is stopped")
	assert.Nil(t, orphan.TimerStartedAtMs)
}

func TestNormalizeKeepsOneRunningTimer(t *testing.T) {
	n := testNormalizer()
	raw := `{"tasks": [
		{"id": "a", "title": "a", "plannedMin": 5, "timerRunning": true, "timerStartedAtMs": 1000},
		{"id": "b", "title": "b", "plannedMin": 5, "timerRunning": true, "timerStartedAtMs": 4000},
		{"id": "c", "title": "c", "plannedMin": 5, "timerRunning": false, "timerStartedAtMs": 9000}
	]}`
	got := n.Normalize(raw)
	require.Len(t, got.Tasks, 3)

	a, b, c := got.Tasks[0], got.Tasks[1], got.Tasks[2]
	assert.False(t, a.TimerRunning)
	assert.Equal(t, int64(3_000), a.TimerAccumulatedMs)
	assert.Equal(t, 1, *a.ActualMin)

	assert.True(t, b.TimerRunning)
	assert.Equal(t, int64(4_000), *b.TimerStartedAtMs)

	assert.False(t, c.TimerRunning)
	assert.Nil(t, c.TimerStartedAtMs, "stopped task drops its start time")
}

func TestNormalizePreservesLargeTimestamps(t *testing.T) {
	n := testNormalizer()
	got := n.Normalize(`{"updatedAt": 9007199254740993, "tasks": [
		{"id": "a", "title": "a", "plannedMin": 5, "timerRunning": true, "timerStartedAtMs": 1709323200001}
	]}`)
	assert.Equal(t, int64(9007199254740993), got.UpdatedAt)
	assert.Equal(t, int64(1709323200001), *got.Tasks[0].TimerStartedAtMs)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []any{
		nil,
		`{}`,
		`{"bedtime": "21:15", "updatedAt": 42, "tasks": []}`,
		`{"tasks": [{"title": "untouched"}]}`,
		`{"tasks": [
			{"id": "a", "title": "a", "plannedMin": "30", "done": true, "timerAccumulatedMs": 61000},
			{"id": "b", "title": "b", "plannedMin": 5, "timerRunning": true, "timerStartedAtMs": 10},
			{"id": "c", "title": "c", "plannedMin": 5, "timerRunning": true, "timerStartedAtMs": 20},
			{"id": "d", "title": " d ", "actualMin": 3, "createdAt": "2024-02-02T10:11:12.345Z"}
		], "updatedAt": 77}`,
		map[string]any{"bedtime": "22:00", "tasks": []any{map[string]any{"title": "from map", "plannedMin": 3.0}}},
	}
	for _, in := range inputs {
		n := testNormalizer()
		once := n.Normalize(in)
		twice := n.Normalize(once)
		assert.Equal(t, once, twice, "input %v", in)

		encoded, err := json.Marshal(once)
		require.NoError(t, err)
		assert.Equal(t, once, n.Normalize(encoded))
	}
}

func TestNormalizeFromStateRoundTrip(t *testing.T) {
	n := testNormalizer()
	state := State{
		Bedtime:   "22:45",
		UpdatedAt: 1234,
		Tasks: []Task{
			{
				ID:                 "x",
				Title:              "x",
				PlannedMin:         15,
				ActualMin:          IntPtr(20),
				Done:               true,
				CreatedAt:          stampTime(fixedNow),
				UpdatedAt:          stampTime(fixedNow),
				TimerAccumulatedMs: 1_200_000,
			},
		},
	}
	assert.Equal(t, state, n.Normalize(state))
	assert.Equal(t, state, n.Normalize(&state))
}
