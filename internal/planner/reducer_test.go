package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestReducer(at time.Time) (Reducer, *clock) {
	c := &clock{now: at}
	return Reducer{Now: c.Now, Normalizer: testNormalizer()}, c
}

func task(id string, planned int) Task {
	return Task{
		ID:         id,
		Title:      "task " + id,
		PlannedMin: planned,
		CreatedAt:  stampTime(fixedNow),
		UpdatedAt:  stampTime(fixedNow),
	}
}

func TestCreateStartStopAccumulatesMinutes(t *testing.T) {
	r, _ := newTestReducer(fixedNow)
	state := DefaultState(0)

	state = r.Reduce(state, CreateTask{Task: task("a", 25)})
	state = r.Reduce(state, StartTimer{ID: "a", NowMs: 0})
	running, ok := state.Running()
	require.True(t, ok)
	assert.Equal(t, "a", running.ID)

	state = r.Reduce(state, StopTimer{ID: "a", NowMs: 90_000})
	got, ok := state.Task("a")
	require.True(t, ok)
	assert.Equal(t, int64(90_000), got.TimerAccumulatedMs)
	require.NotNil(t, got.ActualMin)
	assert.Equal(t, 2, *got.ActualMin)
	assert.False(t, got.TimerRunning)
	assert.Nil(t, got.TimerStartedAtMs)
}

func TestStartTimerStopsTheOtherRunningTask(t *testing.T) {
	r, _ := newTestReducer(fixedNow)
	a := task("a", 10)
	a.TimerRunning = true
	a.TimerStartedAtMs = Int64Ptr(0)
	state := State{Bedtime: DefaultBedtime, Tasks: []Task{a, task("b", 10)}, UpdatedAt: 1}

	state = r.Reduce(state, StartTimer{ID: "b", NowMs: 5_000})

	gotA, _ := state.Task("a")
	assert.False(t, gotA.TimerRunning)
	assert.Equal(t, int64(5_000), gotA.TimerAccumulatedMs)
	assert.Equal(t, 1, *gotA.ActualMin)

	gotB, _ := state.Task("b")
	assert.True(t, gotB.TimerRunning)
	assert.Equal(t, int64(5_000), *gotB.TimerStartedAtMs)
}

func TestToggleDoneDerivesActualFromPlan(t *testing.T) {
	r, _ := newTestReducer(fixedNow)
	state := State{Bedtime: DefaultBedtime, Tasks: []Task{task("a", 25)}}

	state = r.Reduce(state, ToggleDone{ID: "a", Done: true, NowMs: 5_000})
	got, _ := state.Task("a")
	assert.True(t, got.Done)
	require.NotNil(t, got.ActualMin)
	assert.Equal(t, 25, *got.ActualMin)

	// Reopening keeps the recorded minutes.
	state = r.Reduce(state, ToggleDone{ID: "a", Done: false, NowMs: 6_000})
	got, _ = state.Task("a")
	assert.False(t, got.Done)
	require.NotNil(t, got.ActualMin)
	assert.Equal(t, 25, *got.ActualMin)
}

func TestToggleDoneStopsRunningTimer(t *testing.T) {
	r, _ := newTestReducer(fixedNow)
	a := task("a", 30)
	a.TimerRunning = true
	a.TimerStartedAtMs = Int64Ptr(1_000)
	state := State{Bedtime: DefaultBedtime, Tasks: []Task{a}}

	state = r.Reduce(state, ToggleDone{ID: "a", Done: true, NowMs: 121_000})
	got, _ := state.Task("a")
	assert.True(t, got.Done)
	assert.False(t, got.TimerRunning)
	assert.Equal(t, int64(120_000), got.TimerAccumulatedMs)
	assert.Equal(t, 2, *got.ActualMin)
}

func TestStartTimerOnDoneTaskOnlyStopsOthers(t *testing.T) {
	r, _ := newTestReducer(fixedNow)
	running := task("a", 10)
	running.TimerRunning = true
	running.TimerStartedAtMs = Int64Ptr(0)
	done := task("b", 10)
	done.Done = true
	done.ActualMin = IntPtr(10)
	state := State{Bedtime: DefaultBedtime, Tasks: []Task{running, done}}

	state = r.Reduce(state, StartTimer{ID: "b", NowMs: 30_000})
	_, anyRunning := state.Running()
	assert.False(t, anyRunning)
	gotA, _ := state.Task("a")
	assert.Equal(t, int64(30_000), gotA.TimerAccumulatedMs)
}

func TestAtMostOneTimerRuns(t *testing.T) {
	r, _ := newTestReducer(fixedNow)
	state := DefaultState(0)
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		state = r.Reduce(state, CreateTask{Task: task(id, 5)})
	}
	sequence := []string{"a", "b", "b", "d", "c", "a", "missing", "d", "c"}
	for i, id := range sequence {
		state = r.Reduce(state, StartTimer{ID: id, NowMs: int64(i) * 1_000})
		running := 0
		for _, tk := range state.Tasks {
			if tk.TimerRunning {
				running++
				require.NotNil(t, tk.TimerStartedAtMs)
			}
		}
		require.LessOrEqual(t, running, 1, "after starting %s", id)
	}
}

func TestDoneAlwaysCarriesActual(t *testing.T) {
	r, _ := newTestReducer(fixedNow)
	state := DefaultState(0)
	withTimer := task("timed", 5)
	state = r.Reduce(state, CreateTask{Task: withTimer})
	state = r.Reduce(state, CreateTask{Task: task("plain", 7)})
	doneOnCreate := task("created-done", 9)
	doneOnCreate.Done = true
	state = r.Reduce(state, CreateTask{Task: doneOnCreate})

	state = r.Reduce(state, StartTimer{ID: "timed", NowMs: 0})
	state = r.Reduce(state, ToggleDone{ID: "timed", Done: true, NowMs: 61_000})
	edited := task("plain", 7)
	edited.Done = true
	state = r.Reduce(state, UpdateTask{Task: edited})

	for _, tk := range state.Tasks {
		if tk.Done {
			require.NotNil(t, tk.ActualMin, tk.ID)
		}
	}
	timed, _ := state.Task("timed")
	assert.Equal(t, 2, *timed.ActualMin)
	plain, _ := state.Task("plain")
	assert.Equal(t, 7, *plain.ActualMin)
	created, _ := state.Task("created-done")
	assert.Equal(t, 9, *created.ActualMin)
}

func TestListOperations(t *testing.T) {
	r, _ := newTestReducer(fixedNow)
	state := State{Bedtime: DefaultBedtime, Tasks: []Task{task("a", 30)}}

	state = r.Reduce(state, CreateTask{Task: task("b", 10)})
	require.Len(t, state.Tasks, 2)
	assert.Equal(t, "b", state.Tasks[0].ID, "new tasks are prepended")

	edited := task("b", 15)
	edited.Title = "renamed"
	state = r.Reduce(state, UpdateTask{Task: edited})
	got, _ := state.Task("b")
	assert.Equal(t, "renamed", got.Title)
	assert.Equal(t, 15, got.PlannedMin)
	assert.Equal(t, "b", state.Tasks[0].ID, "update keeps the position")

	state = r.Reduce(state, DeleteTask{ID: "b"})
	_, ok := state.Task("b")
	assert.False(t, ok)
	require.Len(t, state.Tasks, 1)
}

func TestCreateTaskRejectsBlankTitleAndDuplicateID(t *testing.T) {
	r, _ := newTestReducer(fixedNow)
	state := State{Bedtime: DefaultBedtime, Tasks: []Task{task("a", 30)}, UpdatedAt: 10}

	blank := task("z", 5)
	blank.Title = "   "
	assert.Equal(t, state, r.Reduce(state, CreateTask{Task: blank}))
	assert.Equal(t, state, r.Reduce(state, CreateTask{Task: task("a", 5)}))
}

func TestCreateTaskSanitizes(t *testing.T) {
	r, _ := newTestReducer(fixedNow)
	in := Task{Title: "fresh", PlannedMin: 0, ActualMin: IntPtr(99_999), TimerRunning: true, TimerStartedAtMs: Int64Ptr(5)}
	state := r.Reduce(DefaultState(0), CreateTask{Task: in})

	got := state.Tasks[0]
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, MinPlannedMin, got.PlannedMin)
	assert.Equal(t, MaxActualMin, *got.ActualMin)
	assert.False(t, got.TimerRunning)
	assert.Nil(t, got.TimerStartedAtMs)
	assert.Equal(t, stampTime(fixedNow), got.CreatedAt)
	assert.Equal(t, 99_999, *in.ActualMin, "input task untouched")
}

func TestUpdateTaskKeepsStopwatch(t *testing.T) {
	r, _ := newTestReducer(fixedNow)
	a := task("a", 30)
	a.TimerRunning = true
	a.TimerStartedAtMs = Int64Ptr(100)
	a.TimerAccumulatedMs = 7_000
	state := State{Bedtime: DefaultBedtime, Tasks: []Task{a}}

	edit := task("a", 45)
	edit.Title = "longer"
	state = r.Reduce(state, UpdateTask{Task: edit})
	got, _ := state.Task("a")
	assert.Equal(t, "longer", got.Title)
	assert.True(t, got.TimerRunning)
	assert.Equal(t, int64(100), *got.TimerStartedAtMs)
	assert.Equal(t, int64(7_000), got.TimerAccumulatedMs)
}

func TestSetBedtimeAndResetAll(t *testing.T) {
	r, c := newTestReducer(fixedNow)
	state := State{Bedtime: DefaultBedtime, Tasks: []Task{task("a", 30)}, UpdatedAt: 5}

	state = r.Reduce(state, SetBedtime{Value: "23:15"})
	assert.Equal(t, "23:15", state.Bedtime)
	assert.Equal(t, fixedNow.UnixMilli(), state.UpdatedAt)

	c.now = fixedNow.Add(time.Second)
	state = r.Reduce(state, ResetAll{})
	assert.Equal(t, DefaultState(fixedNow.Add(time.Second).UnixMilli()), state)
}

func TestStampStrictlyIncreasesWhenClockStalls(t *testing.T) {
	r, c := newTestReducer(fixedNow)
	ahead := fixedNow.Add(time.Hour).UnixMilli()
	state := State{Bedtime: DefaultBedtime, Tasks: []Task{}, UpdatedAt: ahead}

	state = r.Reduce(state, SetBedtime{Value: "22:00"})
	assert.Equal(t, ahead+1, state.UpdatedAt)
	state = r.Reduce(state, SetBedtime{Value: "22:05"})
	assert.Equal(t, ahead+2, state.UpdatedAt)

	c.now = fixedNow.Add(2 * time.Hour)
	state = r.Reduce(state, SetBedtime{Value: "22:10"})
	assert.Equal(t, c.now.UnixMilli(), state.UpdatedAt)
}

func TestInitNormalizesPayload(t *testing.T) {
	r, _ := newTestReducer(fixedNow)
	prev := State{Bedtime: "21:00", Tasks: []Task{task("a", 30)}, UpdatedAt: 99}
	got := r.Reduce(prev, Init{Payload: `{"bedtime":"23:00","tasks":[{"id":"x","title":"x","plannedMin":3}],"updatedAt":300}`})
	assert.Equal(t, "23:00", got.Bedtime)
	assert.Equal(t, int64(300), got.UpdatedAt, "init adopts the payload version")
	require.Len(t, got.Tasks, 1)
	assert.Equal(t, "x", got.Tasks[0].ID)
}

type renameEverything struct{}

func (renameEverything) Kind() string { return "renameEverything" }

func TestUnknownActionAndMissingTaskAreNoOps(t *testing.T) {
	r, _ := newTestReducer(fixedNow)
	state := State{Bedtime: DefaultBedtime, Tasks: []Task{task("a", 30)}, UpdatedAt: 7}

	assert.Equal(t, state, r.Reduce(state, renameEverything{}))
	assert.Equal(t, state, r.Reduce(state, nil))
	assert.Equal(t, state, r.Reduce(state, DeleteTask{ID: "ghost"}))
	assert.Equal(t, state, r.Reduce(state, StopTimer{ID: "ghost", NowMs: 1}))
	assert.Equal(t, state, r.Reduce(state, ToggleDone{ID: "ghost", Done: true}))
	assert.Equal(t, state, r.Reduce(state, UpdateTask{Task: task("ghost", 1)}))
}

func TestReduceNeverMutatesInput(t *testing.T) {
	r, _ := newTestReducer(fixedNow)
	a := task("a", 30)
	a.TimerRunning = true
	a.TimerStartedAtMs = Int64Ptr(0)
	state := State{Bedtime: DefaultBedtime, Tasks: []Task{a, task("b", 5)}, UpdatedAt: 1}
	snapshot := state.Clone()

	actions := []Action{
		SetBedtime{Value: "23:00"},
		CreateTask{Task: task("c", 1)},
		UpdateTask{Task: task("a", 40)},
		DeleteTask{ID: "b"},
		ToggleDone{ID: "a", Done: true, NowMs: 10_000},
		StartTimer{ID: "b", NowMs: 10_000},
		StopTimer{ID: "a", NowMs: 10_000},
		ResetAll{},
	}
	for _, action := range actions {
		_ = r.Reduce(state, action)
		require.Equal(t, snapshot, state, action.Kind())
	}
}
