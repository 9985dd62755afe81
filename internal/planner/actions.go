package planner

// Action is a request to transition the shared document. Reduce ignores kinds
// it does not recognize.
type Action interface {
	Kind() string
}

// Action kinds.
const (
	KindInit       = "init"
	KindSetBedtime = "setBedtime"
	KindCreateTask = "createTask"
	KindUpdateTask = "updateTask"
	KindDeleteTask = "deleteTask"
	KindToggleDone = "toggleDone"
	KindStartTimer = "startTimer"
	KindStopTimer  = "stopTimer"
	KindResetAll   = "resetAll"
)

// Init replaces the state wholesale with the normalized payload. It is the
// entry transition for first load and for every remote document.
type Init struct {
	Payload any
}

// SetBedtime replaces the shared deadline.
type SetBedtime struct {
	Value string
}

// CreateTask prepends a task.
type CreateTask struct {
	Task Task
}

// UpdateTask replaces the task with the same id.
type UpdateTask struct {
	Task Task
}

// DeleteTask removes the task with the given id.
type DeleteTask struct {
	ID string
}

// ToggleDone marks a task finished or reopens it.
type ToggleDone struct {
	ID    string
	Done  bool
	NowMs int64
}

// StartTimer starts the stopwatch of one task, stopping any other first.
type StartTimer struct {
	ID    string
	NowMs int64
}

// StopTimer stops the stopwatch of one task.
type StopTimer struct {
	ID    string
	NowMs int64
}

// ResetAll replaces the document with an empty plan.
type ResetAll struct{}

func (Init) Kind() string       { return KindInit }
func (SetBedtime) Kind() string { return KindSetBedtime }
func (CreateTask) Kind() string { return KindCreateTask }
func (UpdateTask) Kind() string { return KindUpdateTask }
func (DeleteTask) Kind() string { return KindDeleteTask }
func (ToggleDone) Kind() string { return KindToggleDone }
func (StartTimer) Kind() string { return KindStartTimer }
func (StopTimer) Kind() string  { return KindStopTimer }
func (ResetAll) Kind() string   { return KindResetAll }
