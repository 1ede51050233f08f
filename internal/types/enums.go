package types

// RunStatus represents the lifecycle state of a ModelRun.
//
// Transitions are owned exclusively by the run coordinator:
// pending -> processing -> completed | failed. A failed run may be
// re-claimed (failed -> processing) by a later attempt for the same
// (model, run time) pair.
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusProcessing RunStatus = "processing"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// JobStatus represents the state of one job_history attempt.
type JobStatus string

const (
	JobStatusStarted   JobStatus = "started"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobType identifies the kind of work a job_history row records.
type JobType string

const (
	JobTypeModelRun JobType = "model_run"
	JobTypeBlend    JobType = "blend"
)

// ElevationType selects which of a resort's two reference elevations a
// forecast applies to. The snow/rain split depends on the elevation relative
// to the freezing level, so every series is produced once per elevation type.
type ElevationType string

const (
	ElevationSummit ElevationType = "summit"
	ElevationBase   ElevationType = "base"
)

// ElevationTypes lists both reference elevations in sweep order.
var ElevationTypes = []ElevationType{ElevationSummit, ElevationBase}

// IsValid reports whether the value is one of the two known elevation types.
func (e ElevationType) IsValid() bool {
	return e == ElevationSummit || e == ElevationBase
}
