package worker

import "fmt"

// Stage is a state in the job state machine:
//
//	listing → downloading → merging → merged | merge_failed
//	  → submitting → submitted | submit_failed → done
type Stage string

const (
	StageListing      Stage = "listing"
	StageDownloading  Stage = "downloading"
	StageMerging      Stage = "merging"
	StageMerged       Stage = "merged"
	StageMergeFailed  Stage = "merge_failed"
	StageSubmitting   Stage = "submitting"
	StageSubmitted    Stage = "submitted"
	StageSubmitFailed Stage = "submit_failed"
	StageDone         Stage = "done"
)

// failedStage maps an active stage to the terminal state entered on failure.
// Stages without a dedicated failure state fail in place.
func failedStage(s Stage) Stage {
	switch s {
	case StageMerging:
		return StageMergeFailed
	case StageSubmitting:
		return StageSubmitFailed
	default:
		return s
	}
}

// StageError is a job failure annotated with the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
