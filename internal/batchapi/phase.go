package batchapi

import "fmt"

// Phase collapses the service's wire statuses into the closed set the
// rest of the program reasons about. Every switch over Phase should
// handle all five values.
type Phase int

const (
	PhaseQueued Phase = iota
	PhaseInProgress
	PhaseCompleted
	PhaseFailed
	PhaseExpired
)

func (p Phase) String() string {
	switch p {
	case PhaseQueued:
		return "queued"
	case PhaseInProgress:
		return "in_progress"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	case PhaseExpired:
		return "expired"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Terminal reports whether the remote job will never progress further.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseExpired
}

// ParsePhase maps a wire status onto a Phase. Unknown statuses are an
// error so a service-side vocabulary change cannot be misread as
// progress.
func ParsePhase(status string) (Phase, error) {
	switch status {
	case "validating", "queued":
		return PhaseQueued, nil
	case "in_progress", "finalizing":
		return PhaseInProgress, nil
	case "completed":
		return PhaseCompleted, nil
	case "failed", "cancelling", "cancelled":
		return PhaseFailed, nil
	case "expired":
		return PhaseExpired, nil
	default:
		return 0, fmt.Errorf("unknown remote batch status %q", status)
	}
}

// Phase maps the job's wire status onto the closed phase set.
func (j *Job) Phase() (Phase, error) {
	return ParsePhase(j.Status)
}
