package workflow

type State string

const (
	StateIdle       State = "idle"
	StateUploading  State = "uploading"
	StateProcessing State = "processing"
	StateDone       State = "done"
	StateFailed     State = "failed"
	// StateAbandoned means polling gave up before the job finished. The job
	// itself may still complete on the backend.
	StateAbandoned State = "abandoned"
)

// InFlight states block another Submit or Track.
func (s State) InFlight() bool {
	return s == StateUploading || s == StateProcessing
}

func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateAbandoned
}
