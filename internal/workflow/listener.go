package workflow

import "github.com/montagehq/montage/internal/media"

// View is a copy of the workflow state handed to listeners and callers.
type View struct {
	State       State            `json:"state"`
	Selection   *media.Selection `json:"selection,omitempty"`
	JobID       string           `json:"jobId,omitempty"`
	Format      string           `json:"format,omitempty"`
	Progress    float64          `json:"progress"`
	Stage       string           `json:"stage,omitempty"`
	ArtifactURL string           `json:"artifactUrl,omitempty"`
	Failure     *Failure         `json:"failure,omitempty"`

	seq uint64
}

// Err returns the failure of a failed or abandoned workflow.
func (v View) Err() error {
	if v.Failure == nil {
		return nil
	}
	return v.Failure
}

// Listener is called after every visible change, in order. Listeners run on
// the goroutine that caused the change and must not call Select, Submit or
// Track.
type Listener interface {
	OnUpdate(View)
}

type ListenerFunc func(View)

func (f ListenerFunc) OnUpdate(v View) {
	f(v)
}
