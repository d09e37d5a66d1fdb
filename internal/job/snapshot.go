package job

import "math"

const (
	uploadShare    = 50.0
	processingCap  = 99.0
	CompletedValue = 100.0
)

// Snapshot is the progress shown to the user for one submission. Upload
// covers the first half, server processing the second half. It only moves
// forward, and reaches 100 only through Complete.
type Snapshot struct {
	value float64
}

func (s *Snapshot) Value() float64 {
	return s.value
}

// Percent is the value rounded down for display.
func (s *Snapshot) Percent() int {
	return int(math.Floor(s.value))
}

// Upload maps transferred request bytes into 0..50.
func (s *Snapshot) Upload(sent, total int64) {
	if total <= 0 || sent < 0 {
		return
	}
	if sent > total {
		sent = total
	}
	s.advance(uploadShare * float64(sent) / float64(total))
}

// UploadDone pins the snapshot at the upload boundary once the backend accepted
// the request.
func (s *Snapshot) UploadDone() {
	s.advance(uploadShare)
}

// Processing maps a backend percentage into 50..99.
func (s *Snapshot) Processing(pct float64) {
	if pct < 0 || pct > 100 || math.IsNaN(pct) {
		return
	}
	s.advance(math.Min(uploadShare+pct/2, processingCap))
}

func (s *Snapshot) Complete() {
	s.value = CompletedValue
}

func (s *Snapshot) Reset() {
	s.value = 0
}

func (s *Snapshot) advance(v float64) {
	if s.value >= CompletedValue {
		return
	}
	if v > s.value {
		s.value = v
	}
}
