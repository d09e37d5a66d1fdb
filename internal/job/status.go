package job

import "strings"

// Class is the client side interpretation of a backend status string.
type Class string

const (
	ClassPending    Class = "pending"
	ClassProcessing Class = "processing"
	ClassSucceeded  Class = "succeeded"
	ClassFailed     Class = "failed"
	ClassUnknown    Class = "unknown"
)

// Backend routes disagree on spelling and casing, every comparison goes
// through Classify.
var statusClasses = map[string]Class{
	"queued":      ClassPending,
	"pending":     ClassPending,
	"waiting":     ClassPending,
	"scheduled":   ClassPending,
	"processing":  ClassProcessing,
	"running":     ClassProcessing,
	"started":     ClassProcessing,
	"in_progress": ClassProcessing,
	"rendering":   ClassProcessing,
	"success":     ClassSucceeded,
	"succeeded":   ClassSucceeded,
	"completed":   ClassSucceeded,
	"complete":    ClassSucceeded,
	"done":        ClassSucceeded,
	"finished":    ClassSucceeded,
	"failed":      ClassFailed,
	"failure":     ClassFailed,
	"error":       ClassFailed,
	"errored":     ClassFailed,
	"cancelled":   ClassFailed,
	"canceled":    ClassFailed,
}

// Classify maps a raw status to its class, ignoring case, surrounding space
// and the dash/space variants of in_progress.
func Classify(status string) Class {
	s := strings.ToLower(strings.TrimSpace(status))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	if c, ok := statusClasses[s]; ok {
		return c
	}
	return ClassUnknown
}

func (c Class) Terminal() bool {
	return c == ClassSucceeded || c == ClassFailed
}
