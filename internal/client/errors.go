package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnexpectedStatus is returned for any non 2xx answer from the backend.
type ErrUnexpectedStatus struct {
	error
	StatusCode int
	Detail     string
}

func NewErrUnexpectedStatus(statusCode int, body []byte) *ErrUnexpectedStatus {
	detail := extractDetail(body)
	msg := fmt.Sprintf("backend returned status %d", statusCode)
	if detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, detail)
	}
	return &ErrUnexpectedStatus{
		error:      fmt.Errorf("%s", msg),
		StatusCode: statusCode,
		Detail:     detail,
	}
}

// Reason is the most specific text available: the server detail if any,
// otherwise the HTTP status text.
func (e *ErrUnexpectedStatus) Reason() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

var detailFields = []string{"detail", "error", "message"}

// extractDetail looks for the server supplied explanation in an error body.
// Non string values (FastAPI style validation lists) are kept as compact JSON.
func extractDetail(body []byte) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return ""
	}
	for _, name := range detailFields {
		raw, ok := fields[name]
		if !ok || string(raw) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
			continue
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, raw); err == nil {
			return compact.String()
		}
	}
	return ""
}
