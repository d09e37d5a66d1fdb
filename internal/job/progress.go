package job

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// PayloadKind records how the backend encoded a progress payload.
type PayloadKind int

const (
	PayloadAbsent PayloadKind = iota
	// PayloadObject is a JSON object embedded in the response.
	PayloadObject
	// PayloadEncoded is a JSON string whose content is itself a JSON object.
	PayloadEncoded
	// PayloadInvalid is anything else; it is kept so it can be reported.
	PayloadInvalid
)

var ErrNoProgress = errors.New("no progress payload")

// Progress is the normalized processing progress reported by the backend.
type Progress struct {
	Percentage *float64 `json:"percentage,omitempty"`
	Message    string   `json:"message,omitempty"`
	Stage      string   `json:"stage,omitempty"`
}

// Label returns the human readable stage text.
func (p *Progress) Label() string {
	if p.Message != "" {
		return p.Message
	}
	return p.Stage
}

// Payload is the progress field as it arrived on the wire. Decoding never
// fails on it so a malformed payload cannot break the status response.
type Payload struct {
	Kind PayloadKind
	raw  json.RawMessage
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	p.raw = append(p.raw[:0], trimmed...)

	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		p.Kind = PayloadAbsent
	case trimmed[0] == '{':
		p.Kind = PayloadObject
	case trimmed[0] == '"':
		p.Kind = PayloadEncoded
	default:
		p.Kind = PayloadInvalid
	}
	return nil
}

func (p Payload) MarshalJSON() ([]byte, error) {
	if p.Kind == PayloadAbsent || len(p.raw) == 0 {
		return []byte("null"), nil
	}
	return p.raw, nil
}

// NewObjectPayload builds a payload the way the backend sends structured
// progress. It is mostly useful for fakes and tests.
func NewObjectPayload(p Progress) Payload {
	raw, _ := json.Marshal(p)
	return Payload{Kind: PayloadObject, raw: raw}
}

// NewEncodedPayload builds a payload carried as a JSON encoded string.
func NewEncodedPayload(p Progress) Payload {
	inner, _ := json.Marshal(p)
	raw, _ := json.Marshal(string(inner))
	return Payload{Kind: PayloadEncoded, raw: raw}
}

// Normalize resolves the payload into a single Progress shape. Percentages
// outside 0..100 are rejected.
func (p Payload) Normalize() (*Progress, error) {
	var body []byte

	switch p.Kind {
	case PayloadAbsent:
		return nil, ErrNoProgress
	case PayloadObject:
		body = p.raw
	case PayloadEncoded:
		var s string
		if err := json.Unmarshal(p.raw, &s); err != nil {
			return nil, fmt.Errorf("decoding progress string: %w", err)
		}
		if len(bytes.TrimSpace([]byte(s))) == 0 {
			return nil, ErrNoProgress
		}
		body = []byte(s)
	default:
		return nil, fmt.Errorf("unexpected progress payload: %s", string(p.raw))
	}

	var progress Progress
	if err := json.Unmarshal(body, &progress); err != nil {
		return nil, fmt.Errorf("decoding progress: %w", err)
	}
	if progress.Percentage != nil && (*progress.Percentage < 0 || *progress.Percentage > 100) {
		return nil, fmt.Errorf("progress percentage out of range: %v", *progress.Percentage)
	}
	return &progress, nil
}
