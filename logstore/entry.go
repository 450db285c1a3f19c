package logstore

import (
	"encoding/json"
	"time"
)

// Kind classifies a log entry.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindError    Kind = "error"
	KindStderr   Kind = "stderr"
)

// Entry is one recorded proxy event. Entries are immutable once created and
// are handed out of the store only as copies.
type Entry struct {
	// ID is the store-assigned monotonic id, distinct from any id on the
	// wire toward the wrappee.
	ID uint64
	// Timestamp is the UTC ingest time.
	Timestamp time.Time
	Kind      Kind
	// Tool is the tool name for request/response/error entries; empty for stderr.
	Tool string
	// RequestID links a response or error back to its originating request entry.
	RequestID uint64
	// Payload carries the request arguments or the raw wrappee response body.
	Payload json.RawMessage
	// Message carries the error message or the stderr line.
	Message string
}

type entryJSON struct {
	ID        uint64          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Type      Kind            `json:"type"`
	Tool      string          `json:"tool_name,omitempty"`
	RequestID uint64          `json:"request_id,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// MarshalJSON renders the entry in the tagged wire shape used by the
// show_log json format: the payload field name depends on the entry kind.
func (e Entry) MarshalJSON() ([]byte, error) {
	out := entryJSON{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		Type:      e.Kind,
		Tool:      e.Tool,
	}
	switch e.Kind {
	case KindRequest:
		out.Arguments = e.Payload
	case KindResponse:
		out.RequestID = e.RequestID
		out.Response = e.Payload
	case KindError:
		out.RequestID = e.RequestID
		out.Error = e.Message
	case KindStderr:
		out.Message = e.Message
	}
	return json.Marshal(out)
}
