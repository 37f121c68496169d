// Package ipc is the local control channel between the CLI and the
// daemon: JSON-RPC over a unix socket.
package ipc

import (
	"time"

	"courier/internal/api"
)

// ServiceName is the RPC service the daemon registers.
const ServiceName = "Courier"

// Empty is the placeholder for calls without arguments or results.
type Empty struct{}

// EnqueueRequest carries a payload into the daemon. Payload travels as
// base64 through the JSON codec.
type EnqueueRequest struct {
	Payload    []byte    `json:"payload"`
	Label      string    `json:"label,omitempty"`
	Phase      string    `json:"phase,omitempty"`
	Sequence   int       `json:"sequence,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Device     string    `json:"device,omitempty"`
	CapturedAt time.Time `json:"captured_at,omitzero"`
}

// EnqueueResponse returns the accepted item.
type EnqueueResponse struct {
	Item api.QueueItemView `json:"item"`
}

// StatusResponse returns the engine snapshot.
type StatusResponse struct {
	Status api.EngineStatus `json:"status"`
}

// QueueListResponse returns every tracked item.
type QueueListResponse struct {
	Items []api.QueueItemView `json:"items"`
}

// ProgressResponse returns the queue tally.
type ProgressResponse struct {
	Progress api.ProgressSummary `json:"progress"`
}

// CountResponse returns how many items an operation touched.
type CountResponse struct {
	Count int `json:"count"`
}

// ResumeResponse reports whether a pause was actually lifted.
type ResumeResponse struct {
	Resumed bool `json:"resumed"`
}
