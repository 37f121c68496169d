// Package api defines the JSON shapes shared by the HTTP API, the IPC
// surface, and the CLI.
package api

import (
	"time"

	"courier/internal/engine"
	"courier/internal/queue"
)

// QueueItemView is the external representation of a queue item. Payload
// bytes stay internal; callers see identity and lifecycle only.
type QueueItemView struct {
	ID            string     `json:"id"`
	Label         string     `json:"label,omitempty"`
	Phase         string     `json:"phase,omitempty"`
	Sequence      int        `json:"sequence,omitempty"`
	SessionID     string     `json:"session_id,omitempty"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	PayloadBytes  int        `json:"payload_bytes"`
	CreatedAt     time.Time  `json:"created_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
}

// ItemView converts a queue item.
func ItemView(item *queue.Item) QueueItemView {
	view := QueueItemView{
		ID:           item.ID,
		Label:        item.Metadata.Label,
		Phase:        item.Metadata.Phase,
		Sequence:     item.Metadata.Sequence,
		SessionID:    item.Metadata.SessionID,
		Status:       string(item.Status),
		RetryCount:   item.RetryCount,
		ErrorMessage: item.ErrorMessage,
		PayloadBytes: len(item.Payload),
		CreatedAt:    item.CreatedAt,
	}
	if !item.LastAttemptAt.IsZero() {
		at := item.LastAttemptAt
		view.LastAttemptAt = &at
	}
	return view
}

// ItemViews converts a slice of queue items.
func ItemViews(items []*queue.Item) []QueueItemView {
	views := make([]QueueItemView, 0, len(items))
	for _, item := range items {
		views = append(views, ItemView(item))
	}
	return views
}

// ProgressSummary tallies the queue for external callers.
type ProgressSummary struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
	Total   int `json:"total"`
}

// ProgressFrom converts a queue tally.
func ProgressFrom(p queue.Progress) ProgressSummary {
	return ProgressSummary{
		Success: p.Success,
		Failed:  p.Failed,
		Pending: p.Pending,
		Total:   p.Total(),
	}
}

// EngineStatus is the external engine snapshot.
type EngineStatus struct {
	State          string          `json:"state"`
	RateLimitHits  int             `json:"rate_limit_hits"`
	ResumeAt       *time.Time      `json:"resume_at,omitempty"`
	SpilloverCount int             `json:"spillover_count"`
	Progress       ProgressSummary `json:"progress"`
}

// StatusFrom converts an engine snapshot.
func StatusFrom(status engine.Status) EngineStatus {
	out := EngineStatus{
		State:          string(status.State),
		RateLimitHits:  status.RateLimitHits,
		SpilloverCount: status.SpilloverCount,
		Progress:       ProgressFrom(status.Progress),
	}
	if !status.ResumeAt.IsZero() {
		at := status.ResumeAt
		out.ResumeAt = &at
	}
	return out
}
