package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxRetries is the number of delivery attempts an item receives before it
// is marked permanently failed.
const MaxRetries = 5

// Status represents an item's position in the delivery lifecycle.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInFlight Status = "in_flight"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
)

// ParseStatus converts a string into a Status.
func ParseStatus(value string) (Status, error) {
	switch Status(value) {
	case StatusPending, StatusInFlight, StatusSuccess, StatusFailed:
		return Status(value), nil
	default:
		return "", fmt.Errorf("unknown queue status %q", value)
	}
}

// Metadata travels with the payload and is forwarded to the remote
// endpoint as request headers.
type Metadata struct {
	Label      string    `json:"label,omitempty"`
	Phase      string    `json:"phase,omitempty"`
	Sequence   int       `json:"sequence,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Device     string    `json:"device,omitempty"`
	CapturedAt time.Time `json:"captured_at,omitzero"`
}

// Item is a single unit of upload work.
type Item struct {
	ID            string
	Payload       []byte
	Metadata      Metadata
	Status        Status
	RetryCount    int
	ErrorMessage  string
	CreatedAt     time.Time
	LastAttemptAt time.Time
}

// NewItem builds a pending item with a fresh identity.
func NewItem(payload []byte, meta Metadata) *Item {
	return &Item{
		ID:        uuid.NewString(),
		Payload:   payload,
		Metadata:  meta,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Terminal reports whether the item has reached a final status.
func (i *Item) Terminal() bool {
	return i.Status == StatusSuccess || i.Status == StatusFailed
}

func (i *Item) clone() *Item {
	cp := *i
	if i.Payload != nil {
		cp.Payload = make([]byte, len(i.Payload))
		copy(cp.Payload, i.Payload)
	}
	return &cp
}
