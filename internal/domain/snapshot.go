package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Snapshot is the most recent raw endpoint response, kept for diagnostics.
type Snapshot struct {
	DispatchID string          `json:"dispatch_id"`
	ChatID     string          `json:"chat_id"`
	CommandSet string          `json:"command_set"`
	URL        string          `json:"url"`
	Status     string          `json:"status"`
	Message    string          `json:"message,omitempty"`
	ErrorKind  string          `json:"error_kind,omitempty"`
	HTTPStatus int             `json:"http_status,omitempty"`
	LatencyMs  int64           `json:"latency_ms"`
	Data       json.RawMessage `json:"data,omitempty"` // full, untruncated payload
	Raw        string          `json:"raw,omitempty"`  // response body as received
	CreatedAt  time.Time       `json:"created_at"`
}

// SnapshotStore persists a single last-value snapshot, overwritten on every save.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Last(ctx context.Context) (*Snapshot, error)
	Close() error
}
