package domain

import (
	"context"
	"time"
)

// ListOpts pages through the audit log. A zero Limit means the store's
// default page size. Since and Until bound CreatedAt inclusively.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditEntry records one committed transition or archive run. Event is the
// EventType for transitions and "archive.markets" for archive runs.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore is the append-only audit log. List returns newest first.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
