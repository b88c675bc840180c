package domain

import "time"

// FeedEntry is one immutable audit record. Seq is assigned by the sink and is
// strictly increasing in append order.
type FeedEntry struct {
	ID        string    `json:"id,omitempty"`
	Seq       uint64    `json:"seq"`
	ProjectID string    `json:"project_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Agent     AgentID   `json:"agent"`
	Category  string    `json:"category"`
	Action    string    `json:"action"`
	Details   any       `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditFunc receives every entry after it has been appended.
type AuditFunc func(entry FeedEntry)
