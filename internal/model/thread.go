// Package model defines data structures for the agent streaming gateway.
package model

import (
	"time"
)

// Thread is a conversation thread that runs are executed against.
type Thread struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenant_id"`
	UserID    string            `json:"user_id"`
	Title     string            `json:"title"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	RunCount  int               `json:"run_count,omitempty"`
	LastRunID string            `json:"last_run_id,omitempty"`
	Deleted   bool              `json:"deleted,omitempty"`
}

// CreateThreadRequest is the request to create a new thread.
type CreateThreadRequest struct {
	Title    string            `json:"title"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// UpdateThreadRequest is the request to update a thread.
type UpdateThreadRequest struct {
	Title    string            `json:"title,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ListThreadsResponse is the response for listing threads.
type ListThreadsResponse struct {
	Threads []Thread `json:"threads"`
	Total   int      `json:"total"`
	HasMore bool     `json:"has_more"`
}
