package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one recorded turn of a thread.
type Message struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	RunID    string `json:"run_id,omitempty"`
	TenantID string `json:"tenant_id"`

	Role    Role   `json:"role"`
	Content string `json:"content"`

	// LLM metadata, assistant messages only
	Model      *string `json:"model,omitempty"`
	TokensIn   *int    `json:"tokens_in,omitempty"`
	TokensOut  *int    `json:"tokens_out,omitempty"`
	LatencyMs  *int64  `json:"latency_ms,omitempty"`
	StopReason *string `json:"stop_reason,omitempty"`

	CreatedAt     time.Time  `json:"created_at"`
	StreamStarted *time.Time `json:"stream_started,omitempty"`
	StreamEnded   *time.Time `json:"stream_ended,omitempty"`

	// Populated on read from JetStream
	Sequence uint64 `json:"sequence,omitempty"`
}

// RunRequest starts a run: a user message answered by a streamed assistant message.
type RunRequest struct {
	RunID   string `json:"run_id,omitempty"`
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

// RunResult summarises a completed run.
type RunResult struct {
	RunID            string   `json:"run_id"`
	UserMessage      *Message `json:"user_message,omitempty"`
	AssistantMessage *Message `json:"assistant_message,omitempty"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages     []Message `json:"messages"`
	HasMore      bool      `json:"has_more"`
	LastSequence uint64    `json:"last_sequence"`
}
