package model

import (
	"time"

	"github.com/capitalize-ai/agui-gateway/internal/agui"
)

// RecordedEvent is a lifecycle event read back from the event log.
type RecordedEvent struct {
	Sequence uint64
	Event    agui.Event
}

// ErrorEvent is sent on a stream when a request fails before a run starts.
type ErrorEvent struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// HeartbeatEvent keeps an idle stream open.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// ReplayCompleteEvent marks the end of a replayed run.
type ReplayCompleteEvent struct {
	LastSequence uint64 `json:"last_sequence"`
	EventCount   int    `json:"event_count"`
}
