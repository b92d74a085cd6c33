// Package agui implements the run/message lifecycle of a streamed agent
// conversation: which events may be emitted for a (thread, run) pair, in what
// order, and how they are rendered on the wire.
package agui

import (
	"encoding/json"
	"fmt"
)

// EventType is the wire name of a lifecycle event.
type EventType string

const (
	EventTypeRunStarted         EventType = "RUN_STARTED"
	EventTypeTextMessageStart   EventType = "TEXT_MESSAGE_START"
	EventTypeTextMessageContent EventType = "TEXT_MESSAGE_CONTENT"
	EventTypeTextMessageEnd     EventType = "TEXT_MESSAGE_END"
	EventTypeRunFinished        EventType = "RUN_FINISHED"
	EventTypeRunError           EventType = "RUN_ERROR"
)

// RoleAssistant is the only role this gateway streams messages as.
const RoleAssistant = "assistant"

// Event is a lifecycle event ready to be written to a client.
type Event interface {
	Type() EventType
}

// RunStartedEvent opens a run.
type RunStartedEvent struct {
	EventType EventType `json:"type"`
	ThreadID  string    `json:"threadId"`
	RunID     string    `json:"runId"`
	Timestamp int64     `json:"timestamp,omitempty"`
}

// NewRunStartedEvent creates a RUN_STARTED event.
func NewRunStartedEvent(threadID, runID string) *RunStartedEvent {
	return &RunStartedEvent{EventType: EventTypeRunStarted, ThreadID: threadID, RunID: runID}
}

// Type implements Event.
func (e *RunStartedEvent) Type() EventType { return EventTypeRunStarted }

// TextMessageStartEvent opens an assistant message.
type TextMessageStartEvent struct {
	EventType EventType `json:"type"`
	MessageID string    `json:"messageId"`
	Role      string    `json:"role"`
	Timestamp int64     `json:"timestamp,omitempty"`
}

// NewTextMessageStartEvent creates a TEXT_MESSAGE_START event for an assistant message.
func NewTextMessageStartEvent(messageID string) *TextMessageStartEvent {
	return &TextMessageStartEvent{EventType: EventTypeTextMessageStart, MessageID: messageID, Role: RoleAssistant}
}

// Type implements Event.
func (e *TextMessageStartEvent) Type() EventType { return EventTypeTextMessageStart }

// TextMessageContentEvent carries one delta of an open message.
type TextMessageContentEvent struct {
	EventType EventType `json:"type"`
	MessageID string    `json:"messageId"`
	Delta     string    `json:"delta"`
	Timestamp int64     `json:"timestamp,omitempty"`
}

// NewTextMessageContentEvent creates a TEXT_MESSAGE_CONTENT event.
func NewTextMessageContentEvent(messageID, delta string) *TextMessageContentEvent {
	return &TextMessageContentEvent{EventType: EventTypeTextMessageContent, MessageID: messageID, Delta: delta}
}

// Type implements Event.
func (e *TextMessageContentEvent) Type() EventType { return EventTypeTextMessageContent }

// TextMessageEndEvent closes a message.
type TextMessageEndEvent struct {
	EventType EventType `json:"type"`
	MessageID string    `json:"messageId"`
	Timestamp int64     `json:"timestamp,omitempty"`
}

// NewTextMessageEndEvent creates a TEXT_MESSAGE_END event.
func NewTextMessageEndEvent(messageID string) *TextMessageEndEvent {
	return &TextMessageEndEvent{EventType: EventTypeTextMessageEnd, MessageID: messageID}
}

// Type implements Event.
func (e *TextMessageEndEvent) Type() EventType { return EventTypeTextMessageEnd }

// RunFinishedEvent closes a run.
type RunFinishedEvent struct {
	EventType EventType `json:"type"`
	ThreadID  string    `json:"threadId"`
	RunID     string    `json:"runId"`
	Timestamp int64     `json:"timestamp,omitempty"`
}

// NewRunFinishedEvent creates a RUN_FINISHED event.
func NewRunFinishedEvent(threadID, runID string) *RunFinishedEvent {
	return &RunFinishedEvent{EventType: EventTypeRunFinished, ThreadID: threadID, RunID: runID}
}

// Type implements Event.
func (e *RunFinishedEvent) Type() EventType { return EventTypeRunFinished }

// RunErrorEvent terminates a run that failed.
type RunErrorEvent struct {
	EventType EventType `json:"type"`
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Timestamp int64     `json:"timestamp,omitempty"`
}

// NewRunErrorEvent creates a RUN_ERROR event.
func NewRunErrorEvent(message, code string) *RunErrorEvent {
	return &RunErrorEvent{EventType: EventTypeRunError, Message: message, Code: code}
}

// Type implements Event.
func (e *RunErrorEvent) Type() EventType { return EventTypeRunError }

// Marshal renders an event as a flat JSON object.
func Marshal(e Event) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("nil event")
	}
	return json.Marshal(e)
}

// Unmarshal decodes a record produced by Marshal back into its typed event.
func Unmarshal(data []byte) (Event, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to decode event type: %w", err)
	}

	var e Event
	switch head.Type {
	case EventTypeRunStarted:
		e = &RunStartedEvent{}
	case EventTypeTextMessageStart:
		e = &TextMessageStartEvent{}
	case EventTypeTextMessageContent:
		e = &TextMessageContentEvent{}
	case EventTypeTextMessageEnd:
		e = &TextMessageEndEvent{}
	case EventTypeRunFinished:
		e = &RunFinishedEvent{}
	case EventTypeRunError:
		e = &RunErrorEvent{}
	default:
		return nil, fmt.Errorf("unknown event type %q", head.Type)
	}

	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", head.Type, err)
	}
	return e, nil
}

// stamp sets the event timestamp in unix milliseconds.
func stamp(e Event, ms int64) {
	switch ev := e.(type) {
	case *RunStartedEvent:
		ev.Timestamp = ms
	case *TextMessageStartEvent:
		ev.Timestamp = ms
	case *TextMessageContentEvent:
		ev.Timestamp = ms
	case *TextMessageEndEvent:
		ev.Timestamp = ms
	case *RunFinishedEvent:
		ev.Timestamp = ms
	case *RunErrorEvent:
		ev.Timestamp = ms
	}
}
