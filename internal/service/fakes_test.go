package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/capitalize-ai/agui-gateway/internal/agui"
	"github.com/capitalize-ai/agui-gateway/internal/llm"
	"github.com/capitalize-ai/agui-gateway/internal/model"
)

// memoryLog is an in-memory EventLog.
type memoryLog struct {
	mu       sync.Mutex
	seq      uint64
	messages []model.Message
	events   map[agui.ConversationKey][]model.RecordedEvent

	failMessages bool
	failEvents   bool
	failHistory  bool
}

func newMemoryLog() *memoryLog {
	return &memoryLog{events: make(map[agui.ConversationKey][]model.RecordedEvent)}
}

func (l *memoryLog) PublishMessage(ctx context.Context, msg *model.Message) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failMessages {
		return 0, errors.New("stream unavailable")
	}
	l.seq++
	m := *msg
	m.Sequence = l.seq
	l.messages = append(l.messages, m)
	return l.seq, nil
}

func (l *memoryLog) PublishEvent(ctx context.Context, tenantID string, key agui.ConversationKey, event agui.Event) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failEvents {
		return 0, errors.New("stream unavailable")
	}
	l.seq++
	l.events[key] = append(l.events[key], model.RecordedEvent{Sequence: l.seq, Event: event})
	return l.seq, nil
}

func (l *memoryLog) GetMessages(ctx context.Context, tenantID, threadID string, afterSequence uint64, limit int) ([]model.Message, uint64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failHistory {
		return nil, 0, false, errors.New("fetch failed")
	}
	var out []model.Message
	var last uint64
	for _, m := range l.messages {
		if m.TenantID != tenantID || m.ThreadID != threadID || m.Sequence <= afterSequence {
			continue
		}
		if len(out) == limit {
			return out, last, true, nil
		}
		out = append(out, m)
		last = m.Sequence
	}
	return out, last, false, nil
}

func (l *memoryLog) GetRunEvents(ctx context.Context, tenantID string, key agui.ConversationKey, afterSequence uint64, limit int) ([]model.RecordedEvent, uint64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.RecordedEvent
	var last uint64
	for _, e := range l.events[key] {
		if e.Sequence <= afterSequence {
			continue
		}
		if len(out) == limit {
			return out, last, true, nil
		}
		out = append(out, e)
		last = e.Sequence
	}
	return out, last, false, nil
}

func (l *memoryLog) eventTypes(key agui.ConversationKey) []agui.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []agui.EventType
	for _, e := range l.events[key] {
		out = append(out, e.Event.Type())
	}
	return out
}

// scriptedLLM streams a fixed list of deltas, optionally failing after them.
// With block set it waits for ctx to end after the deltas.
type scriptedLLM struct {
	deltas []string
	err    error
	block  bool

	mu   sync.Mutex
	reqs []*llm.CompletionRequest
}

func (c *scriptedLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return c.CompleteStream(ctx, req, func(string, int) error { return nil })
}

func (c *scriptedLLM) CompleteStream(ctx context.Context, req *llm.CompletionRequest, callback llm.StreamCallback) (*llm.CompletionResponse, error) {
	c.mu.Lock()
	c.reqs = append(c.reqs, req)
	c.mu.Unlock()

	for i, d := range c.deltas {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := callback(d, i); err != nil {
			return nil, err
		}
	}
	if c.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if c.err != nil {
		return nil, c.err
	}
	return &llm.CompletionResponse{
		Content:    strings.Join(c.deltas, ""),
		Model:      req.Model,
		TokensIn:   10,
		TokensOut:  len(c.deltas),
		StopReason: "end_turn",
	}, nil
}

func (c *scriptedLLM) Name() string     { return "scripted" }
func (c *scriptedLLM) Models() []string { return []string{"scripted-1"} }

// recorder collects emitted events, failing once failAfter events were written.
type recorder struct {
	events    []agui.Event
	failAfter int
}

func (r *recorder) emit(e agui.Event) error {
	if r.failAfter > 0 && len(r.events) >= r.failAfter {
		return errors.New("broken pipe")
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []agui.EventType {
	out := make([]agui.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type()
	}
	return out
}
