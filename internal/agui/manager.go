package agui

import (
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/agui-gateway/pkg/logger"
	"github.com/capitalize-ai/agui-gateway/pkg/metrics"
)

// Manager decides, per conversation, whether a requested lifecycle event may
// be emitted. A rejected request is suppressed: the caller writes nothing.
// Manager never returns errors.
type Manager struct {
	registry *Registry
	newID    IDGenerator
	now      func() time.Time
	logger   *logger.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithIDGenerator overrides how message ids are minted.
func WithIDGenerator(gen IDGenerator) Option {
	return func(m *Manager) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// WithClock sets the clock used to stamp events. A nil clock leaves
// timestamps off.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger used for suppression diagnostics.
func WithLogger(log *logger.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.logger = log
		}
	}
}

// NewManager creates a state machine backed by registry.
func NewManager(registry *Registry, opts ...Option) *Manager {
	if registry == nil {
		registry = NewRegistry()
	}
	m := &Manager{
		registry: registry,
		newID:    NewMessageID,
		now:      time.Now,
		logger:   logger.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the registry backing this manager.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// RequestRunStarted reports whether RUN_STARTED may be emitted for key. Only
// the first request of a lifecycle succeeds.
func (m *Manager) RequestRunStarted(key ConversationKey) bool {
	var ok bool
	m.registry.update(key, func(st *conversationState) bool {
		if !st.runStarted {
			st.runStarted = true
			ok = true
		}
		return false
	})
	m.record(key, EventTypeRunStarted, ok)
	return ok
}

// RequestTextMessageStart opens a message and returns its new id. It is
// suppressed while a message is already open, including one opened implicitly
// by content.
func (m *Manager) RequestTextMessageStart(key ConversationKey) (string, bool) {
	var (
		id string
		ok bool
	)
	m.registry.update(key, func(st *conversationState) bool {
		id, ok = st.openMessage(m.newID)
		return false
	})
	m.record(key, EventTypeTextMessageStart, ok)
	return id, ok
}

// RequestTextMessageContent always succeeds and returns the id of the open
// message, opening one if none is.
func (m *Manager) RequestTextMessageContent(key ConversationKey, delta string) string {
	var id string
	m.registry.update(key, func(st *conversationState) bool {
		id = st.currentOrOpen(m.newID)
		return false
	})
	m.record(key, EventTypeTextMessageContent, true)
	return id
}

// RequestTextMessageEnd closes the open message and returns its id. It is
// suppressed when no message is open.
func (m *Manager) RequestTextMessageEnd(key ConversationKey) (string, bool) {
	var (
		id string
		ok bool
	)
	m.registry.update(key, func(st *conversationState) bool {
		id, ok = st.closeMessage()
		return false
	})
	m.record(key, EventTypeTextMessageEnd, ok)
	return id, ok
}

// RequestRunFinished always succeeds and discards the conversation's state,
// so the next request for key starts a new lifecycle.
func (m *Manager) RequestRunFinished(key ConversationKey) {
	m.terminate(key, EventTypeRunFinished)
}

// RunStarted returns a RUN_STARTED event, or false if suppressed.
func (m *Manager) RunStarted(key ConversationKey) (Event, bool) {
	if !m.RequestRunStarted(key) {
		return nil, false
	}
	return m.stamped(NewRunStartedEvent(key.ThreadID, key.RunID)), true
}

// TextMessageStart returns a TEXT_MESSAGE_START event, or false if suppressed.
func (m *Manager) TextMessageStart(key ConversationKey) (Event, bool) {
	id, ok := m.RequestTextMessageStart(key)
	if !ok {
		return nil, false
	}
	return m.stamped(NewTextMessageStartEvent(id)), true
}

// TextMessageContent returns a TEXT_MESSAGE_CONTENT event carrying delta.
func (m *Manager) TextMessageContent(key ConversationKey, delta string) Event {
	id := m.RequestTextMessageContent(key, delta)
	return m.stamped(NewTextMessageContentEvent(id, delta))
}

// TextMessageEnd returns a TEXT_MESSAGE_END event, or false if suppressed.
func (m *Manager) TextMessageEnd(key ConversationKey) (Event, bool) {
	id, ok := m.RequestTextMessageEnd(key)
	if !ok {
		return nil, false
	}
	return m.stamped(NewTextMessageEndEvent(id)), true
}

// RunFinished returns a RUN_FINISHED event and resets key.
func (m *Manager) RunFinished(key ConversationKey) Event {
	m.RequestRunFinished(key)
	return m.stamped(NewRunFinishedEvent(key.ThreadID, key.RunID))
}

// RunError returns a RUN_ERROR event and resets key, like RunFinished.
func (m *Manager) RunError(key ConversationKey, message, code string) Event {
	m.terminate(key, EventTypeRunError)
	return m.stamped(NewRunErrorEvent(message, code))
}

func (m *Manager) terminate(key ConversationKey, t EventType) {
	m.registry.update(key, func(*conversationState) bool { return true })
	m.record(key, t, true)
}

func (m *Manager) stamped(e Event) Event {
	if m.now != nil {
		stamp(e, m.now().UnixMilli())
	}
	return e
}

func (m *Manager) record(key ConversationKey, t EventType, emitted bool) {
	metrics.RecordEvent(string(t), emitted)
	if !emitted {
		m.logger.Debug("lifecycle event suppressed",
			zap.String("type", string(t)),
			zap.String("thread_id", key.ThreadID),
			zap.String("run_id", key.RunID),
		)
	}
}
