package agui

import (
	"github.com/google/uuid"
)

// ConversationKey identifies one run of one thread.
type ConversationKey struct {
	ThreadID string
	RunID    string
}

// Key builds a ConversationKey.
func Key(threadID, runID string) ConversationKey {
	return ConversationKey{ThreadID: threadID, RunID: runID}
}

// MessageIDPrefix marks generated message ids.
const MessageIDPrefix = "msg_"

// IDGenerator returns a new unique message id.
type IDGenerator func() string

// NewMessageID returns "msg_" followed by a time-ordered UUID.
func NewMessageID() string {
	return MessageIDPrefix + uuid.Must(uuid.NewV7()).String()
}

// MessageSubState is either MessageClosed or MessageOpen.
type MessageSubState interface {
	isMessageSubState()
}

// MessageClosed means no message is in progress.
type MessageClosed struct{}

// MessageOpen means a message with MessageID is in progress.
type MessageOpen struct {
	MessageID string
}

func (MessageClosed) isMessageSubState() {}
func (MessageOpen) isMessageSubState()   {}

// conversationState is the mutable per-key record. Only touched under the
// owning shard's lock.
type conversationState struct {
	runStarted bool
	message    MessageSubState
}

func newConversationState() *conversationState {
	return &conversationState{message: MessageClosed{}}
}

// openMessage opens a message with a fresh id unless one is already open.
func (s *conversationState) openMessage(newID IDGenerator) (string, bool) {
	if _, open := s.message.(MessageOpen); open {
		return "", false
	}
	id := newID()
	s.message = MessageOpen{MessageID: id}
	return id, true
}

// currentOrOpen returns the open message id, opening one if needed.
func (s *conversationState) currentOrOpen(newID IDGenerator) string {
	if m, open := s.message.(MessageOpen); open {
		return m.MessageID
	}
	id := newID()
	s.message = MessageOpen{MessageID: id}
	return id
}

// closeMessage closes the open message and returns its id.
func (s *conversationState) closeMessage() (string, bool) {
	m, open := s.message.(MessageOpen)
	if !open {
		return "", false
	}
	s.message = MessageClosed{}
	return m.MessageID, true
}

// Snapshot is a read-only copy of a conversation's state.
type Snapshot struct {
	RunStarted bool
	Message    MessageSubState
}

// MessageID returns the open message id, or "" when closed.
func (s Snapshot) MessageID() string {
	if m, ok := s.Message.(MessageOpen); ok {
		return m.MessageID
	}
	return ""
}

// HasOpenMessage reports whether a message is in progress.
func (s Snapshot) HasOpenMessage() bool {
	_, ok := s.Message.(MessageOpen)
	return ok
}

func (s *conversationState) snapshot() Snapshot {
	return Snapshot{RunStarted: s.runStarted, Message: s.message}
}
