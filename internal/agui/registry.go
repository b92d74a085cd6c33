package agui

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/capitalize-ai/agui-gateway/pkg/metrics"
)

// DefaultShards is the number of lock stripes a registry uses unless told otherwise.
const DefaultShards = 32

type shard struct {
	mu     sync.Mutex
	states map[ConversationKey]*conversationState
}

// Registry maps conversation keys to their lifecycle state. Keys are spread
// over independently locked shards, so operations on one key are linearizable
// while unrelated keys rarely contend.
type Registry struct {
	shards []shard
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithShards sets the number of lock stripes. Values below one are ignored.
func WithShards(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.shards = make([]shard, n)
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{shards: make([]shard, DefaultShards)}
	for _, opt := range opts {
		opt(r)
	}
	for i := range r.shards {
		r.shards[i].states = make(map[ConversationKey]*conversationState)
	}
	return r
}

func (r *Registry) shardFor(key ConversationKey) *shard {
	d := xxhash.New()
	_, _ = d.WriteString(key.ThreadID)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(key.RunID)
	return &r.shards[d.Sum64()%uint64(len(r.shards))]
}

// update runs fn on the state for key, creating it first if absent, all under
// the key's shard lock. If fn returns true the entry is removed afterwards.
func (r *Registry) update(key ConversationKey, fn func(st *conversationState) (drop bool)) {
	s := r.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreateLocked(key)
	if fn(st) {
		s.removeLocked(key)
	}
}

func (s *shard) getOrCreateLocked(key ConversationKey) *conversationState {
	st, ok := s.states[key]
	if !ok {
		st = newConversationState()
		s.states[key] = st
		metrics.ConversationsActive.Inc()
	}
	return st
}

func (s *shard) removeLocked(key ConversationKey) {
	if _, ok := s.states[key]; ok {
		delete(s.states, key)
		metrics.ConversationsActive.Dec()
	}
}

// Remove deletes the state for key, if any.
func (r *Registry) Remove(key ConversationKey) {
	s := r.shardFor(key)
	s.mu.Lock()
	s.removeLocked(key)
	s.mu.Unlock()
}

// Lookup returns a copy of the state for key without creating it.
func (r *Registry) Lookup(key ConversationKey) (Snapshot, bool) {
	s := r.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[key]
	if !ok {
		return Snapshot{}, false
	}
	return st.snapshot(), true
}

// Len returns the number of conversations holding state.
func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		n += len(s.states)
		s.mu.Unlock()
	}
	return n
}
