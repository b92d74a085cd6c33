package agui

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialIDs() IDGenerator {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("msg_%d", n.Add(1))
	}
}

func newTestManager() *Manager {
	return NewManager(NewRegistry(), WithIDGenerator(sequentialIDs()), WithClock(nil))
}

func TestManager_RunStartedOnlyOnce(t *testing.T) {
	m := newTestManager()
	key := Key("t1", "r1")

	ev, ok := m.RunStarted(key)
	require.True(t, ok)
	started, isStarted := ev.(*RunStartedEvent)
	require.True(t, isStarted)
	assert.Equal(t, "t1", started.ThreadID)
	assert.Equal(t, "r1", started.RunID)

	_, ok = m.RunStarted(key)
	assert.False(t, ok, "second RUN_STARTED should be suppressed")

	for i := 0; i < 5; i++ {
		assert.False(t, m.RequestRunStarted(key))
	}
}

func TestManager_ContentImplicitlyOpensMessage(t *testing.T) {
	m := newTestManager()
	key := Key("t2", "r2")

	content := m.TextMessageContent(key, "hi").(*TextMessageContentEvent)
	assert.True(t, strings.HasPrefix(content.MessageID, MessageIDPrefix))
	assert.Equal(t, "hi", content.Delta)

	_, ok := m.TextMessageStart(key)
	assert.False(t, ok, "explicit start after implicit open should be suppressed")

	end, ok := m.TextMessageEnd(key)
	require.True(t, ok)
	assert.Equal(t, content.MessageID, end.(*TextMessageEndEvent).MessageID)
}

func TestManager_EndWithoutOpenMessageIsSuppressed(t *testing.T) {
	m := newTestManager()
	key := Key("t", "r")

	_, ok := m.TextMessageEnd(key)
	assert.False(t, ok)

	m.RequestRunStarted(key)
	_, ok = m.TextMessageEnd(key)
	assert.False(t, ok)

	_, ok = m.TextMessageStart(key)
	require.True(t, ok)
	_, ok = m.TextMessageEnd(key)
	require.True(t, ok)

	_, ok = m.TextMessageEnd(key)
	assert.False(t, ok, "end after end should be suppressed")
}

func TestManager_MessageIDStableAcrossStartContentEnd(t *testing.T) {
	m := newTestManager()
	key := Key("t", "r")

	start, ok := m.TextMessageStart(key)
	require.True(t, ok)
	id := start.(*TextMessageStartEvent).MessageID
	assert.Equal(t, RoleAssistant, start.(*TextMessageStartEvent).Role)

	for _, d := range []string{"a", "b", "c"} {
		assert.Equal(t, id, m.TextMessageContent(key, d).(*TextMessageContentEvent).MessageID)
	}

	end, ok := m.TextMessageEnd(key)
	require.True(t, ok)
	assert.Equal(t, id, end.(*TextMessageEndEvent).MessageID)
}

func TestManager_NewMessageAfterEndGetsNewID(t *testing.T) {
	m := newTestManager()
	key := Key("t", "r")

	first, _ := m.RequestTextMessageStart(key)
	m.RequestTextMessageEnd(key)
	second, ok := m.RequestTextMessageStart(key)

	require.True(t, ok)
	assert.NotEqual(t, first, second)
}

func TestManager_FullLifecycle(t *testing.T) {
	m := newTestManager()
	key := Key("t3", "r3")

	var emitted []EventType
	emit := func(e Event, ok bool) {
		require.True(t, ok)
		emitted = append(emitted, e.Type())
	}

	emit(m.RunStarted(key))
	emit(m.TextMessageStart(key))
	emit(m.TextMessageContent(key, "Hello"), true)
	emit(m.TextMessageContent(key, " world"), true)
	emit(m.TextMessageEnd(key))
	emit(m.RunFinished(key), true)

	assert.Equal(t, []EventType{
		EventTypeRunStarted,
		EventTypeTextMessageStart,
		EventTypeTextMessageContent,
		EventTypeTextMessageContent,
		EventTypeTextMessageEnd,
		EventTypeRunFinished,
	}, emitted)

	_, ok := m.Registry().Lookup(key)
	assert.False(t, ok, "finish should discard state")

	_, ok = m.RunStarted(key)
	assert.True(t, ok, "a finished key starts a fresh lifecycle")
}

func TestManager_RunFinishedWithoutPriorState(t *testing.T) {
	m := newTestManager()
	key := Key("t-new", "r-new")

	ev := m.RunFinished(key)
	finished, ok := ev.(*RunFinishedEvent)
	require.True(t, ok)
	assert.Equal(t, "t-new", finished.ThreadID)
	assert.Equal(t, "r-new", finished.RunID)
	assert.Equal(t, 0, m.Registry().Len())
}

func TestManager_RunFinishedTwiceEmitsTwice(t *testing.T) {
	m := newTestManager()
	key := Key("t", "r")

	m.RequestRunStarted(key)
	assert.NotNil(t, m.RunFinished(key))
	assert.NotNil(t, m.RunFinished(key))
	assert.Equal(t, 0, m.Registry().Len())
}

func TestManager_FinishClosesOpenMessage(t *testing.T) {
	m := newTestManager()
	key := Key("t", "r")

	m.RequestTextMessageStart(key)
	m.RequestRunFinished(key)

	_, ok := m.RequestTextMessageEnd(key)
	assert.False(t, ok, "message state should not survive finish")
}

func TestManager_RunErrorResetsState(t *testing.T) {
	m := newTestManager()
	key := Key("t", "r")

	m.RequestRunStarted(key)
	m.RequestTextMessageStart(key)

	ev := m.RunError(key, "boom", "llm_error").(*RunErrorEvent)
	assert.Equal(t, "boom", ev.Message)
	assert.Equal(t, "llm_error", ev.Code)

	_, ok := m.Registry().Lookup(key)
	assert.False(t, ok)
	assert.True(t, m.RequestRunStarted(key))
}

func TestManager_KeysAreIsolated(t *testing.T) {
	m := newTestManager()
	k1 := Key("t", "r1")
	k2 := Key("t", "r2")

	require.True(t, m.RequestRunStarted(k1))
	_, ok := m.RequestTextMessageStart(k1)
	require.True(t, ok)

	assert.True(t, m.RequestRunStarted(k2))
	_, ok = m.RequestTextMessageEnd(k2)
	assert.False(t, ok)

	m.RequestRunFinished(k2)

	snap, ok := m.Registry().Lookup(k1)
	require.True(t, ok)
	assert.True(t, snap.RunStarted)
	assert.True(t, snap.HasOpenMessage())
}

func TestManager_ConcurrentRunStartedExactlyOnce(t *testing.T) {
	m := NewManager(NewRegistry())
	key := Key("tc", "rc")

	const workers = 10
	var (
		wg      sync.WaitGroup
		emitted atomic.Int32
		start   = make(chan struct{})
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok := m.RunStarted(key); ok {
				emitted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), emitted.Load())
}

func TestManager_ConcurrentStartsAcrossManyKeys(t *testing.T) {
	m := NewManager(NewRegistry(WithShards(4)))

	const (
		keys    = 50
		workers = 8
	)
	var (
		wg     sync.WaitGroup
		counts [keys]atomic.Int32
		opened [keys]atomic.Int32
		start  = make(chan struct{})
	)

	for k := 0; k < keys; k++ {
		key := Key(fmt.Sprintf("thread-%d", k), "run")
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(k int) {
				defer wg.Done()
				<-start
				if m.RequestRunStarted(key) {
					counts[k].Add(1)
				}
				if _, ok := m.RequestTextMessageStart(key); ok {
					opened[k].Add(1)
				}
			}(k)
		}
	}
	close(start)
	wg.Wait()

	for k := 0; k < keys; k++ {
		assert.Equal(t, int32(1), counts[k].Load(), "key %d run started", k)
		assert.Equal(t, int32(1), opened[k].Load(), "key %d message started", k)
	}
	assert.Equal(t, keys, m.Registry().Len())
}

func TestManager_ConcurrentContentSharesOneMessage(t *testing.T) {
	m := NewManager(NewRegistry())
	key := Key("t", "r")

	const workers = 20
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ids   = make(map[string]struct{})
		start = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			id := m.RequestTextMessageContent(key, fmt.Sprintf("%d", i))
			mu.Lock()
			ids[id] = struct{}{}
			mu.Unlock()
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Len(t, ids, 1, "all content should land in one implicitly opened message")
}

func TestManager_StampsEventsFromClock(t *testing.T) {
	fixed := time.UnixMilli(1700000000123)
	m := NewManager(NewRegistry(), WithClock(func() time.Time { return fixed }))

	ev, ok := m.RunStarted(Key("t", "r"))
	require.True(t, ok)
	assert.Equal(t, int64(1700000000123), ev.(*RunStartedEvent).Timestamp)
}

func TestManager_DefaultIDsArePrefixedAndUnique(t *testing.T) {
	m := NewManager(NewRegistry())

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		key := Key("t", fmt.Sprintf("r%d", i))
		id, ok := m.RequestTextMessageStart(key)
		require.True(t, ok)
		assert.True(t, strings.HasPrefix(id, MessageIDPrefix))
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 100)
}
