package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agui-gateway/internal/agui"
	"github.com/capitalize-ai/agui-gateway/internal/model"
)

func TestSubjectToken(t *testing.T) {
	assert.Equal(t, "tenant-1", SubjectToken("tenant-1"))
	assert.Equal(t, "a_b_c_d", SubjectToken("a.b*c>d"))
	assert.Equal(t, "with_space", SubjectToken("with space"))
	assert.Equal(t, "_", SubjectToken(""))
}

func TestMessageSubjects(t *testing.T) {
	assert.Equal(t, "agui.acme.th-1.msg.user", MessageSubject("acme", "th-1", model.RoleUser))
	assert.Equal(t, "agui.acme.th-1.msg.>", MessageFilter("acme", "th-1"))
}

func TestEventSubjects(t *testing.T) {
	key := agui.Key("th-1", "run.1")

	assert.Equal(t, "agui.acme.th-1.run.run_1.RUN_STARTED", EventSubject("acme", key, agui.EventTypeRunStarted))
	assert.Equal(t, "agui.acme.th-1.run.run_1.>", RunFilter("acme", key))
}

func TestEventSubjectsAreScopedPerTenant(t *testing.T) {
	key := agui.Key("th-1", "r1")
	assert.NotEqual(t, RunFilter("acme", key), RunFilter("globex", key))
}

func TestDecodeEventsSkipsUndecodableRecords(t *testing.T) {
	started, err := agui.Marshal(&agui.RunStartedEvent{EventType: agui.EventTypeRunStarted, ThreadID: "th-1", RunID: "r1"})
	require.NoError(t, err)
	finished, err := agui.Marshal(&agui.RunFinishedEvent{EventType: agui.EventTypeRunFinished, ThreadID: "th-1", RunID: "r1"})
	require.NoError(t, err)

	events, last, skipped := decodeEvents([]record{
		{sequence: 3, data: started},
		{sequence: 4, data: []byte("not json")},
		{sequence: 7, data: finished},
		{sequence: 9, data: []byte(`{"type":"UNKNOWN"}`)},
	})

	require.Len(t, events, 2)
	assert.Equal(t, uint64(3), events[0].Sequence)
	assert.Equal(t, agui.EventTypeRunFinished, events[1].Event.Type())
	assert.Equal(t, uint64(9), last, "cursor moves past trailing skipped records")
	assert.Equal(t, []uint64{4, 9}, skipped)
}

func TestDecodeEventsAllSkipped(t *testing.T) {
	events, last, skipped := decodeEvents([]record{
		{sequence: 11, data: []byte("{")},
		{sequence: 12, data: nil},
	})

	assert.Empty(t, events)
	assert.Equal(t, uint64(12), last)
	assert.Len(t, skipped, 2)
}

func TestDecodeMessagesSkipsUndecodableRecords(t *testing.T) {
	messages, last, skipped := decodeMessages([]record{
		{sequence: 1, data: []byte(`{"id":"m1","role":"user","content":"hi"}`)},
		{sequence: 2, data: []byte("garbage")},
	})

	require.Len(t, messages, 1)
	assert.Equal(t, uint64(1), messages[0].Sequence)
	assert.Equal(t, "hi", messages[0].Content)
	assert.Equal(t, uint64(2), last)
	assert.Equal(t, []uint64{2}, skipped)
}
