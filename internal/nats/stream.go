package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agui-gateway/internal/agui"
	"github.com/capitalize-ai/agui-gateway/internal/model"
)

const (
	// StreamName is the name of the event log stream.
	StreamName = "AGUI"

	// SubjectPrefix is the prefix for all event log subjects.
	SubjectPrefix = "agui"

	fetchMaxWait = 2 * time.Second
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream creates the event log stream if it does not exist.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	} else if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Thread messages and run lifecycle events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	m.client.logger.Info("created stream", zap.String("stream", StreamName))
	return nil
}

// SubjectToken makes s safe to use as a single subject token.
func SubjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// MessageSubject returns the subject for a thread message.
func MessageSubject(tenantID, threadID string, role model.Role) string {
	return fmt.Sprintf("%s.%s.%s.msg.%s", SubjectPrefix, SubjectToken(tenantID), SubjectToken(threadID), role)
}

// MessageFilter returns the filter subject for all messages in a thread.
func MessageFilter(tenantID, threadID string) string {
	return fmt.Sprintf("%s.%s.%s.msg.>", SubjectPrefix, SubjectToken(tenantID), SubjectToken(threadID))
}

// EventSubject returns the subject for a run lifecycle event.
func EventSubject(tenantID string, key agui.ConversationKey, eventType agui.EventType) string {
	return fmt.Sprintf("%s.%s.%s.run.%s.%s",
		SubjectPrefix, SubjectToken(tenantID), SubjectToken(key.ThreadID), SubjectToken(key.RunID), eventType)
}

// RunFilter returns the filter subject for all lifecycle events of a run.
func RunFilter(tenantID string, key agui.ConversationKey) string {
	return fmt.Sprintf("%s.%s.%s.run.%s.>",
		SubjectPrefix, SubjectToken(tenantID), SubjectToken(key.ThreadID), SubjectToken(key.RunID))
}

// PublishMessage appends a thread message to the log.
func (m *StreamManager) PublishMessage(ctx context.Context, msg *model.Message) (uint64, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, MessageSubject(msg.TenantID, msg.ThreadID, msg.Role), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish message: %w", err)
	}

	return ack.Sequence, nil
}

// PublishEvent appends a lifecycle event to the log.
func (m *StreamManager) PublishEvent(ctx context.Context, tenantID string, key agui.ConversationKey, event agui.Event) (uint64, error) {
	data, err := agui.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, EventSubject(tenantID, key, event.Type()), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}

	return ack.Sequence, nil
}

// GetMessages retrieves thread messages stored after a sequence. The returned
// sequence is the last one read, including records that were skipped.
func (m *StreamManager) GetMessages(ctx context.Context, tenantID, threadID string, afterSequence uint64, limit int) ([]model.Message, uint64, bool, error) {
	records, err := m.fetch(ctx, MessageFilter(tenantID, threadID), afterSequence, limit)
	if err != nil {
		return nil, 0, false, err
	}

	messages, lastSequence, skipped := decodeMessages(records)
	for _, seq := range skipped {
		m.client.logger.Warn("skipping undecodable message", zap.Uint64("sequence", seq))
	}

	return messages, lastSequence, len(records) == limit, nil
}

// GetRunEvents retrieves a run's lifecycle events stored after a sequence.
// The returned sequence is the last one read, including records that were
// skipped, and is the cursor for the next page.
func (m *StreamManager) GetRunEvents(ctx context.Context, tenantID string, key agui.ConversationKey, afterSequence uint64, limit int) ([]model.RecordedEvent, uint64, bool, error) {
	records, err := m.fetch(ctx, RunFilter(tenantID, key), afterSequence, limit)
	if err != nil {
		return nil, 0, false, err
	}

	events, lastSequence, skipped := decodeEvents(records)
	for _, seq := range skipped {
		m.client.logger.Warn("skipping undecodable event", zap.Uint64("sequence", seq))
	}

	return events, lastSequence, len(records) == limit, nil
}

// record is a raw stream entry.
type record struct {
	sequence uint64
	data     []byte
}

func decodeMessages(records []record) ([]model.Message, uint64, []uint64) {
	var (
		messages []model.Message
		last     uint64
		skipped  []uint64
	)
	for _, rec := range records {
		last = max(last, rec.sequence)
		var message model.Message
		if err := json.Unmarshal(rec.data, &message); err != nil {
			skipped = append(skipped, rec.sequence)
			continue
		}
		message.Sequence = rec.sequence
		messages = append(messages, message)
	}
	return messages, last, skipped
}

func decodeEvents(records []record) ([]model.RecordedEvent, uint64, []uint64) {
	var (
		events  []model.RecordedEvent
		last    uint64
		skipped []uint64
	)
	for _, rec := range records {
		last = max(last, rec.sequence)
		event, err := agui.Unmarshal(rec.data)
		if err != nil {
			skipped = append(skipped, rec.sequence)
			continue
		}
		events = append(events, model.RecordedEvent{Sequence: rec.sequence, Event: event})
	}
	return events, last, skipped
}

// fetch reads up to limit records on filter through an ephemeral consumer.
func (m *StreamManager) fetch(ctx context.Context, filter string, afterSequence uint64, limit int) ([]record, error) {
	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject:     filter,
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: time.Minute,
	}

	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := m.client.JetStream().CreateConsumer(ctx, StreamName, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(fetchMaxWait))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}

	records := make([]record, 0, limit)
	for msg := range batch.Messages() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var seq uint64
		if meta, err := msg.Metadata(); err == nil {
			seq = meta.Sequence.Stream
		}
		records = append(records, record{sequence: seq, data: msg.Data()})
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, jetstream.ErrNoMessages) {
		return nil, fmt.Errorf("batch error: %w", err)
	}

	return records, nil
}
