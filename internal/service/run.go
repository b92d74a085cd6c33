package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agui-gateway/internal/agui"
	"github.com/capitalize-ai/agui-gateway/internal/llm"
	"github.com/capitalize-ai/agui-gateway/internal/model"
	"github.com/capitalize-ai/agui-gateway/pkg/logger"
	"github.com/capitalize-ai/agui-gateway/pkg/metrics"
)

var (
	// ErrRunInProgress is returned when a run with the same key is already live.
	ErrRunInProgress = errors.New("run already in progress")
	// ErrNoLLM is returned when no LLM provider is configured.
	ErrNoLLM = errors.New("no LLM provider configured")
	// ErrNoEventLog is returned by NewRunService when no event log is given.
	ErrNoEventLog = errors.New("event log is required")

	tracer = otel.Tracer("github.com/capitalize-ai/agui-gateway/internal/service")
)

// RUN_ERROR codes.
const (
	CodeLLMError      = "llm_error"
	CodeEventLogError = "event_log_error"
	CodeRunTimeout    = "run_timeout"
	CodeThreadGone    = "thread_not_found"
)

const (
	historyLimit      = 50
	defaultPage       = 50
	maxPage           = 100
	publishTimeout    = 5 * time.Second
	defaultRunTimeout = 5 * time.Minute
)

// EventLog is the durable store for thread messages and run lifecycle events.
type EventLog interface {
	PublishMessage(ctx context.Context, msg *model.Message) (uint64, error)
	PublishEvent(ctx context.Context, tenantID string, key agui.ConversationKey, event agui.Event) (uint64, error)
	GetMessages(ctx context.Context, tenantID, threadID string, afterSequence uint64, limit int) ([]model.Message, uint64, bool, error)
	// GetRunEvents returns the decoded events of a page, the stream sequence
	// the page ended at (which may be past the last returned event when
	// records were skipped) and whether more records follow.
	GetRunEvents(ctx context.Context, tenantID string, key agui.ConversationKey, afterSequence uint64, limit int) ([]model.RecordedEvent, uint64, bool, error)
}

// Emitter delivers one lifecycle event to the client. An error means the
// client can no longer be reached.
type Emitter func(agui.Event) error

// RunService executes runs: a user message answered by a streamed assistant
// message, framed by lifecycle events.
type RunService struct {
	eventLog      EventLog
	threads       *ThreadService
	manager       *agui.Manager
	llmClient     llm.Client
	logger        *logger.Logger
	defaultModel  string
	publishEvents bool
	runTimeout    time.Duration
}

// RunOption configures a RunService.
type RunOption func(*RunService)

// WithDefaultModel sets the model used when a request names none.
func WithDefaultModel(name string) RunOption {
	return func(s *RunService) {
		s.defaultModel = name
	}
}

// WithEventPublishing controls whether lifecycle events are appended to the
// event log as they are emitted.
func WithEventPublishing(enabled bool) RunOption {
	return func(s *RunService) {
		s.publishEvents = enabled
	}
}

// WithRunTimeout bounds how long a run may take once started. Values of
// zero or less keep the default.
func WithRunTimeout(d time.Duration) RunOption {
	return func(s *RunService) {
		if d > 0 {
			s.runTimeout = d
		}
	}
}

// NewRunService creates a new run service. The event log is required; a nil
// LLM client is allowed and makes Run return ErrNoLLM.
func NewRunService(
	eventLog EventLog,
	threads *ThreadService,
	manager *agui.Manager,
	llmClient llm.Client,
	log *logger.Logger,
	opts ...RunOption,
) (*RunService, error) {
	if eventLog == nil {
		return nil, ErrNoEventLog
	}
	if log == nil {
		log = logger.NewNop()
	}
	s := &RunService{
		eventLog:      eventLog,
		threads:       threads,
		manager:       manager,
		llmClient:     llmClient,
		logger:        log,
		publishEvents: true,
		runTimeout:    defaultRunTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// run carries the per-run plumbing shared by the steps of Run.
type run struct {
	svc      *RunService
	tenantID string
	key      agui.ConversationKey
	emit     Emitter
	log      *logger.Logger

	clientGone bool
	emitted    int
}

// send delivers e to the client and appends it to the event log. Once the
// client is gone the remaining events still reach the log.
func (r *run) send(ctx context.Context, e agui.Event) {
	if !r.clientGone {
		if err := r.emit(e); err != nil {
			r.clientGone = true
			r.log.Warn("client write failed", zap.String("event_type", string(e.Type())), zap.Error(err))
		} else {
			r.emitted++
		}
	}

	if !r.svc.publishEvents {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if _, err := r.svc.eventLog.PublishEvent(pubCtx, r.tenantID, r.key, e); err != nil {
		metrics.EventLogPublishFailures.WithLabelValues("event").Inc()
		r.log.Error("failed to record lifecycle event", zap.String("event_type", string(e.Type())), zap.Error(err))
	}
}

// fail closes any open message, emits RUN_ERROR and returns err.
func (r *run) fail(ctx context.Context, code string, err error) error {
	if e, ok := r.svc.manager.TextMessageEnd(r.key); ok {
		r.send(ctx, e)
	}
	r.send(ctx, r.svc.manager.RunError(r.key, err.Error(), code))
	metrics.RunsTotal.WithLabelValues(r.tenantID, "error").Inc()
	return err
}

// Run executes a run on a thread, delivering lifecycle events through emit.
// Once started, the run no longer follows ctx cancellation: a client that
// disconnects stops receiving events, but the LLM stream and the recording of
// both messages and every event carry on until the run timeout. An emit error
// only marks the client as gone. ErrRunInProgress is returned, with nothing
// emitted, when the key is already live.
func (s *RunService) Run(ctx context.Context, tenantID, threadID string, req *model.RunRequest, emit Emitter) (*model.RunResult, error) {
	if s.llmClient == nil {
		return nil, ErrNoLLM
	}
	if _, err := s.threads.Get(ctx, tenantID, threadID); err != nil {
		return nil, err
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.Must(uuid.NewV7()).String()
	}
	key := agui.Key(threadID, runID)

	ctx, span := tracer.Start(ctx, "agui.run", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("thread.id", threadID),
		attribute.String("run.id", runID),
	))
	defer span.End()

	// Values such as the span survive; cancellation does not.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.runTimeout)
	defer cancel()

	r := &run{
		svc:      s,
		tenantID: tenantID,
		key:      key,
		emit:     emit,
		log:      s.logger.WithRun(threadID, runID).With(zap.String("tenant_id", tenantID)),
	}

	started, ok := s.manager.RunStarted(key)
	if !ok {
		span.SetStatus(codes.Error, ErrRunInProgress.Error())
		return nil, ErrRunInProgress
	}
	r.send(ctx, started)

	if err := s.threads.RecordRun(ctx, tenantID, threadID, runID); err != nil {
		// Thread deleted between lookup and start.
		return nil, r.fail(ctx, CodeThreadGone, err)
	}

	result := &model.RunResult{RunID: runID}

	userMsg := &model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		ThreadID:  threadID,
		RunID:     runID,
		TenantID:  tenantID,
		Role:      model.RoleUser,
		Content:   req.Content,
		CreatedAt: time.Now(),
	}
	seq, err := s.eventLog.PublishMessage(ctx, userMsg)
	if err != nil {
		metrics.EventLogPublishFailures.WithLabelValues("message").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish user message")
		return nil, r.fail(ctx, CodeEventLogError, fmt.Errorf("failed to publish user message: %w", err))
	}
	userMsg.Sequence = seq
	result.UserMessage = userMsg
	metrics.MessagesTotal.WithLabelValues(tenantID, string(model.RoleUser)).Inc()

	history, _, _, err := s.eventLog.GetMessages(ctx, tenantID, threadID, 0, historyLimit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load history")
		return result, r.fail(ctx, CodeEventLogError, fmt.Errorf("failed to get message history: %w", err))
	}
	chatMessages := toChatMessages(history, userMsg)

	msgStart, ok := s.manager.TextMessageStart(key)
	if ok {
		r.send(ctx, msgStart)
	}
	messageID := ""
	if snap, found := s.manager.Registry().Lookup(key); found {
		messageID = snap.MessageID()
	}

	modelName := req.Model
	if modelName == "" {
		modelName = s.defaultModel
	}

	streamStart := time.Now()
	resp, err := s.llmClient.CompleteStream(ctx, &llm.CompletionRequest{
		Model:    modelName,
		Messages: chatMessages,
	}, func(delta string, _ int) error {
		r.send(ctx, s.manager.TextMessageContent(key, delta))
		return nil
	})
	streamEnd := time.Now()
	if err != nil {
		metrics.RecordLLMStream(modelName, "error", streamEnd.Sub(streamStart).Seconds(), 0, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm stream")
		code := CodeLLMError
		if errors.Is(err, context.DeadlineExceeded) {
			code = CodeRunTimeout
		}
		return result, r.fail(ctx, code, fmt.Errorf("LLM stream failed: %w", err))
	}

	if e, ok := s.manager.TextMessageEnd(key); ok {
		r.send(ctx, e)
	}

	assistantMsg := &model.Message{
		ID:            messageID,
		ThreadID:      threadID,
		RunID:         runID,
		TenantID:      tenantID,
		Role:          model.RoleAssistant,
		Content:       resp.Content,
		Model:         &resp.Model,
		TokensIn:      &resp.TokensIn,
		TokensOut:     &resp.TokensOut,
		LatencyMs:     &resp.LatencyMs,
		StopReason:    &resp.StopReason,
		CreatedAt:     streamEnd,
		StreamStarted: &streamStart,
		StreamEnded:   &streamEnd,
	}
	if assistantMsg.ID == "" {
		assistantMsg.ID = agui.NewMessageID()
	}
	pubCtx, pubCancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	seq, err = s.eventLog.PublishMessage(pubCtx, assistantMsg)
	pubCancel()
	if err != nil {
		metrics.EventLogPublishFailures.WithLabelValues("message").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish assistant message")
		return result, r.fail(ctx, CodeEventLogError, fmt.Errorf("failed to publish assistant message: %w", err))
	}
	assistantMsg.Sequence = seq
	result.AssistantMessage = assistantMsg

	metrics.MessagesTotal.WithLabelValues(tenantID, string(model.RoleAssistant)).Inc()
	metrics.RecordLLMStream(resp.Model, "success", streamEnd.Sub(streamStart).Seconds(), resp.TokensIn, resp.TokensOut)

	r.send(ctx, s.manager.RunFinished(key))
	metrics.RunsTotal.WithLabelValues(tenantID, "finished").Inc()
	span.SetAttributes(attribute.Int("run.events_emitted", r.emitted))
	span.SetStatus(codes.Ok, "")

	r.log.Info("run finished",
		zap.String("model", resp.Model),
		zap.Int("tokens_in", resp.TokensIn),
		zap.Int("tokens_out", resp.TokensOut),
		zap.Bool("client_gone", r.clientGone),
	)

	return result, nil
}

// toChatMessages converts thread history to LLM input. The current user
// message is appended if the log has not surfaced it yet.
func toChatMessages(history []model.Message, current *model.Message) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(history)+1)
	seen := false
	for _, msg := range history {
		if msg.ID == current.ID {
			seen = true
		}
		out = append(out, llm.ChatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	if !seen {
		out = append(out, llm.ChatMessage{Role: string(current.Role), Content: current.Content})
	}
	return out
}

// GetMessages retrieves a page of a thread's messages.
func (s *RunService) GetMessages(ctx context.Context, tenantID, threadID string, afterSequence uint64, limit int) (*model.ListMessagesResponse, error) {
	if _, err := s.threads.Get(ctx, tenantID, threadID); err != nil {
		return nil, err
	}

	messages, lastSeq, hasMore, err := s.eventLog.GetMessages(ctx, tenantID, threadID, afterSequence, clampPage(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	if messages == nil {
		messages = []model.Message{}
	}

	return &model.ListMessagesResponse{
		Messages:     messages,
		HasMore:      hasMore,
		LastSequence: lastSeq,
	}, nil
}

// GetRunEvents retrieves a page of a run's recorded lifecycle events.
// The returned sequence is the cursor for the next page.
func (s *RunService) GetRunEvents(ctx context.Context, tenantID, threadID, runID string, afterSequence uint64, limit int) ([]model.RecordedEvent, uint64, bool, error) {
	if _, err := s.threads.Get(ctx, tenantID, threadID); err != nil {
		return nil, 0, false, err
	}

	events, lastSeq, hasMore, err := s.eventLog.GetRunEvents(ctx, tenantID, agui.Key(threadID, runID), afterSequence, clampPage(limit))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to get run events: %w", err)
	}
	if lastSeq < afterSequence {
		lastSeq = afterSequence
	}
	return events, lastSeq, hasMore, nil
}

func clampPage(limit int) int {
	if limit <= 0 {
		return defaultPage
	}
	if limit > maxPage {
		return maxPage
	}
	return limit
}
