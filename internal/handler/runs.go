package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agui-gateway/internal/agui"
	"github.com/capitalize-ai/agui-gateway/internal/middleware"
	"github.com/capitalize-ai/agui-gateway/internal/model"
	"github.com/capitalize-ai/agui-gateway/internal/service"
	"github.com/capitalize-ai/agui-gateway/pkg/logger"
)

const replayBatch = 50

// RunHandler handles run streaming endpoints.
type RunHandler struct {
	runs      *service.RunService
	logger    *logger.Logger
	heartbeat time.Duration
}

// NewRunHandler creates a new run handler. Replay streams send a heartbeat
// every heartbeat interval once caught up.
func NewRunHandler(runs *service.RunService, log *logger.Logger, heartbeat time.Duration) *RunHandler {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &RunHandler{
		runs:      runs,
		logger:    log,
		heartbeat: heartbeat,
	}
}

// Run handles POST /api/v1/threads/{id}/runs
// The response is an SSE stream of the run's lifecycle events.
func (h *RunHandler) Run(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	id, ok := threadID(w, r)
	if !ok {
		return
	}

	var req model.RunRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RunID == "" {
		req.RunID = uuid.Must(uuid.NewV7()).String()
	} else if err := middleware.ValidateRunID(req.RunID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	defer sse.close()
	w.Header().Set("X-Run-ID", req.RunID)

	log := h.logger.WithRun(id, req.RunID).With(zap.String("tenant_id", tenantID))

	_, err := h.runs.Run(ctx, tenantID, id, &req, func(e agui.Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return sse.sendEvent(e)
	})
	if err == nil {
		return
	}

	if !sse.started {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			log.Error("run failed before streaming", zap.Error(err))
			writeError(w, status, "failed to start run")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	// RUN_ERROR has already been streamed.
	log.Warn("run failed", zap.Error(err))
}

// Events handles GET /api/v1/threads/{id}/runs/{runId}/events
// Replays the run's recorded lifecycle events, supports ?after_sequence=N or
// Last-Event-ID for resuming, then keeps the stream open with heartbeats.
func (h *RunHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	id, ok := threadID(w, r)
	if !ok {
		return
	}
	runID := chi.URLParam(r, "runId")
	if err := middleware.ValidateRunID(runID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	after, err := afterSequence(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid after_sequence")
		return
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	defer sse.close()

	log := h.logger.WithRun(id, runID).With(zap.String("tenant_id", tenantID))

	lastSequence := after
	replayed := 0
	for {
		events, cursor, hasMore, err := h.runs.GetRunEvents(ctx, tenantID, id, runID, lastSequence, replayBatch)
		if err != nil {
			if !sse.started {
				status := statusFor(err)
				if status == http.StatusInternalServerError {
					log.Error("failed to replay run events", zap.Error(err))
					writeError(w, status, "failed to replay run events")
					return
				}
				writeError(w, status, err.Error())
				return
			}
			log.Error("failed to replay run events", zap.Error(err))
			_ = sse.send("error", &model.ErrorEvent{
				Code:    "replay_error",
				Message: "Failed to replay run events",
			})
			break
		}

		for _, e := range events {
			if ctx.Err() != nil {
				return
			}
			if err := sse.sendRecorded(e); err != nil {
				log.Debug("replay client write failed", zap.Error(err))
				return
			}
			replayed++
		}

		// The cursor also moves past records that could not be decoded.
		progressed := cursor > lastSequence
		if progressed {
			lastSequence = cursor
		}
		if !hasMore || !progressed {
			break
		}
	}

	if err := sse.send("replay_complete", &model.ReplayCompleteEvent{
		LastSequence: lastSequence,
		EventCount:   replayed,
	}); err != nil {
		return
	}

	log.Info("run replay complete",
		zap.Int("events_replayed", replayed),
		zap.Uint64("last_sequence", lastSequence),
	)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("SSE client disconnected")
			return
		case t := <-heartbeat.C:
			if err := sse.send("heartbeat", &model.HeartbeatEvent{Timestamp: t}); err != nil {
				return
			}
		}
	}
}
