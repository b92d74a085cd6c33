package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agui-gateway/internal/middleware"
	"github.com/capitalize-ai/agui-gateway/internal/model"
	"github.com/capitalize-ai/agui-gateway/internal/service"
	"github.com/capitalize-ai/agui-gateway/pkg/logger"
)

// ThreadHandler handles thread endpoints.
type ThreadHandler struct {
	threads *service.ThreadService
	runs    *service.RunService
	logger  *logger.Logger
}

// NewThreadHandler creates a new thread handler.
func NewThreadHandler(threads *service.ThreadService, runs *service.RunService, log *logger.Logger) *ThreadHandler {
	return &ThreadHandler{
		threads: threads,
		runs:    runs,
		logger:  log,
	}
}

// threadID reads and validates the {id} path parameter.
func threadID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateThreadID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}

// Create handles POST /api/v1/threads
func (h *ThreadHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.CreateThreadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	thread, err := h.threads.Create(ctx, middleware.GetTenantID(ctx), middleware.GetUserID(ctx), &req)
	if err != nil {
		h.logger.Error("failed to create thread", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create thread")
		return
	}

	writeJSON(w, http.StatusCreated, thread)
}

// List handles GET /api/v1/threads
func (h *ThreadHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := queryInt(r, "limit", 20, 1, 100)
	offset := queryInt(r, "offset", 0, 0, int(^uint(0)>>1))

	resp, err := h.threads.List(ctx, middleware.GetTenantID(ctx), limit, offset)
	if err != nil {
		h.logger.Error("failed to list threads", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list threads")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/threads/{id}
func (h *ThreadHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := threadID(w, r)
	if !ok {
		return
	}

	thread, err := h.threads.Get(r.Context(), middleware.GetTenantID(r.Context()), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, thread)
}

// Update handles PUT /api/v1/threads/{id}
func (h *ThreadHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := threadID(w, r)
	if !ok {
		return
	}

	var req model.UpdateThreadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	thread, err := h.threads.Update(r.Context(), middleware.GetTenantID(r.Context()), id, &req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, thread)
}

// Delete handles DELETE /api/v1/threads/{id}
func (h *ThreadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := threadID(w, r)
	if !ok {
		return
	}

	if err := h.threads.Delete(r.Context(), middleware.GetTenantID(r.Context()), id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Messages handles GET /api/v1/threads/{id}/messages
// Supports ?after_sequence=N&limit=M for paging through history.
func (h *ThreadHandler) Messages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := threadID(w, r)
	if !ok {
		return
	}

	var after uint64
	if v := r.URL.Query().Get("after_sequence"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after_sequence")
			return
		}
		after = parsed
	}

	resp, err := h.runs.GetMessages(ctx, middleware.GetTenantID(ctx), id, after, queryInt(r, "limit", 50, 1, 100))
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("failed to get messages", zap.String("thread_id", id), zap.Error(err))
			writeError(w, status, "failed to get messages")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
