// Package service provides business logic for the agent streaming gateway.
package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agui-gateway/internal/model"
	"github.com/capitalize-ai/agui-gateway/pkg/logger"
	"github.com/capitalize-ai/agui-gateway/pkg/metrics"
)

// ErrThreadNotFound is returned when a thread does not exist, belongs to
// another tenant or has been deleted.
var ErrThreadNotFound = errors.New("thread not found")

// ThreadService handles thread operations.
type ThreadService struct {
	logger *logger.Logger
	now    func() time.Time

	// Thread metadata lives in memory; messages and events live in the event log.
	threads map[string]*model.Thread
	mu      sync.RWMutex
}

// NewThreadService creates a new thread service.
func NewThreadService(log *logger.Logger) *ThreadService {
	if log == nil {
		log = logger.NewNop()
	}
	return &ThreadService{
		logger:  log,
		now:     time.Now,
		threads: make(map[string]*model.Thread),
	}
}

// Create creates a new thread.
func (s *ThreadService) Create(ctx context.Context, tenantID, userID string, req *model.CreateThreadRequest) (*model.Thread, error) {
	now := s.now()

	thread := &model.Thread{
		ID:        uuid.Must(uuid.NewV7()).String(),
		TenantID:  tenantID,
		UserID:    userID,
		Title:     req.Title,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  req.Metadata,
	}

	s.mu.Lock()
	s.threads[thread.ID] = thread
	s.mu.Unlock()

	metrics.ThreadsTotal.WithLabelValues(tenantID).Inc()
	s.logger.Info("thread created",
		zap.String("thread_id", thread.ID),
		zap.String("tenant_id", tenantID),
	)

	out := *thread
	return &out, nil
}

// lookupLocked returns the live thread or ErrThreadNotFound. Callers hold mu.
func (s *ThreadService) lookupLocked(tenantID, threadID string) (*model.Thread, error) {
	thread, ok := s.threads[threadID]
	if !ok || thread.TenantID != tenantID || thread.Deleted {
		return nil, ErrThreadNotFound
	}
	return thread, nil
}

// Get retrieves a thread by ID.
func (s *ThreadService) Get(ctx context.Context, tenantID, threadID string) (*model.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	thread, err := s.lookupLocked(tenantID, threadID)
	if err != nil {
		return nil, err
	}
	out := *thread
	return &out, nil
}

// List retrieves a tenant's threads, most recently updated first.
func (s *ThreadService) List(ctx context.Context, tenantID string, limit, offset int) (*model.ListThreadsResponse, error) {
	s.mu.RLock()
	threads := make([]model.Thread, 0)
	for _, thread := range s.threads {
		if thread.TenantID == tenantID && !thread.Deleted {
			threads = append(threads, *thread)
		}
	}
	s.mu.RUnlock()

	sort.Slice(threads, func(i, j int) bool {
		if threads[i].UpdatedAt.Equal(threads[j].UpdatedAt) {
			return threads[i].ID > threads[j].ID
		}
		return threads[i].UpdatedAt.After(threads[j].UpdatedAt)
	})

	total := len(threads)
	start := offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + limit
	if limit <= 0 || end > total {
		end = total
	}

	return &model.ListThreadsResponse{
		Threads: threads[start:end],
		Total:   total,
		HasMore: end < total,
	}, nil
}

// Update updates a thread's title and metadata.
func (s *ThreadService) Update(ctx context.Context, tenantID, threadID string, req *model.UpdateThreadRequest) (*model.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, err := s.lookupLocked(tenantID, threadID)
	if err != nil {
		return nil, err
	}

	if req.Title != "" {
		thread.Title = req.Title
	}
	if req.Metadata != nil {
		thread.Metadata = req.Metadata
	}
	thread.UpdatedAt = s.now()

	out := *thread
	return &out, nil
}

// Delete soft deletes a thread.
func (s *ThreadService) Delete(ctx context.Context, tenantID, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, err := s.lookupLocked(tenantID, threadID)
	if err != nil {
		return err
	}

	thread.Deleted = true
	thread.UpdatedAt = s.now()

	s.logger.Info("thread deleted",
		zap.String("thread_id", threadID),
		zap.String("tenant_id", tenantID),
	)
	return nil
}

// RecordRun notes that a run was started on a thread.
func (s *ThreadService) RecordRun(ctx context.Context, tenantID, threadID, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, err := s.lookupLocked(tenantID, threadID)
	if err != nil {
		return err
	}

	thread.RunCount++
	thread.LastRunID = runID
	thread.UpdatedAt = s.now()
	return nil
}
