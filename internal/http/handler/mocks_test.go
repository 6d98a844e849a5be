package handler_test

import (
	"context"
	"time"

	"github.com/google/uuid"

	"lumen.app/studio/internal/model"
	"lumen.app/studio/internal/queue"
	"lumen.app/studio/internal/service"
)

type mockGenerationService struct {
	createFn func(ctx context.Context, userID uuid.UUID, in service.CreateInput) (*service.CreateResult, error)
	getFn    func(ctx context.Context, userID uuid.UUID, id int64) (*model.Generation, error)
	listFn   func(ctx context.Context, userID uuid.UUID, filter service.ListFilter) (*service.GenerationPage, error)
	cancelFn func(ctx context.Context, userID uuid.UUID, id int64) (*model.Generation, error)
	retryFn  func(ctx context.Context, userID uuid.UUID, id int64) (*model.Generation, error)
	syncFn   func(ctx context.Context, userID uuid.UUID, id int64) (*model.Generation, error)
	deleteFn func(ctx context.Context, userID uuid.UUID, id int64) error
}

func (m *mockGenerationService) Create(ctx context.Context, userID uuid.UUID, in service.CreateInput) (*service.CreateResult, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, in)
	}
	return nil, nil
}

func (m *mockGenerationService) Get(ctx context.Context, userID uuid.UUID, id int64) (*model.Generation, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID, id)
	}
	return nil, service.ErrNotFound
}

func (m *mockGenerationService) List(ctx context.Context, userID uuid.UUID, filter service.ListFilter) (*service.GenerationPage, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID, filter)
	}
	return &service.GenerationPage{}, nil
}

func (m *mockGenerationService) Cancel(ctx context.Context, userID uuid.UUID, id int64) (*model.Generation, error) {
	if m.cancelFn != nil {
		return m.cancelFn(ctx, userID, id)
	}
	return nil, service.ErrNotFound
}

func (m *mockGenerationService) Retry(ctx context.Context, userID uuid.UUID, id int64) (*model.Generation, error) {
	if m.retryFn != nil {
		return m.retryFn(ctx, userID, id)
	}
	return nil, service.ErrNotFound
}

func (m *mockGenerationService) SyncStatus(ctx context.Context, userID uuid.UUID, id int64) (*model.Generation, error) {
	if m.syncFn != nil {
		return m.syncFn(ctx, userID, id)
	}
	return nil, service.ErrNotFound
}

func (m *mockGenerationService) Delete(ctx context.Context, userID uuid.UUID, id int64) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, id)
	}
	return nil
}

type mockNotificationService struct {
	listFn        func(ctx context.Context, userID uuid.UUID, unreadOnly bool, cursor int64, limit int) (*service.NotificationPage, error)
	markReadFn    func(ctx context.Context, userID uuid.UUID, id int64) error
	markAllReadFn func(ctx context.Context, userID uuid.UUID) (int64, error)
}

func (m *mockNotificationService) List(ctx context.Context, userID uuid.UUID, unreadOnly bool, cursor int64, limit int) (*service.NotificationPage, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID, unreadOnly, cursor, limit)
	}
	return &service.NotificationPage{}, nil
}

func (m *mockNotificationService) MarkRead(ctx context.Context, userID uuid.UUID, id int64) error {
	if m.markReadFn != nil {
		return m.markReadFn(ctx, userID, id)
	}
	return nil
}

func (m *mockNotificationService) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	if m.markAllReadFn != nil {
		return m.markAllReadFn(ctx, userID)
	}
	return 0, nil
}

type mockAdminService struct {
	statsFn   func(ctx context.Context, window time.Duration) (*service.GenerationStats, error)
	listFn    func(ctx context.Context, filter service.ListFilter) (*service.GenerationPage, error)
	retryFn   func(ctx context.Context, id int64) (*model.Generation, error)
	cleanupFn func(ctx context.Context) (*service.CleanupReport, error)
}

func (m *mockAdminService) Stats(ctx context.Context, window time.Duration) (*service.GenerationStats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx, window)
	}
	return &service.GenerationStats{}, nil
}

func (m *mockAdminService) ListGenerations(ctx context.Context, filter service.ListFilter) (*service.GenerationPage, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return &service.GenerationPage{}, nil
}

func (m *mockAdminService) RetryGeneration(ctx context.Context, id int64) (*model.Generation, error) {
	if m.retryFn != nil {
		return m.retryFn(ctx, id)
	}
	return nil, service.ErrNotFound
}

func (m *mockAdminService) Cleanup(ctx context.Context) (*service.CleanupReport, error) {
	if m.cleanupFn != nil {
		return m.cleanupFn(ctx)
	}
	return &service.CleanupReport{}, nil
}

type mockPromptService struct {
	enhanceFn func(ctx context.Context, in service.EnhanceInput) (*service.EnhancedPrompt, error)
}

func (m *mockPromptService) Enhance(ctx context.Context, in service.EnhanceInput) (*service.EnhancedPrompt, error) {
	if m.enhanceFn != nil {
		return m.enhanceFn(ctx, in)
	}
	return nil, service.ErrUnavailable
}

type mockStatusReader struct {
	readFn   func(ctx context.Context, userID uuid.UUID, lastID string, block time.Duration) ([]queue.StatusEvent, error)
	latestFn func(ctx context.Context, userID uuid.UUID) (string, error)
}

func (m *mockStatusReader) LatestStatusID(ctx context.Context, userID uuid.UUID) (string, error) {
	if m.latestFn != nil {
		return m.latestFn(ctx, userID)
	}
	return "0-0", nil
}

func (m *mockStatusReader) ReadStatus(ctx context.Context, userID uuid.UUID, lastID string, block time.Duration) ([]queue.StatusEvent, error) {
	return m.readFn(ctx, userID, lastID, block)
}
