package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"lumen.app/studio/common/id"
	"lumen.app/studio/internal/model"
	"lumen.app/studio/internal/store"
)

type NotificationPage struct {
	Items       []model.Notification
	UnreadCount int64
	NextCursor  int64
}

type NotificationService interface {
	List(ctx context.Context, userID uuid.UUID, unreadOnly bool, cursor int64, limit int) (*NotificationPage, error)
	MarkRead(ctx context.Context, userID uuid.UUID, id int64) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
}

type notificationService struct {
	notifications store.NotificationStore
}

func NewNotificationService(notifications store.NotificationStore) NotificationService {
	return &notificationService{notifications: notifications}
}

func (s *notificationService) List(ctx context.Context, userID uuid.UUID, unreadOnly bool, cursor int64, limit int) (*NotificationPage, error) {
	limit = pageLimit(limit)

	items, err := s.notifications.List(ctx, store.NotificationFilter{
		UserID:     userID,
		UnreadOnly: unreadOnly,
		Cursor:     cursor,
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}

	unread, err := s.notifications.CountUnread(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("counting unread notifications: %w", err)
	}

	page := &NotificationPage{Items: items, UnreadCount: unread}
	if len(items) == limit {
		page.NextCursor = items[len(items)-1].ID
	}
	return page, nil
}

func (s *notificationService) MarkRead(ctx context.Context, userID uuid.UUID, id int64) error {
	ok, err := s.notifications.MarkRead(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.notifications.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("marking notifications read: %w", err)
	}
	return n, nil
}

// generationNotification builds the message sent when a generation reaches completed or failed.
func generationNotification(g *model.Generation) *model.Notification {
	n := &model.Notification{
		ID:           id.New(),
		UserID:       g.UserID,
		GenerationID: &g.ID,
	}
	spec, ok := model.LookupModel(g.Model)
	name := g.Model
	if ok {
		name = spec.Name
	}

	if g.Status == model.GenerationStatusCompleted {
		n.Kind = model.NotificationGenerationCompleted
		n.Title = fmt.Sprintf("Your %s is ready", g.MediaType)
		n.Body = fmt.Sprintf("%s finished generating %d file(s).", name, len(g.OutputURLs))
		return n
	}

	n.Kind = model.NotificationGenerationFailed
	n.Title = fmt.Sprintf("Your %s could not be generated", g.MediaType)
	n.Body = g.Category().UserMessage()
	return n
}

// pageLimit clamps a requested page size to 1..100, defaulting to 20.
func pageLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 100:
		return 100
	default:
		return limit
	}
}
