package dto

import (
	"time"

	"lumen.app/studio/internal/model"
	"lumen.app/studio/internal/service"
)

type ListNotificationsQuery struct {
	Unread bool  `form:"unread"`
	Cursor int64 `form:"cursor"`
	Limit  int   `form:"limit"`
}

type NotificationResponse struct {
	ID           int64                  `json:"id,string"`
	Kind         model.NotificationKind `json:"kind"`
	Title        string                 `json:"title"`
	Body         string                 `json:"body"`
	GenerationID *int64                 `json:"generation_id,omitempty,string"`
	Read         bool                   `json:"read"`
	CreatedAt    time.Time              `json:"created_at"`
}

type ListNotificationsResponse struct {
	Items       []NotificationResponse `json:"items"`
	UnreadCount int64                  `json:"unread_count"`
	NextCursor  *int64                 `json:"next_cursor,omitempty,string"`
}

func ToListNotificationsResponse(page *service.NotificationPage) ListNotificationsResponse {
	resp := ListNotificationsResponse{
		Items:       make([]NotificationResponse, 0, len(page.Items)),
		UnreadCount: page.UnreadCount,
	}
	for _, n := range page.Items {
		resp.Items = append(resp.Items, NotificationResponse{
			ID:           n.ID,
			Kind:         n.Kind,
			Title:        n.Title,
			Body:         n.Body,
			GenerationID: n.GenerationID,
			Read:         n.IsRead(),
			CreatedAt:    n.CreatedAt,
		})
	}
	if page.NextCursor > 0 {
		resp.NextCursor = &page.NextCursor
	}
	return resp
}
