package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"lumen.app/studio/internal/http/middleware"
	"lumen.app/studio/internal/queue"
)

// streamIDPattern matches Redis stream ids plus the "$" and "0" sentinels.
var streamIDPattern = regexp.MustCompile(`^(\$|0|\d{1,20}-\d{1,20})$`)

type EventsHandler struct {
	status queue.StatusReader
	block  time.Duration
}

func NewEventsHandler(status queue.StatusReader, block time.Duration) *EventsHandler {
	if block <= 0 {
		block = 25 * time.Second
	}
	return &EventsHandler{status: status, block: block}
}

// Stream pushes the caller's generation status events as server-sent events.
// Clients resume with ?last_id= or the Last-Event-ID header.
func (h *EventsHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	if h.status == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "status stream not configured"})
		return
	}

	userID := middleware.GetUserID(ctx)

	lastID := c.Query("last_id")
	if lastID == "" {
		lastID = c.GetHeader("Last-Event-ID")
	}
	if lastID == "" {
		lastID = "$"
	}
	if !streamIDPattern.MatchString(lastID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid last_id"})
		return
	}
	if lastID == "$" {
		// pin "$" to a concrete id, otherwise events landing between two reads are lost
		latest, err := h.status.LatestStatusID(ctx, userID)
		if err != nil {
			slog.WarnContext(ctx, "resolving latest status id failed", "error", err)
		} else {
			lastID = latest
		}
	}

	setSSEHeaders(c.Writer)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	c.Status(http.StatusOK)
	sseWrite(c.Writer, "", "ping", "ready")
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		events, err := h.status.ReadStatus(ctx, userID, lastID, h.block)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.WarnContext(ctx, "status stream read failed", "error", err)
			sseWrite(c.Writer, "", "error", map[string]string{"error": "status stream unavailable"})
			flusher.Flush()

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if len(events) == 0 {
			sseWrite(c.Writer, "", "ping", time.Now().UTC().Format(time.RFC3339Nano))
			flusher.Flush()
			continue
		}

		for _, event := range events {
			lastID = event.StreamID
			sseWrite(c.Writer, event.StreamID, "status", event)
		}
		flusher.Flush()
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
}

func sseWrite(w http.ResponseWriter, id, event string, data any) {
	payload := marshalPayload(data)
	if id != "" {
		_, _ = fmt.Fprintf(w, "id: %s\n", id)
	}
	if event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event)
	}
	for _, line := range strings.Split(payload, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
}

func marshalPayload(data any) string {
	switch payload := data.(type) {
	case string:
		return payload
	case []byte:
		return string(payload)
	default:
		bytes, err := json.Marshal(payload)
		if err != nil {
			return fmt.Sprintf("%v", data)
		}
		return string(bytes)
	}
}
