package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// StatusEvent is the payload pushed to a user's status stream whenever a generation changes state.
type StatusEvent struct {
	StreamID      string   `json:"stream_id,omitempty"`
	GenerationID  int64    `json:"generation_id,string"`
	Status        string   `json:"status"`
	ErrorCategory string   `json:"error_category,omitempty"`
	OutputURLs    []string `json:"output_urls,omitempty"`
}

type StatusPublisher interface {
	Publish(ctx context.Context, userID uuid.UUID, event StatusEvent) error
}

type StatusReader interface {
	// ReadStatus blocks up to block for events after lastID ("$" for new only).
	// It returns no events and a nil error when the block expires.
	ReadStatus(ctx context.Context, userID uuid.UUID, lastID string, block time.Duration) ([]StatusEvent, error)
	// LatestStatusID returns the id of the newest event, or "0-0" for an empty stream.
	// Readers resume from it instead of "$" so nothing published between reads is skipped.
	LatestStatusID(ctx context.Context, userID uuid.UUID) (string, error)
}

type RedisStatusStream struct {
	client *redis.Client
	maxLen int64
}

func NewRedisStatusStream(client *redis.Client, maxLen int64) *RedisStatusStream {
	if maxLen <= 0 {
		maxLen = 2000
	}
	return &RedisStatusStream{client: client, maxLen: maxLen}
}

func (s *RedisStatusStream) Publish(ctx context.Context, userID uuid.UUID, event StatusEvent) error {
	values := map[string]any{
		"generation_id": event.GenerationID,
		"status":        event.Status,
	}
	if event.ErrorCategory != "" {
		values["error_category"] = event.ErrorCategory
	}
	if len(event.OutputURLs) > 0 {
		urls, err := json.Marshal(event.OutputURLs)
		if err != nil {
			return fmt.Errorf("marshaling output urls: %w", err)
		}
		values["output_urls"] = string(urls)
	}

	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StatusStreamName(userID),
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("publishing status: %w", err)
	}
	return nil
}

func (s *RedisStatusStream) ReadStatus(ctx context.Context, userID uuid.UUID, lastID string, block time.Duration) ([]StatusEvent, error) {
	if lastID == "" {
		lastID = "$"
	}
	res, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{StatusStreamName(userID), lastID},
		Block:   block,
		Count:   100,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading status stream: %w", err)
	}

	var events []StatusEvent
	for _, stream := range res {
		for _, msg := range stream.Messages {
			events = append(events, parseStatusEvent(msg))
		}
	}
	return events, nil
}

func (s *RedisStatusStream) LatestStatusID(ctx context.Context, userID uuid.UUID) (string, error) {
	msgs, err := s.client.XRevRangeN(ctx, StatusStreamName(userID), "+", "-", 1).Result()
	if err != nil {
		return "", fmt.Errorf("reading latest status id: %w", err)
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

func parseStatusEvent(msg redis.XMessage) StatusEvent {
	event := StatusEvent{
		StreamID:      msg.ID,
		Status:        parseOptionalString(msg.Values, "status"),
		ErrorCategory: parseOptionalString(msg.Values, "error_category"),
	}
	event.GenerationID, _ = strconv.ParseInt(parseOptionalString(msg.Values, "generation_id"), 10, 64)
	if raw := parseOptionalString(msg.Values, "output_urls"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &event.OutputURLs)
	}
	return event
}
