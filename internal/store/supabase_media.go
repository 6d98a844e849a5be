package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// SupabaseMediaStore stores media in a Supabase Storage bucket through its REST API.
type SupabaseMediaStore struct {
	baseURL    string
	serviceKey string
	bucket     string
	maxSize    int64
	httpClient *http.Client
}

func NewSupabaseMediaStore(baseURL, serviceKey, bucket string, maxSize int64) *SupabaseMediaStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxObjectSize
	}
	return &SupabaseMediaStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		bucket:     bucket,
		maxSize:    maxSize,
		httpClient: &http.Client{
			Timeout:   5 * time.Minute,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (s *SupabaseMediaStore) Put(ctx context.Context, key, contentType string, body io.Reader) (Object, error) {
	if err := validateKey(key); err != nil {
		return Object{}, err
	}

	// Buffered so the size cap is enforced before anything is sent upstream.
	var buf bytes.Buffer
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(&buf, h), newCappedReader(ctx, body, s.maxSize))
	if err != nil {
		return Object{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.objectURL(key), &buf)
	if err != nil {
		return Object{}, fmt.Errorf("creating upload request: %w", err)
	}
	s.authorize(req)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")
	req.Header.Set("Cache-Control", "max-age=31536000")

	if err := s.do(req); err != nil {
		return Object{}, fmt.Errorf("uploading %s: %w", key, err)
	}

	return Object{
		Key:         key,
		URL:         s.PublicURL(key),
		ContentType: contentType,
		Size:        n,
		SHA256:      hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func (s *SupabaseMediaStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	payload, err := json.Marshal(map[string][]string{"prefixes": keys})
	if err != nil {
		return fmt.Errorf("marshaling delete request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/storage/v1/object/%s", s.baseURL, url.PathEscape(s.bucket))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating delete request: %w", err)
	}
	s.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	if err := s.do(req); err != nil {
		return fmt.Errorf("deleting %d objects: %w", len(keys), err)
	}
	return nil
}

func (s *SupabaseMediaStore) PublicURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, url.PathEscape(s.bucket), key)
}

func (s *SupabaseMediaStore) objectURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, url.PathEscape(s.bucket), key)
}

func (s *SupabaseMediaStore) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)
}

func (s *SupabaseMediaStore) do(req *http.Request) error {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("storage returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
