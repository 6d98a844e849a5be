package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"lumen.app/studio/internal/auth"
	"lumen.app/studio/internal/errclass"
	"lumen.app/studio/internal/http/handler"
	"lumen.app/studio/internal/http/middleware"
	"lumen.app/studio/internal/model"
	"lumen.app/studio/internal/service"
)

func withUser(userID uuid.UUID) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(middleware.WithIdentity(c.Request.Context(), &auth.Identity{UserID: userID}))
		c.Next()
	}
}

func sampleGeneration(userID uuid.UUID, status model.GenerationStatus) *model.Generation {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &model.Generation{
		ID:        1234567890123,
		UserID:    userID,
		Provider:  model.ProviderReplicate,
		Model:     "flux-schnell",
		MediaType: model.MediaTypeImage,
		Prompt:    "a lighthouse at dusk",
		Params:    json.RawMessage(`{"num_outputs":1}`),
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

var _ = Describe("GenerationHandler", func() {
	var (
		router *gin.Engine
		svc    *mockGenerationService
		userID uuid.UUID
	)

	BeforeEach(func() {
		userID = uuid.New()
		svc = &mockGenerationService{}
		router = gin.New()
		h := handler.NewGenerationHandler(svc)
		rg := router.Group("/generations", withUser(userID))
		rg.POST("", h.Create)
		rg.GET("", h.List)
		rg.GET("/:id", h.Get)
		rg.DELETE("/:id", h.Delete)
		rg.POST("/:id/cancel", h.Cancel)
		rg.POST("/:id/retry", h.Retry)
		rg.POST("/:id/sync", h.Sync)
	})

	do := func(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	decode := func(w *httptest.ResponseRecorder) map[string]any {
		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		return resp
	}

	Describe("Create", func() {
		It("returns 201 and passes the idempotency key through", func() {
			var got service.CreateInput
			svc.createFn = func(_ context.Context, uid uuid.UUID, in service.CreateInput) (*service.CreateResult, error) {
				Expect(uid).To(Equal(userID))
				got = in
				return &service.CreateResult{Generation: sampleGeneration(uid, model.GenerationStatusPending)}, nil
			}

			body, _ := json.Marshal(map[string]any{
				"model":        "flux-schnell",
				"prompt":       "a lighthouse at dusk",
				"params":       map[string]any{"num_outputs": 1},
				"workspace_id": "42",
			})
			w := do(http.MethodPost, "/generations", body, map[string]string{"Idempotency-Key": "abc"})

			Expect(w.Code).To(Equal(http.StatusCreated))
			Expect(got.IdempotencyKey).To(Equal("abc"))
			Expect(got.Model).To(Equal("flux-schnell"))
			Expect(*got.WorkspaceID).To(Equal(int64(42)))
			Expect(string(got.Params)).To(MatchJSON(`{"num_outputs":1}`))

			resp := decode(w)
			Expect(resp["id"]).To(Equal("1234567890123"))
			Expect(resp["status"]).To(Equal("pending"))
			Expect(resp["output_urls"]).To(BeEmpty())
		})

		It("returns 200 for a replayed idempotency key", func() {
			svc.createFn = func(_ context.Context, uid uuid.UUID, _ service.CreateInput) (*service.CreateResult, error) {
				return &service.CreateResult{Generation: sampleGeneration(uid, model.GenerationStatusProcessing), Duplicated: true}, nil
			}

			w := do(http.MethodPost, "/generations", []byte(`{"model":"flux-schnell","prompt":"x"}`), nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Header().Get("Idempotent-Replayed")).To(Equal("true"))
		})

		It("returns 400 on malformed JSON", func() {
			w := do(http.MethodPost, "/generations", []byte(`{`), nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(w)["error"]).To(Equal("invalid request body"))
		})

		It("does not reflect markup from a rejected prompt", func() {
			svc.createFn = func(context.Context, uuid.UUID, service.CreateInput) (*service.CreateResult, error) {
				return nil, &service.ValidationError{Field: "model", Message: "is not a known model"}
			}

			body, _ := json.Marshal(map[string]any{
				"model":  "<script>alert(1)</script>",
				"prompt": "'; DROP TABLE generations; --",
			})
			w := do(http.MethodPost, "/generations", body, nil)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(w.Body.String()).NotTo(ContainSubstring("script"))
			Expect(w.Body.String()).NotTo(ContainSubstring("DROP TABLE"))
			resp := decode(w)
			Expect(resp["field"]).To(Equal("model"))
		})

		It("returns 429 with Retry-After when rate limited", func() {
			svc.createFn = func(context.Context, uuid.UUID, service.CreateInput) (*service.CreateResult, error) {
				return nil, &service.RateLimitError{RetryAfter: 1500 * time.Millisecond}
			}

			w := do(http.MethodPost, "/generations", []byte(`{"model":"flux-schnell","prompt":"x"}`), nil)

			Expect(w.Code).To(Equal(http.StatusTooManyRequests))
			Expect(w.Header().Get("Retry-After")).To(Equal("2"))
		})

		It("returns 429 when too many generations are in flight", func() {
			svc.createFn = func(context.Context, uuid.UUID, service.CreateInput) (*service.CreateResult, error) {
				return nil, service.ErrInFlightLimit
			}

			w := do(http.MethodPost, "/generations", []byte(`{"model":"flux-schnell","prompt":"x"}`), nil)
			Expect(w.Code).To(Equal(http.StatusTooManyRequests))
		})

		It("hides internal errors", func() {
			svc.createFn = func(context.Context, uuid.UUID, service.CreateInput) (*service.CreateResult, error) {
				return nil, errors.New("pq: connection refused on 10.0.0.5")
			}

			w := do(http.MethodPost, "/generations", []byte(`{"model":"flux-schnell","prompt":"x"}`), nil)

			Expect(w.Code).To(Equal(http.StatusInternalServerError))
			Expect(w.Body.String()).NotTo(ContainSubstring("10.0.0.5"))
		})
	})

	Describe("Get", func() {
		It("returns the caller's generation with a user-facing error", func() {
			svc.getFn = func(_ context.Context, uid uuid.UUID, id int64) (*model.Generation, error) {
				g := sampleGeneration(uid, model.GenerationStatusFailed)
				cat := errclass.NSFW
				msg := "upstream said: <b>nsfw</b>"
				g.ErrorCategory = &cat
				g.ErrorMessage = &msg
				return g, nil
			}

			w := do(http.MethodGet, "/generations/1234567890123", nil, nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			resp := decode(w)
			Expect(resp["error_category"]).To(Equal("nsfw"))
			Expect(resp["error"]).To(Equal(errclass.NSFW.UserMessage()))
			Expect(w.Body.String()).NotTo(ContainSubstring("upstream said"))
		})

		It("returns 404 for another user's generation", func() {
			svc.getFn = func(context.Context, uuid.UUID, int64) (*model.Generation, error) {
				return nil, service.ErrNotFound
			}

			w := do(http.MethodGet, "/generations/99", nil, nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("returns 404 without reflecting a malformed id", func() {
			w := do(http.MethodGet, "/generations/1%20OR%201=1", nil, nil)

			Expect(w.Code).To(Equal(http.StatusNotFound))
			Expect(w.Body.String()).NotTo(ContainSubstring("OR"))
		})
	})

	Describe("List", func() {
		It("maps query parameters to the filter", func() {
			var got service.ListFilter
			svc.listFn = func(_ context.Context, _ uuid.UUID, f service.ListFilter) (*service.GenerationPage, error) {
				got = f
				return &service.GenerationPage{
					Items:      []model.Generation{*sampleGeneration(userID, model.GenerationStatusCompleted)},
					NextCursor: 77,
				}, nil
			}

			w := do(http.MethodGet, "/generations?status=completed&media_type=image&q=cat&limit=5&cursor=100&project_id=3", nil, nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(got.Status).To(Equal("completed"))
			Expect(got.MediaType).To(Equal("image"))
			Expect(got.Search).To(Equal("cat"))
			Expect(got.Limit).To(Equal(5))
			Expect(got.Cursor).To(Equal(int64(100)))
			Expect(*got.ProjectID).To(Equal(int64(3)))

			resp := decode(w)
			Expect(resp["items"]).To(HaveLen(1))
			Expect(resp["next_cursor"]).To(Equal("77"))
		})

		It("returns 400 for a non-numeric cursor", func() {
			w := do(http.MethodGet, "/generations?cursor=abc", nil, nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("state changes", func() {
		It("returns 409 when cancelling a terminal generation", func() {
			svc.cancelFn = func(context.Context, uuid.UUID, int64) (*model.Generation, error) {
				return nil, service.ErrInvalidTransition
			}

			w := do(http.MethodPost, "/generations/5/cancel", nil, nil)
			Expect(w.Code).To(Equal(http.StatusConflict))
		})

		It("returns 409 when the retry limit is reached", func() {
			svc.retryFn = func(context.Context, uuid.UUID, int64) (*model.Generation, error) {
				return nil, service.ErrRetryLimit
			}

			w := do(http.MethodPost, "/generations/5/retry", nil, nil)
			Expect(w.Code).To(Equal(http.StatusConflict))
			Expect(decode(w)["error"]).To(Equal(service.ErrRetryLimit.Error()))
		})

		It("returns 202 on retry", func() {
			svc.retryFn = func(_ context.Context, uid uuid.UUID, _ int64) (*model.Generation, error) {
				return sampleGeneration(uid, model.GenerationStatusPending), nil
			}

			w := do(http.MethodPost, "/generations/5/retry", nil, nil)
			Expect(w.Code).To(Equal(http.StatusAccepted))
		})

		It("returns the synced row", func() {
			svc.syncFn = func(_ context.Context, uid uuid.UUID, id int64) (*model.Generation, error) {
				Expect(id).To(Equal(int64(5)))
				return sampleGeneration(uid, model.GenerationStatusProcessing), nil
			}

			w := do(http.MethodPost, "/generations/5/sync", nil, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode(w)["status"]).To(Equal("processing"))
		})

		It("returns 204 on delete", func() {
			w := do(http.MethodDelete, "/generations/5", nil, nil)
			Expect(w.Code).To(Equal(http.StatusNoContent))
		})
	})
})
