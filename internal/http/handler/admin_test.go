package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"lumen.app/studio/internal/http/handler"
	"lumen.app/studio/internal/model"
	"lumen.app/studio/internal/service"
)

var _ = Describe("AdminHandler", func() {
	var (
		router *gin.Engine
		svc    *mockAdminService
	)

	BeforeEach(func() {
		svc = &mockAdminService{}
		router = gin.New()
		h := handler.NewAdminHandler(svc)
		router.GET("/stats", h.Stats)
		router.GET("/generations", h.ListGenerations)
		router.POST("/generations/:id/retry", h.RetryGeneration)
		router.POST("/cleanup", h.Cleanup)
	})

	do := func(method, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
		return w
	}

	It("defaults the stats window to 24h", func() {
		var got time.Duration
		svc.statsFn = func(_ context.Context, window time.Duration) (*service.GenerationStats, error) {
			got = window
			return &service.GenerationStats{Total: 3}, nil
		}

		w := do(http.MethodGet, "/stats")

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(got).To(Equal(24 * time.Hour))
	})

	It("parses the since window", func() {
		var got time.Duration
		svc.statsFn = func(_ context.Context, window time.Duration) (*service.GenerationStats, error) {
			got = window
			return &service.GenerationStats{}, nil
		}

		Expect(do(http.MethodGet, "/stats?since=90m").Code).To(Equal(http.StatusOK))
		Expect(got).To(Equal(90 * time.Minute))
	})

	DescribeTable("rejects bad windows",
		func(since string) {
			Expect(do(http.MethodGet, "/stats?since="+since).Code).To(Equal(http.StatusBadRequest))
		},
		Entry("garbage", "yesterday"),
		Entry("negative", "-1h"),
		Entry("too wide", "2400h"),
	)

	It("includes operator fields in the admin list", func() {
		svc.listFn = func(_ context.Context, f service.ListFilter) (*service.GenerationPage, error) {
			Expect(f.Provider).To(Equal("fal"))
			g := *sampleGeneration(uuid.New(), model.GenerationStatusFailed)
			msg := "upstream 503"
			g.ErrorMessage = &msg
			return &service.GenerationPage{Items: []model.Generation{g}}, nil
		}

		w := do(http.MethodGet, "/generations?provider=fal")

		Expect(w.Code).To(Equal(http.StatusOK))
		var resp struct {
			Items []map[string]any `json:"items"`
		}
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Items).To(HaveLen(1))
		Expect(resp.Items[0]["error_message"]).To(Equal("upstream 503"))
		Expect(resp.Items[0]).To(HaveKey("user_id"))
	})

	It("retries any generation", func() {
		svc.retryFn = func(_ context.Context, id int64) (*model.Generation, error) {
			Expect(id).To(Equal(int64(8)))
			return sampleGeneration(uuid.New(), model.GenerationStatusPending), nil
		}

		Expect(do(http.MethodPost, "/generations/8/retry").Code).To(Equal(http.StatusAccepted))
	})

	It("returns the cleanup report", func() {
		svc.cleanupFn = func(context.Context) (*service.CleanupReport, error) {
			return &service.CleanupReport{TimedOutPending: 2, Deleted: 1}, nil
		}

		w := do(http.MethodPost, "/cleanup")

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(MatchJSON(`{"timed_out_pending":2,"timed_out_processing":0,"recovered":0,"deleted":1,"api_logs_deleted":0,"errors":0}`))
	})
})
