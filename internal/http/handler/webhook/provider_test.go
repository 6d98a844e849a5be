package webhook_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"lumen.app/studio/internal/http/handler/webhook"
	"lumen.app/studio/internal/service"
)

type fakeWebhookService struct {
	got service.WebhookRequest
	err error
}

func (f *fakeWebhookService) Handle(_ context.Context, req service.WebhookRequest) error {
	f.got = req
	return f.err
}

var _ = Describe("ProviderWebhookHandler", func() {
	var (
		router *gin.Engine
		svc    *fakeWebhookService
	)

	BeforeEach(func() {
		svc = &fakeWebhookService{}
		router = gin.New()
		router.POST("/api/webhooks/:provider", webhook.NewProviderWebhookHandler(svc).HandleEvent)
	})

	post := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Webhook-Id", "msg_1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("forwards the callback to the service", func() {
		w := post("/api/webhooks/replicate?gid=42&token=abc", `{"id":"p1","status":"succeeded"}`)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(svc.got.Provider).To(Equal("replicate"))
		Expect(svc.got.GenerationID).To(Equal("42"))
		Expect(svc.got.Token).To(Equal("abc"))
		Expect(svc.got.Header.Get("Webhook-Id")).To(Equal("msg_1"))
		Expect(string(svc.got.Body)).To(Equal(`{"id":"p1","status":"succeeded"}`))
	})

	It("returns 401 without a token", func() {
		w := post("/api/webhooks/fal?gid=42", `{}`)
		Expect(w.Code).To(Equal(http.StatusUnauthorized))
		Expect(svc.got.Provider).To(BeEmpty())
	})

	DescribeTable("maps service errors",
		func(err error, status int) {
			svc.err = err
			Expect(post("/api/webhooks/fal?gid=42&token=abc", `{}`).Code).To(Equal(status))
		},
		Entry("bad token", service.ErrUnauthorized, http.StatusUnauthorized),
		Entry("unknown provider", service.ErrNotFound, http.StatusNotFound),
		Entry("bad payload", fmt.Errorf("body: %w", service.ErrValidation), http.StatusBadRequest),
		Entry("storage failure", errors.New("db down"), http.StatusInternalServerError),
	)

	It("rejects oversized bodies", func() {
		big := `{"pad":"` + strings.Repeat("a", 2<<20) + `"}`
		Expect(post("/api/webhooks/fal?gid=42&token=abc", big).Code).To(Equal(http.StatusRequestEntityTooLarge))
	})
})
