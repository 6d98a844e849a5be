package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"lumen.app/studio/common/logger"
	"lumen.app/studio/internal/auth"
	"lumen.app/studio/internal/http/middleware"
)

type stubVerifier struct {
	identity *auth.Identity
	gotToken string
}

func (v *stubVerifier) Verify(_ context.Context, token string) (*auth.Identity, error) {
	v.gotToken = token
	if v.identity == nil {
		return nil, errors.Join(auth.ErrInvalidToken, errors.New("bad signature"))
	}
	return v.identity, nil
}

func serve(engine *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

var _ = Describe("RequireAuth", func() {
	var (
		verifier *stubVerifier
		engine   *gin.Engine
		seen     uuid.UUID
		fields   logger.LogFields
	)

	BeforeEach(func() {
		verifier = &stubVerifier{}
		seen = uuid.Nil
		engine = gin.New()
		engine.GET("/me", middleware.RequireAuth(verifier), func(c *gin.Context) {
			seen = middleware.GetUserID(c.Request.Context())
			fields = logger.GetLogFields(c.Request.Context())
			c.Status(http.StatusNoContent)
		})
	})

	It("rejects a request without a bearer token", func() {
		w := serve(engine, httptest.NewRequest(http.MethodGet, "/me", nil))
		Expect(w.Code).To(Equal(http.StatusUnauthorized))
		Expect(w.Body.String()).To(ContainSubstring("not authenticated"))
	})

	It("rejects a token the verifier refuses without echoing it", func() {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer secret-token-value")

		w := serve(engine, req)
		Expect(w.Code).To(Equal(http.StatusUnauthorized))
		Expect(w.Body.String()).To(ContainSubstring("invalid or expired token"))
		Expect(w.Body.String()).NotTo(ContainSubstring("secret-token-value"))
		Expect(verifier.gotToken).To(Equal("secret-token-value"))
	})

	It("attaches the identity for downstream handlers", func() {
		user := uuid.New()
		verifier.identity = &auth.Identity{UserID: user, Email: "a@b.test"}
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "bearer good")

		w := serve(engine, req)
		Expect(w.Code).To(Equal(http.StatusNoContent))
		Expect(seen).To(Equal(user))
		Expect(fields.UserID).NotTo(BeNil())
		Expect(*fields.UserID).To(Equal(user.String()))
	})

	It("returns uuid.Nil outside an authenticated request", func() {
		Expect(middleware.GetUserID(context.Background())).To(Equal(uuid.Nil))
		Expect(middleware.GetIdentity(context.Background())).To(BeNil())
	})
})

var _ = Describe("RequireAdminAPIKey", func() {
	build := func(key string) *gin.Engine {
		engine := gin.New()
		engine.GET("/admin", middleware.RequireAdminAPIKey(key), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
		return engine
	}

	DescribeTable("authorizes requests",
		func(key, header, value string, want int) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if header != "" {
				req.Header.Set(header, value)
			}
			Expect(serve(build(key), req).Code).To(Equal(want))
		},
		Entry("unconfigured key", "", "X-Admin-API-Key", "anything", http.StatusServiceUnavailable),
		Entry("missing key", "k3y", "", "", http.StatusUnauthorized),
		Entry("wrong key", "k3y", "X-Admin-API-Key", "nope", http.StatusUnauthorized),
		Entry("header key", "k3y", "X-Admin-API-Key", "k3y", http.StatusOK),
		Entry("bearer key", "k3y", "Authorization", "Bearer k3y", http.StatusOK),
	)
})

var _ = Describe("RequestID", func() {
	var (
		engine *gin.Engine
		got    string
	)

	BeforeEach(func() {
		got = ""
		engine = gin.New()
		engine.Use(middleware.RequestID())
		engine.GET("/", func(c *gin.Context) {
			if id := logger.GetLogFields(c.Request.Context()).RequestID; id != nil {
				got = *id
			}
			c.Status(http.StatusOK)
		})
	})

	It("keeps a caller supplied id", func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(middleware.RequestIDHeader, "req-123")

		w := serve(engine, req)
		Expect(w.Header().Get(middleware.RequestIDHeader)).To(Equal("req-123"))
		Expect(got).To(Equal("req-123"))
	})

	It("mints an id when none or an oversized one is sent", func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(middleware.RequestIDHeader, strings.Repeat("x", 200))

		w := serve(engine, req)
		_, err := uuid.Parse(w.Header().Get(middleware.RequestIDHeader))
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(w.Header().Get(middleware.RequestIDHeader)))
	})
})

var _ = Describe("Recovery", func() {
	It("turns a panic into a 500", func() {
		engine := gin.New()
		engine.Use(middleware.Recovery())
		engine.GET("/boom", func(*gin.Context) { panic("kaboom") })

		w := serve(engine, httptest.NewRequest(http.MethodGet, "/boom", nil))
		Expect(w.Code).To(Equal(http.StatusInternalServerError))
		Expect(w.Body.String()).To(ContainSubstring("internal server error"))
		Expect(w.Body.String()).NotTo(ContainSubstring("kaboom"))
	})

	It("keeps the status of a response already written", func() {
		engine := gin.New()
		engine.Use(middleware.Recovery())
		engine.GET("/stream", func(c *gin.Context) {
			c.String(http.StatusOK, "partial")
			c.Writer.Flush()
			panic("mid-stream")
		})

		w := serve(engine, httptest.NewRequest(http.MethodGet, "/stream", nil))
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(Equal("partial"))
	})
})
