package service_test

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"lumen.app/studio/internal/service"
)

var _ = Describe("RedisRateLimiter", func() {
	var (
		ctx     context.Context
		mr      *miniredis.Miniredis
		limiter service.RateLimiter
	)

	BeforeEach(func() {
		ctx = context.Background()
		mr = miniredis.RunT(GinkgoT())
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		DeferCleanup(client.Close)
		limiter = service.NewRedisRateLimiter(client, "test")
	})

	It("allows up to the limit within a window", func() {
		for i := range 3 {
			d, err := limiter.Allow(ctx, "user-1", 3, time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Allowed).To(BeTrue())
			Expect(d.Remaining).To(Equal(2 - i))
		}

		d, err := limiter.Allow(ctx, "user-1", 3, time.Hour)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Allowed).To(BeFalse())
		Expect(d.RetryAfter).To(BeNumerically(">", 0))
		Expect(d.RetryAfter).To(BeNumerically("<=", time.Hour))
	})

	It("counts subjects separately", func() {
		_, err := limiter.Allow(ctx, "user-1", 1, time.Hour)
		Expect(err).NotTo(HaveOccurred())

		d, err := limiter.Allow(ctx, "user-2", 1, time.Hour)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Allowed).To(BeTrue())
	})

	It("expires window keys", func() {
		_, err := limiter.Allow(ctx, "user-1", 1, time.Minute)
		Expect(err).NotTo(HaveOccurred())

		keys := mr.Keys()
		Expect(keys).To(HaveLen(1))
		Expect(mr.TTL(keys[0])).To(BeNumerically(">", 0))
	})

	It("surfaces redis errors", func() {
		mr.Close()
		_, err := limiter.Allow(ctx, "user-1", 1, time.Hour)
		Expect(err).To(HaveOccurred())
	})
})
