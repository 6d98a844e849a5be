package service_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"lumen.app/studio/core/config"
	"lumen.app/studio/internal/errclass"
	"lumen.app/studio/internal/model"
	"lumen.app/studio/internal/service"
	"lumen.app/studio/internal/store"
)

var _ = Describe("AdminService", func() {
	var (
		h   *harness
		svc service.AdminService
		ctx context.Context
	)

	BeforeEach(func() {
		h = newHarness()
		ctx = context.Background()
		svc = service.NewAdminService(h.svc, service.NewJanitor(h.svc, &mockAPILogStore{}, config.JanitorConfig{}))
	})

	It("folds the parallel counts into dashboard stats", func() {
		h.gens.stats = store.GenerationStats{
			ByStatus: map[model.GenerationStatus]int64{
				model.GenerationStatusCompleted:  6,
				model.GenerationStatusFailed:     2,
				model.GenerationStatusProcessing: 1,
				model.GenerationStatusPending:    1,
			},
			ByProvider: map[model.Provider]int64{model.ProviderReplicate: 7, model.ProviderFal: 3},
			ByCategory: map[errclass.Category]int64{
				errclass.Timeout: 1,
				errclass.NSFW:    1,
				errclass.Network: 3,
			},
			UniqueUsers: 4,
		}

		stats, err := svc.Stats(ctx, 24*time.Hour)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Total).To(Equal(int64(10)))
		Expect(stats.Active).To(Equal(int64(2)))
		Expect(stats.SuccessRate).To(BeNumerically("~", 0.75, 0.001))
		Expect(stats.UniqueUsers).To(Equal(int64(4)))
		Expect(stats.ByProvider).To(HaveKeyWithValue(model.ProviderFal, int64(3)))
		Expect(stats.Since).To(BeTemporally("~", time.Now().Add(-24*time.Hour), time.Minute))
		Expect(stats.TopErrors).To(Equal([]service.CategoryCount{
			{Category: errclass.Network, Count: 3},
			{Category: errclass.NSFW, Count: 1},
			{Category: errclass.Timeout, Count: 1},
		}))
	})

	It("returns empty collections when nothing happened", func() {
		stats, err := svc.Stats(ctx, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Total).To(BeZero())
		Expect(stats.SuccessRate).To(BeZero())
		Expect(stats.TopErrors).To(BeEmpty())
		Expect(stats.TopErrors).NotTo(BeNil())
	})

	It("bounds the window", func() {
		_, err := svc.Stats(ctx, 100*24*time.Hour)
		Expect(err).To(MatchError(service.ErrValidation))
	})

	It("runs a janitor pass on demand", func() {
		report, err := svc.Cleanup(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Errors).To(BeZero())
	})
})
