package service_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/google/uuid"

	"lumen.app/studio/internal/model"
	"lumen.app/studio/internal/queue"
	"lumen.app/studio/internal/service"
)

var _ = Describe("Poller", func() {
	var (
		h    *harness
		ctx  context.Context
		user uuid.UUID
	)

	startedAgo := func(d time.Duration) func(g *model.Generation) {
		return func(g *model.Generation) {
			t := time.Now().Add(-d)
			g.StartedAt = &t
		}
	}

	BeforeEach(func() {
		h = newHarness()
		ctx = context.Background()
		user = uuid.New()
	})

	It("enqueues a sync for quiet processing generations", func() {
		stale := h.seed(user, model.GenerationStatusProcessing, withJob("job-1"), startedAgo(10*time.Minute))
		h.seed(user, model.GenerationStatusProcessing, withJob("job-2"), startedAgo(5*time.Second))

		n, err := service.NewPoller(h.svc, time.Minute, 100).ScheduleSyncs(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))
		Expect(h.producer.types()).To(Equal([]queue.TaskType{queue.TaskTypeSync}))
		Expect(h.producer.tasks[0].GenerationID).To(Equal(stale.ID))
	})

	It("skips rows without a provider job and rows in other states", func() {
		h.seed(user, model.GenerationStatusProcessing, startedAgo(10*time.Minute))
		h.seed(user, model.GenerationStatusPending, withJob("job-3"), startedAgo(10*time.Minute))

		n, err := service.NewPoller(h.svc, time.Minute, 100).ScheduleSyncs(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
		Expect(h.producer.tasks).To(BeEmpty())
	})

	It("respects the batch limit", func() {
		for i := range 3 {
			h.seed(user, model.GenerationStatusProcessing, withJob("job-"+string(rune('a'+i))), startedAgo(time.Hour))
		}

		n, err := service.NewPoller(h.svc, time.Minute, 2).ScheduleSyncs(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))
	})

	It("reports how many were scheduled when the producer fails", func() {
		h.seed(user, model.GenerationStatusProcessing, withJob("job-1"), startedAgo(time.Hour))
		h.producer.err = errors.New("redis down")

		n, err := service.NewPoller(h.svc, time.Minute, 100).ScheduleSyncs(ctx)
		Expect(err).To(MatchError(ContainSubstring("redis down")))
		Expect(n).To(BeZero())
	})
})
