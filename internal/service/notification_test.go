package service_test

import (
	"context"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"lumen.app/studio/internal/model"
	"lumen.app/studio/internal/service"
	"lumen.app/studio/internal/store"
)

var _ = Describe("NotificationService", func() {
	var (
		ctx    context.Context
		user   uuid.UUID
		notifs *mockNotificationStore
		svc    service.NotificationService
	)

	BeforeEach(func() {
		ctx = context.Background()
		user = uuid.New()
		notifs = &mockNotificationStore{}
		svc = service.NewNotificationService(notifs)
	})

	It("lists a page with the unread count and next cursor", func() {
		notifs.listFn = func(_ context.Context, f store.NotificationFilter) ([]model.Notification, error) {
			Expect(f.UserID).To(Equal(user))
			Expect(f.UnreadOnly).To(BeTrue())
			Expect(f.Limit).To(Equal(2))
			return []model.Notification{{ID: 9}, {ID: 8}}, nil
		}
		notifs.countUnreadFn = func(context.Context, uuid.UUID) (int64, error) { return 5, nil }

		page, err := svc.List(ctx, user, true, 0, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(page.Items).To(HaveLen(2))
		Expect(page.UnreadCount).To(Equal(int64(5)))
		Expect(page.NextCursor).To(Equal(int64(8)))
	})

	It("clamps the page size", func() {
		notifs.listFn = func(_ context.Context, f store.NotificationFilter) ([]model.Notification, error) {
			Expect(f.Limit).To(Equal(100))
			return nil, nil
		}
		_, err := svc.List(ctx, user, false, 0, 1000)
		Expect(err).NotTo(HaveOccurred())
	})

	It("reports notifications owned by someone else as not found", func() {
		notifs.markReadFn = func(context.Context, uuid.UUID, int64) (bool, error) { return false, nil }
		Expect(svc.MarkRead(ctx, user, 3)).To(MatchError(service.ErrNotFound))
	})

	It("marks everything read", func() {
		notifs.markAllReadFn = func(context.Context, uuid.UUID) (int64, error) { return 4, nil }
		n, err := svc.MarkAllRead(ctx, user)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(4)))
	})
})
