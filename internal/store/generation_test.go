package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"lumen.app/studio/common/id"
	"lumen.app/studio/internal/errclass"
	"lumen.app/studio/internal/model"
)

var _ = Describe("patchColumns", func() {
	It("leaves columns untouched for an empty patch", func() {
		Expect(patchColumns(GenerationPatch{})).To(BeEmpty())
	})

	It("lets explicit values override a retry reset", func() {
		cat := errclass.Timeout
		set := patchColumns(GenerationPatch{ResetForRetry: true, ErrorCategory: &cat})
		Expect(set).To(HaveKeyWithValue("error_category", "timeout"))
		Expect(set).To(HaveKeyWithValue("provider_job_id", BeNil()))
		Expect(set).To(HaveKeyWithValue("dispatch_attempts", 0))
	})

	It("uses SQL expressions for counters and timestamps", func() {
		set := patchColumns(GenerationPatch{IncrementRetry: true, MarkCompleted: true})
		Expect(set["retry_count"]).To(BeAssignableToTypeOf(sq.Expr("")))
		Expect(set["completed_at"]).To(BeAssignableToTypeOf(sq.Expr("")))
	})
})

var _ = Describe("escapeLike", func() {
	It("escapes wildcards and backslashes", func() {
		Expect(escapeLike(`100%_off\`)).To(Equal(`100\%\_off\\`))
	})
})

var _ = Describe("clampLimit", func() {
	It("defaults and caps the page size", func() {
		Expect(clampLimit(0)).To(Equal(20))
		Expect(clampLimit(-5)).To(Equal(20))
		Expect(clampLimit(50)).To(Equal(50))
		Expect(clampLimit(1000)).To(Equal(100))
	})
})

var _ = Describe("generationStore against Postgres", func() {
	var (
		ctx    context.Context
		stores *Stores
		gens   GenerationStore
		userID uuid.UUID
	)

	newGeneration := func(prompt string) *model.Generation {
		return &model.Generation{
			ID:            id.New(),
			UserID:        userID,
			Provider:      model.ProviderReplicate,
			Model:         "flux-schnell",
			ProviderModel: "black-forest-labs/flux-schnell",
			MediaType:     model.MediaTypeImage,
			Prompt:        prompt,
			Params:        json.RawMessage(`{"num_outputs":1}`),
		}
	}

	BeforeEach(func() {
		stores = NewStores(requireDB())
		gens = stores.Generations()
		ctx = context.Background()
		userID = uuid.New()
	})

	It("inserts pending rows and reads them back for the owner only", func() {
		created, err := gens.Insert(ctx, newGeneration("a lighthouse at dusk"))
		Expect(err).NotTo(HaveOccurred())
		Expect(created.Status).To(Equal(model.GenerationStatusPending))
		Expect(created.ProviderMeta).To(BeEmpty())
		Expect(created.OutputURLs).To(BeEmpty())

		got, err := gens.GetForUser(ctx, created.ID, userID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Prompt).To(Equal("a lighthouse at dusk"))
		Expect(string(got.Params)).To(MatchJSON(`{"num_outputs":1}`))

		_, err = gens.GetForUser(ctx, created.ID, uuid.New())
		Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
	})

	It("rejects a duplicate idempotency key with ErrConflict", func() {
		key := "client-key-1"
		first := newGeneration("one")
		first.IdempotencyKey = &key
		_, err := gens.Insert(ctx, first)
		Expect(err).NotTo(HaveOccurred())

		second := newGeneration("two")
		second.IdempotencyKey = &key
		_, err = gens.Insert(ctx, second)
		Expect(errors.Is(err, ErrConflict)).To(BeTrue())

		existing, err := gens.GetByIdempotencyKey(ctx, userID, key)
		Expect(err).NotTo(HaveOccurred())
		Expect(existing.ID).To(Equal(first.ID))
	})

	It("transitions conditionally and reports a lost race as not transitioned", func() {
		g, err := gens.Insert(ctx, newGeneration("race"))
		Expect(err).NotTo(HaveOccurred())

		ok, claimed, err := gens.Transition(ctx, g.ID,
			[]model.GenerationStatus{model.GenerationStatusPending}, model.GenerationStatusProcessing,
			GenerationPatch{IncrementDispatch: true, MarkStarted: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(claimed.DispatchAttempts).To(Equal(1))
		Expect(claimed.StartedAt).NotTo(BeNil())

		ok, _, err = gens.Transition(ctx, g.ID,
			[]model.GenerationStatus{model.GenerationStatusPending}, model.GenerationStatusProcessing,
			GenerationPatch{})
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("stores provider handles, completes and resets for retry", func() {
		g, _ := gens.Insert(ctx, newGeneration("cycle"))
		_, _, err := gens.Transition(ctx, g.ID, model.SourcesFor(model.GenerationStatusProcessing),
			model.GenerationStatusProcessing, GenerationPatch{})
		Expect(err).NotTo(HaveOccurred())

		job := "pred_123"
		ok, updated, err := gens.Update(ctx, g.ID, model.GenerationStatusProcessing, GenerationPatch{
			ProviderJobID: &job,
			ProviderMeta:  model.ProviderMeta{"get_url": "https://api.replicate.com/v1/predictions/pred_123"},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(*updated.ProviderJobID).To(Equal(job))
		Expect(updated.ProviderMeta).To(HaveKey("get_url"))

		msg := "prediction timed out"
		cat := errclass.Timeout
		ok, failed, err := gens.Transition(ctx, g.ID, model.SourcesFor(model.GenerationStatusFailed),
			model.GenerationStatusFailed, GenerationPatch{ErrorMessage: &msg, ErrorCategory: &cat, MarkCompleted: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(failed.Category()).To(Equal(errclass.Timeout))

		ok, retried, err := gens.Transition(ctx, g.ID, model.SourcesFor(model.GenerationStatusPending),
			model.GenerationStatusPending, GenerationPatch{ResetForRetry: true, IncrementRetry: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(retried.RetryCount).To(Equal(1))
		Expect(retried.ProviderJobID).To(BeNil())
		Expect(retried.ErrorCategory).To(BeNil())
		Expect(retried.CompletedAt).To(BeNil())
	})

	It("lists newest first with keyset cursor and parameterised search", func() {
		var ids []int64
		for _, p := range []string{"red fox", "blue whale", "red panda"} {
			g, err := gens.Insert(ctx, newGeneration(p))
			Expect(err).NotTo(HaveOccurred())
			ids = append(ids, g.ID)
		}

		page, err := gens.List(ctx, GenerationFilter{UserID: &userID, Limit: 2})
		Expect(err).NotTo(HaveOccurred())
		Expect(page).To(HaveLen(2))
		Expect(page[0].ID).To(Equal(ids[2]))

		rest, err := gens.List(ctx, GenerationFilter{UserID: &userID, Cursor: page[1].ID})
		Expect(err).NotTo(HaveOccurred())
		Expect(rest).To(HaveLen(1))
		Expect(rest[0].ID).To(Equal(ids[0]))

		reds, err := gens.List(ctx, GenerationFilter{UserID: &userID, Search: "RED"})
		Expect(err).NotTo(HaveOccurred())
		Expect(reds).To(HaveLen(2))

		injected, err := gens.List(ctx, GenerationFilter{UserID: &userID, Search: "' OR 1=1 --"})
		Expect(err).NotTo(HaveOccurred())
		Expect(injected).To(BeEmpty())

		wildcard, err := gens.List(ctx, GenerationFilter{UserID: &userID, Search: "%"})
		Expect(err).NotTo(HaveOccurred())
		Expect(wildcard).To(BeEmpty())
	})

	It("counts active rows and deletes only terminal ones", func() {
		g, _ := gens.Insert(ctx, newGeneration("active"))
		n, err := gens.CountActive(ctx, userID)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(1)))

		terminal := []model.GenerationStatus{model.GenerationStatusFailed, model.GenerationStatusCancelled, model.GenerationStatusCompleted}
		deleted, err := gens.Delete(ctx, g.ID, terminal)
		Expect(err).NotTo(HaveOccurred())
		Expect(deleted).To(BeFalse())

		_, _, err = gens.Transition(ctx, g.ID, model.SourcesFor(model.GenerationStatusCancelled), model.GenerationStatusCancelled, GenerationPatch{})
		Expect(err).NotTo(HaveOccurred())
		deleted, err = gens.Delete(ctx, g.ID, terminal)
		Expect(err).NotTo(HaveOccurred())
		Expect(deleted).To(BeTrue())
	})

	It("pages stale rows and aggregates stats", func() {
		g, _ := gens.Insert(ctx, newGeneration("stale"))

		stale, err := gens.ListStale(ctx, StaleQuery{
			Statuses: []model.GenerationStatus{model.GenerationStatusPending},
			Before:   time.Now().Add(time.Minute),
			AfterID:  g.ID - 1,
			Limit:    10,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(stale).NotTo(BeEmpty())
		Expect(stale[0].ID).To(Equal(g.ID))

		byStatus, err := gens.CountByStatus(ctx, time.Now().Add(-time.Hour))
		Expect(err).NotTo(HaveOccurred())
		Expect(byStatus[model.GenerationStatusPending]).To(BeNumerically(">=", 1))

		users, err := gens.CountDistinctUsers(ctx, time.Now().Add(-time.Hour))
		Expect(err).NotTo(HaveOccurred())
		Expect(users).To(BeNumerically(">=", 1))
	})
})
