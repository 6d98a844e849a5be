package model_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"lumen.app/studio/internal/errclass"
	"lumen.app/studio/internal/model"
)

var _ = Describe("GenerationStatus", func() {
	DescribeTable("CanTransition",
		func(from, to model.GenerationStatus, want bool) {
			Expect(model.CanTransition(from, to)).To(Equal(want))
		},
		Entry("pending to processing", model.GenerationStatusPending, model.GenerationStatusProcessing, true),
		Entry("pending to cancelled", model.GenerationStatusPending, model.GenerationStatusCancelled, true),
		Entry("pending to completed", model.GenerationStatusPending, model.GenerationStatusCompleted, false),
		Entry("processing to completed", model.GenerationStatusProcessing, model.GenerationStatusCompleted, true),
		Entry("processing back to pending", model.GenerationStatusProcessing, model.GenerationStatusPending, true),
		Entry("failed to pending", model.GenerationStatusFailed, model.GenerationStatusPending, true),
		Entry("failed to completed", model.GenerationStatusFailed, model.GenerationStatusCompleted, false),
		Entry("cancelled to pending", model.GenerationStatusCancelled, model.GenerationStatusPending, true),
		Entry("completed is terminal", model.GenerationStatusCompleted, model.GenerationStatusPending, false),
	)

	It("derives conditional update sources from the transition table", func() {
		Expect(model.SourcesFor(model.GenerationStatusPending)).To(ConsistOf(
			model.GenerationStatusProcessing, model.GenerationStatusFailed, model.GenerationStatusCancelled,
		))
		Expect(model.SourcesFor(model.GenerationStatusCompleted)).To(ConsistOf(model.GenerationStatusProcessing))
		Expect(model.SourcesFor(model.GenerationStatusCancelled)).To(ConsistOf(
			model.GenerationStatusPending, model.GenerationStatusProcessing,
		))
	})

	It("reports terminal statuses", func() {
		Expect(model.GenerationStatusCompleted.IsTerminal()).To(BeTrue())
		Expect(model.GenerationStatusFailed.IsTerminal()).To(BeTrue())
		Expect(model.GenerationStatusCancelled.IsTerminal()).To(BeTrue())
		Expect(model.GenerationStatusPending.IsTerminal()).To(BeFalse())
		Expect(model.GenerationStatusProcessing.IsTerminal()).To(BeFalse())
	})
})

var _ = Describe("Generation", func() {
	It("exposes a fixed user error only for failed rows", func() {
		cat := errclass.NSFW
		msg := `flagged: <img src=x onerror=alert(1)>`
		g := &model.Generation{Status: model.GenerationStatusFailed, ErrorCategory: &cat, ErrorMessage: &msg}
		Expect(g.UserError()).To(Equal(errclass.NSFW.UserMessage()))

		g.Status = model.GenerationStatusCompleted
		Expect(g.UserError()).To(BeEmpty())
	})

	It("does not serialise internal provider fields", func() {
		job := "abc"
		msg := "secret upstream text"
		g := &model.Generation{ID: 42, ProviderJobID: &job, ErrorMessage: &msg, Params: json.RawMessage(`{}`)}
		b, err := json.Marshal(g)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(b)).To(ContainSubstring(`"id":"42"`))
		Expect(string(b)).NotTo(ContainSubstring("secret upstream text"))
		Expect(string(b)).NotTo(ContainSubstring("provider_meta"))
	})
})

var _ = Describe("Catalog", func() {
	It("lists every model with a valid provider and media type", func() {
		models := model.Catalog()
		Expect(models).NotTo(BeEmpty())
		for _, m := range models {
			Expect(m.Provider.Valid()).To(BeTrue(), m.Key)
			Expect(m.MediaType.Valid()).To(BeTrue(), m.Key)
			if len(m.DefaultParams) > 0 {
				Expect(json.Valid(m.DefaultParams)).To(BeTrue(), m.Key)
			}
		}
	})

	It("looks models up by key", func() {
		m, ok := model.LookupModel("veo-2")
		Expect(ok).To(BeTrue())
		Expect(m.Provider).To(Equal(model.ProviderGoogle))
		_, ok = model.LookupModel("dall-e-9")
		Expect(ok).To(BeFalse())
	})
})
