package service_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"lumen.app/studio/core/config"
	"lumen.app/studio/internal/model"
	"lumen.app/studio/internal/provider"
	"lumen.app/studio/internal/service"
)

var _ = Describe("WebhookService", func() {
	const secret = "hook-secret"

	var (
		ctx      context.Context
		registry *provider.Registry
		updater  *mockJobUpdater
		svc      service.WebhookService
		fal      *mockWebhookProvider
	)

	BeforeEach(func() {
		ctx = context.Background()
		updater = &mockJobUpdater{}
		fal = &mockWebhookProvider{
			mockProvider: mockProvider{name: model.ProviderFal},
			parseFn: func(body []byte) (*provider.Job, error) {
				if string(body) == "not json" {
					return nil, errors.New("decoding fal webhook: invalid character")
				}
				return &provider.Job{ID: "req-1", State: provider.JobSucceeded}, nil
			},
		}
		registry = provider.NewRegistry()
		registry.Register(fal)
		registry.Register(&mockProvider{name: model.ProviderGoogle})
		svc = service.NewWebhookService(registry, updater, config.WebhookConfig{Secret: secret}, config.ReplicateConfig{})
	})

	request := func(p model.Provider, gid int64, body string) service.WebhookRequest {
		return service.WebhookRequest{
			Provider:     string(p),
			GenerationID: strconv.FormatInt(gid, 10),
			Token:        provider.CallbackToken(secret, p, gid),
			Header:       http.Header{},
			Body:         []byte(body),
		}
	}

	It("applies a verified callback", func() {
		updater.applyFn = func(_ context.Context, id int64, job *provider.Job) (*model.Generation, error) {
			Expect(id).To(Equal(int64(77)))
			Expect(job.ID).To(Equal("req-1"))
			return &model.Generation{ID: id, Status: model.GenerationStatusProcessing}, nil
		}
		Expect(svc.Handle(ctx, request(model.ProviderFal, 77, `{"status":"OK"}`))).To(Succeed())
		Expect(updater.calls).To(Equal(1))
	})

	It("rejects a token minted for another generation", func() {
		req := request(model.ProviderFal, 77, `{}`)
		req.Token = provider.CallbackToken(secret, model.ProviderFal, 78)
		Expect(svc.Handle(ctx, req)).To(MatchError(service.ErrUnauthorized))
		Expect(updater.calls).To(BeZero())
	})

	It("rejects a malformed generation id", func() {
		req := request(model.ProviderFal, 77, `{}`)
		req.GenerationID = "77 OR 1=1"
		Expect(svc.Handle(ctx, req)).To(MatchError(service.ErrUnauthorized))
	})

	It("returns not found for providers without callbacks", func() {
		Expect(svc.Handle(ctx, request(model.ProviderGoogle, 1, `{}`))).To(MatchError(service.ErrNotFound))
		Expect(svc.Handle(ctx, request("midjourney", 1, `{}`))).To(MatchError(service.ErrNotFound))
	})

	It("rejects unparseable bodies", func() {
		Expect(svc.Handle(ctx, request(model.ProviderFal, 5, "not json"))).To(MatchError(service.ErrValidation))
	})

	It("acks callbacks for deleted generations", func() {
		updater.applyFn = func(context.Context, int64, *provider.Job) (*model.Generation, error) {
			return nil, service.ErrNotFound
		}
		Expect(svc.Handle(ctx, request(model.ProviderFal, 5, `{}`))).To(Succeed())
	})

	Context("with a replicate signing secret", func() {
		var (
			replicate *mockWebhookProvider
			key       []byte
		)

		BeforeEach(func() {
			key = []byte("signing-key-bytes")
			replicate = &mockWebhookProvider{
				mockProvider: mockProvider{name: model.ProviderReplicate},
				parseFn: func([]byte) (*provider.Job, error) {
					return &provider.Job{ID: "pred-1", State: provider.JobRunning}, nil
				},
			}
			registry.Register(replicate)
			svc = service.NewWebhookService(registry, updater, config.WebhookConfig{Secret: secret},
				config.ReplicateConfig{WebhookSecret: "whsec_" + base64.StdEncoding.EncodeToString(key)})
		})

		sign := func(req *service.WebhookRequest) {
			ts := strconv.FormatInt(time.Now().Unix(), 10)
			mac := hmac.New(sha256.New, key)
			mac.Write([]byte("msg_1." + ts + "."))
			mac.Write(req.Body)
			req.Header.Set("webhook-id", "msg_1")
			req.Header.Set("webhook-timestamp", ts)
			req.Header.Set("webhook-signature", "v1,"+base64.StdEncoding.EncodeToString(mac.Sum(nil)))
		}

		It("accepts a signed callback", func() {
			req := request(model.ProviderReplicate, 9, `{"id":"pred-1"}`)
			sign(&req)
			Expect(svc.Handle(ctx, req)).To(Succeed())
		})

		It("rejects an unsigned callback even with a valid token", func() {
			req := request(model.ProviderReplicate, 9, `{"id":"pred-1"}`)
			Expect(svc.Handle(ctx, req)).To(MatchError(service.ErrUnauthorized))
			Expect(updater.calls).To(BeZero())
		})
	})
})
