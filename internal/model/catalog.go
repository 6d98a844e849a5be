package model

import (
	"encoding/json"
	"sort"
)

// ModelSpec describes one generation model users may pick.
type ModelSpec struct {
	Key           string          `json:"key"`
	Name          string          `json:"name"`
	Provider      Provider        `json:"provider"`
	ProviderModel string          `json:"provider_model"`
	MediaType     MediaType       `json:"media_type"`
	DefaultParams json.RawMessage `json:"default_params,omitempty"`

	// Version pins a Replicate model version; empty means "latest".
	Version string `json:"-"`

	// SupportsWebhook is false for synchronous or poll-only upstream APIs.
	SupportsWebhook bool `json:"supports_webhook"`
}

var catalog = map[string]ModelSpec{
	"flux-schnell": {
		Key: "flux-schnell", Name: "FLUX.1 [schnell]",
		Provider: ProviderReplicate, ProviderModel: "black-forest-labs/flux-schnell",
		MediaType:       MediaTypeImage,
		DefaultParams:   json.RawMessage(`{"num_outputs":1,"aspect_ratio":"1:1","output_format":"webp"}`),
		SupportsWebhook: true,
	},
	"flux-dev": {
		Key: "flux-dev", Name: "FLUX.1 [dev]",
		Provider: ProviderReplicate, ProviderModel: "black-forest-labs/flux-dev",
		MediaType:       MediaTypeImage,
		DefaultParams:   json.RawMessage(`{"num_outputs":1,"guidance":3.5}`),
		SupportsWebhook: true,
	},
	"sdxl": {
		Key: "sdxl", Name: "Stable Diffusion XL",
		Provider: ProviderReplicate, ProviderModel: "stability-ai/sdxl",
		Version:         "7762fd07cf82c948538e41f63f77d685e02b063e37e496e96eefd46c929f9bdc",
		MediaType:       MediaTypeImage,
		DefaultParams:   json.RawMessage(`{"width":1024,"height":1024}`),
		SupportsWebhook: true,
	},
	"kling-v1.6": {
		Key: "kling-v1.6", Name: "Kling 1.6",
		Provider: ProviderReplicate, ProviderModel: "kwaivgi/kling-v1.6-standard",
		MediaType:       MediaTypeVideo,
		DefaultParams:   json.RawMessage(`{"duration":5}`),
		SupportsWebhook: true,
	},
	"flux-pro": {
		Key: "flux-pro", Name: "FLUX1.1 [pro]",
		Provider: ProviderFal, ProviderModel: "fal-ai/flux-pro/v1.1",
		MediaType:       MediaTypeImage,
		DefaultParams:   json.RawMessage(`{"num_images":1}`),
		SupportsWebhook: true,
	},
	"recraft-v3": {
		Key: "recraft-v3", Name: "Recraft V3",
		Provider: ProviderFal, ProviderModel: "fal-ai/recraft-v3",
		MediaType:       MediaTypeImage,
		SupportsWebhook: true,
	},
	"minimax-video": {
		Key: "minimax-video", Name: "MiniMax Video-01",
		Provider: ProviderFal, ProviderModel: "fal-ai/minimax/video-01",
		MediaType:       MediaTypeVideo,
		SupportsWebhook: true,
	},
	"gemini-image": {
		Key: "gemini-image", Name: "Gemini 2.0 Flash Image",
		Provider: ProviderGoogle, ProviderModel: "gemini-2.0-flash-preview-image-generation",
		MediaType: MediaTypeImage,
	},
	"veo-2": {
		Key: "veo-2", Name: "Veo 2",
		Provider: ProviderGoogle, ProviderModel: "veo-2.0-generate-001",
		MediaType:     MediaTypeVideo,
		DefaultParams: json.RawMessage(`{"aspectRatio":"16:9"}`),
	},
}

func LookupModel(key string) (ModelSpec, bool) {
	m, ok := catalog[key]
	return m, ok
}

// Catalog returns every model sorted by key.
func Catalog() []ModelSpec {
	out := make([]ModelSpec, 0, len(catalog))
	for _, m := range catalog {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
