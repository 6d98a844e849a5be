package example

type GenerationStatus string

const (
	GenerationStatusPending   GenerationStatus = "pending"
	GenerationStatusCompleted GenerationStatus = "completed"
)

type Provider string

const (
	ProviderReplicate Provider = "replicate"
)

type MediaType string

const (
	MediaTypeImage MediaType = "image"
)

type Generation struct {
	Status    GenerationStatus
	Provider  Provider
	MediaType MediaType
	Prompt    string
}

func bad() {
	g := &Generation{}
	g.Status = "running" // want "enum field Status assigned string literal"

	_ = Generation{
		Provider:  "fal", // want "enum field Provider set to string literal"
		MediaType: MediaTypeImage,
	}
}

func good() {
	g := &Generation{}
	g.Status = GenerationStatusCompleted
	g.Provider = ProviderReplicate
	g.Prompt = "a red fox" // OK: not an enum

	status := GenerationStatusPending
	_ = Generation{Status: status, Prompt: "snow"}
}
