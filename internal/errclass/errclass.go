// Package errclass buckets free-form upstream error messages into a small set
// of categories used for retry decisions, user-facing messages and stats.
package errclass

import "strings"

type Category string

const (
	NSFW                Category = "nsfw"
	Auth                Category = "auth"
	Quota               Category = "quota"
	RateLimit           Category = "rate_limit"
	Timeout             Category = "timeout"
	Cancelled           Category = "cancelled"
	InvalidInput        Category = "invalid_input"
	ProviderUnavailable Category = "provider_unavailable"
	Network             Category = "network"
	Unknown             Category = "unknown"
)

type rule struct {
	category Category
	needles  []string
}

// Order matters: a moderation message that also mentions "400" must stay nsfw.
var rules = []rule{
	{NSFW, []string{"nsfw", "safety", "content policy", "flagged", "sensitive", "inappropriate"}},
	{Auth, []string{"unauthorized", "401", "403", "invalid api key", "authentication", "forbidden", "permission"}},
	{Quota, []string{"insufficient", "quota", "billing", "payment required", "402", "credit"}},
	{RateLimit, []string{"rate limit", "429", "too many requests", "throttl"}},
	{Timeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{Cancelled, []string{"cancel"}},
	{InvalidInput, []string{"invalid", "validation", "422", "bad request", "400", "unprocessable"}},
	{ProviderUnavailable, []string{"503", "502", "500", "unavailable", "overloaded", "internal server error", "bad gateway"}},
	{Network, []string{"connection refused", "connection reset", "no such host", "eof", "broken pipe"}},
}

// Classify returns the first category whose needle occurs in msg, case-insensitively.
func Classify(msg string) Category {
	m := strings.ToLower(strings.TrimSpace(msg))
	if m == "" {
		return Unknown
	}
	for _, r := range rules {
		for _, n := range r.needles {
			if strings.Contains(m, n) {
				return r.category
			}
		}
	}
	return Unknown
}

// ClassifyError is Classify over err.Error(); nil is Unknown.
func ClassifyError(err error) Category {
	if err == nil {
		return Unknown
	}
	return Classify(err.Error())
}

// Retryable reports whether a fresh attempt can reasonably succeed without user action.
func (c Category) Retryable() bool {
	switch c {
	case Timeout, RateLimit, ProviderUnavailable, Network:
		return true
	default:
		return false
	}
}

// UserMessage is a fixed, human readable message. It never includes upstream text.
func (c Category) UserMessage() string {
	switch c {
	case NSFW:
		return "The request was blocked by the provider's content safety filter."
	case Auth:
		return "The generation provider rejected our credentials. Please try again later."
	case Quota:
		return "The generation provider quota is exhausted. Please try again later."
	case RateLimit:
		return "The generation provider is rate limiting requests. Please retry shortly."
	case Timeout:
		return "The generation took too long and timed out."
	case Cancelled:
		return "The generation was cancelled."
	case InvalidInput:
		return "The provider rejected the request parameters."
	case ProviderUnavailable:
		return "The generation provider is temporarily unavailable."
	case Network:
		return "We could not reach the generation provider."
	default:
		return "The generation failed for an unknown reason."
	}
}

func (c Category) Valid() bool {
	switch c {
	case NSFW, Auth, Quota, RateLimit, Timeout, Cancelled, InvalidInput, ProviderUnavailable, Network, Unknown:
		return true
	}
	return false
}

// All lists categories in classification order, Unknown last.
func All() []Category {
	out := make([]Category, 0, len(rules)+1)
	for _, r := range rules {
		out = append(out, r.category)
	}
	return append(out, Unknown)
}
