package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lumen.app/studio/internal/model"
)

var (
	ErrInvalidToken     = errors.New("invalid webhook token")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrStaleWebhook     = errors.New("webhook timestamp outside tolerance")
)

// SignatureTolerance bounds clock skew for signed provider webhooks.
const SignatureTolerance = 5 * time.Minute

// CallbackToken authenticates a callback URL for one generation of one provider.
func CallbackToken(secret string, provider model.Provider, generationID int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s:%d", provider, generationID)
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifyCallbackToken(secret string, provider model.Provider, generationID int64, token string) error {
	if secret == "" || token == "" {
		return ErrInvalidToken
	}
	expected := CallbackToken(secret, provider, generationID)
	if !hmac.Equal([]byte(expected), []byte(token)) {
		return ErrInvalidToken
	}
	return nil
}

// CallbackURL is the webhook address handed to the provider on submit.
func CallbackURL(baseURL, secret string, provider model.Provider, generationID int64) string {
	q := url.Values{}
	q.Set("gid", strconv.FormatInt(generationID, 10))
	q.Set("token", CallbackToken(secret, provider, generationID))
	return fmt.Sprintf("%s/api/webhooks/%s?%s", strings.TrimRight(baseURL, "/"), provider, q.Encode())
}

// VerifyReplicateSignature checks Replicate's Standard Webhooks signature:
// base64(HMAC-SHA256(key, "{webhook-id}.{webhook-timestamp}.{body}")), where key is the
// base64 payload after "whsec_". The header may carry several space separated "v1,<sig>" values.
func VerifyReplicateSignature(secret string, header http.Header, body []byte, now time.Time) error {
	msgID := header.Get("webhook-id")
	ts := header.Get("webhook-timestamp")
	sigs := header.Get("webhook-signature")
	if msgID == "" || ts == "" || sigs == "" {
		return ErrInvalidSignature
	}

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if d := now.Sub(time.Unix(sec, 0)); d > SignatureTolerance || d < -SignatureTolerance {
		return ErrStaleWebhook
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil {
		return fmt.Errorf("decoding webhook secret: %w", err)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msgID + "." + ts + "."))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	for _, candidate := range strings.Fields(sigs) {
		version, sig, ok := strings.Cut(candidate, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}
