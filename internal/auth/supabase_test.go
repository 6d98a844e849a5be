package auth_test

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"lumen.app/studio/internal/auth"
)

const secret = "super-secret-jwt-token-with-at-least-32-characters"

func sign(method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	Expect(err).NotTo(HaveOccurred())
	return token
}

var _ = Describe("SupabaseVerifier", func() {
	var (
		verifier *auth.SupabaseVerifier
		userID   uuid.UUID
		ctx      context.Context
	)

	BeforeEach(func() {
		verifier = auth.NewSupabaseVerifier(secret, "authenticated")
		userID = uuid.New()
		ctx = context.Background()
	})

	validClaims := func() jwt.MapClaims {
		return jwt.MapClaims{
			"sub":   userID.String(),
			"aud":   "authenticated",
			"exp":   time.Now().Add(time.Hour).Unix(),
			"email": "ada@example.com",
			"role":  "authenticated",
		}
	}

	It("accepts a valid token", func() {
		identity, err := verifier.Verify(ctx, sign(jwt.SigningMethodHS256, []byte(secret), validClaims()))
		Expect(err).NotTo(HaveOccurred())
		Expect(identity.UserID).To(Equal(userID))
		Expect(identity.Email).To(Equal("ada@example.com"))
	})

	It("rejects an empty token", func() {
		_, err := verifier.Verify(ctx, "")
		Expect(err).To(MatchError(auth.ErrInvalidToken))
	})

	It("rejects a token signed with another secret", func() {
		token := sign(jwt.SigningMethodHS256, []byte("another-secret-another-secret-another"), validClaims())
		_, err := verifier.Verify(ctx, token)
		Expect(err).To(MatchError(auth.ErrInvalidToken))
	})

	It("rejects an expired token", func() {
		claims := validClaims()
		claims["exp"] = time.Now().Add(-time.Minute).Unix()
		_, err := verifier.Verify(ctx, sign(jwt.SigningMethodHS256, []byte(secret), claims))
		Expect(err).To(MatchError(auth.ErrInvalidToken))
	})

	It("rejects a token without expiry", func() {
		claims := validClaims()
		delete(claims, "exp")
		_, err := verifier.Verify(ctx, sign(jwt.SigningMethodHS256, []byte(secret), claims))
		Expect(err).To(MatchError(auth.ErrInvalidToken))
	})

	It("rejects the wrong audience", func() {
		claims := validClaims()
		claims["aud"] = "anon"
		_, err := verifier.Verify(ctx, sign(jwt.SigningMethodHS256, []byte(secret), claims))
		Expect(err).To(MatchError(auth.ErrInvalidToken))
	})

	It("rejects a non-uuid subject", func() {
		claims := validClaims()
		claims["sub"] = "1 OR 1=1"
		_, err := verifier.Verify(ctx, sign(jwt.SigningMethodHS256, []byte(secret), claims))
		Expect(err).To(MatchError(auth.ErrInvalidToken))
	})

	It("rejects the none algorithm", func() {
		token := sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, validClaims())
		_, err := verifier.Verify(ctx, token)
		Expect(err).To(MatchError(auth.ErrInvalidToken))
	})
})
