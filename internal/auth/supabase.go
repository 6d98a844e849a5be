package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid access token")

// Identity is the caller resolved from a verified access token.
type Identity struct {
	UserID uuid.UUID
	Email  string
	Role   string
}

// TokenVerifier resolves a bearer token to an Identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

type supabaseClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// SupabaseVerifier checks HS256 access tokens signed with the project's JWT secret.
type SupabaseVerifier struct {
	secret   []byte
	audience string
}

func NewSupabaseVerifier(secret, audience string) *SupabaseVerifier {
	return &SupabaseVerifier{secret: []byte(secret), audience: audience}
}

func (v *SupabaseVerifier) Verify(_ context.Context, tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: token is empty", ErrInvalidToken)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &supabaseClaims{}, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*supabaseClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid claims", ErrInvalidToken)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: subject is not a uuid", ErrInvalidToken)
	}

	return &Identity{UserID: userID, Email: claims.Email, Role: claims.Role}, nil
}
