package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/medevac/medevac/internal/platform/apperr"
)

// Claims is the token shape issued by the hosted auth service. The role that
// matters for authorization lives in app_metadata, which end users cannot
// edit; the top-level role claim is honoured for self-issued tokens.
type Claims struct {
	jwt.RegisteredClaims
	Email       string      `json:"email"`
	Role        string      `json:"role,omitempty"`
	AppMetadata AppMetadata `json:"app_metadata"`
}

type AppMetadata struct {
	Role string `json:"role,omitempty"`
}

func (c *Claims) claimedRole() string {
	if c.AppMetadata.Role != "" {
		return c.AppMetadata.Role
	}
	return c.Role
}

type JWTConfig struct {
	Issuer   string
	Audience string
	// SigningKey verifies HS256 tokens (the auth service's shared JWT secret).
	SigningKey []byte
	// Keys verifies RS256 and ES256 tokens against a JWKS endpoint. Ignored
	// when SigningKey is set.
	Keys  *KeySet
	Roles *Roles
}

// JWTVerifier verifies self-contained tokens locally.
type JWTVerifier struct {
	cfg  JWTConfig
	opts []jwt.ParserOption
}

func NewJWTVerifier(cfg JWTConfig) *JWTVerifier {
	methods := []string{"RS256", "ES256"}
	if len(cfg.SigningKey) > 0 {
		methods = []string{"HS256"}
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &JWTVerifier{cfg: cfg, opts: opts}
}

func (v *JWTVerifier) Verify(ctx context.Context, credential string) (Principal, error) {
	if credential == "" {
		return Principal{}, apperr.Unauthenticated("missing bearer token")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(credential, claims, v.keyfunc(ctx), v.opts...)
	var upstream *apperr.Error
	if errors.As(err, &upstream) && upstream.Kind == apperr.KindUpstream {
		return Principal{}, upstream
	}
	if err != nil || !token.Valid {
		return Principal{}, apperr.Unauthenticated("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, apperr.Unauthenticated("token has no subject")
	}

	return Principal{
		ID:    claims.Subject,
		Email: claims.Email,
		Role:  v.cfg.Roles.Assign(claims.Email, claims.claimedRole()),
	}, nil
}

func (v *JWTVerifier) keyfunc(ctx context.Context) jwt.Keyfunc {
	if len(v.cfg.SigningKey) > 0 {
		return func(*jwt.Token) (interface{}, error) {
			return v.cfg.SigningKey, nil
		}
	}
	return v.cfg.Keys.Keyfunc(ctx)
}

// MintToken signs an HS256 token in the auth service's format. It backs the
// `token mint` command and tests.
func MintToken(secret []byte, issuer, subject, email string, role Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: email,
		Role:  "authenticated",
	}
	if role == RoleAdmin {
		claims.AppMetadata.Role = string(RoleAdmin)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
