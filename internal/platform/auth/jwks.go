package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"

	"github.com/medevac/medevac/internal/platform/apperr"
)

// JWKSKey represents a single JSON Web Key from a JWKS endpoint. RSA keys carry
// n and e, EC keys carry crv, x and y.
type JWKSKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// JWKSResponse represents the response from a JWKS endpoint.
type JWKSResponse struct {
	Keys []JWKSKey `json:"keys"`
}

const (
	defaultJWKSCacheTTL = 5 * time.Minute
	// minJWKSRefresh bounds how often unknown key ids may refetch the set.
	minJWKSRefresh      = 30 * time.Second
)

// KeySet caches RSA and EC public keys fetched from a JWKS endpoint. Unknown
// key ids trigger a refetch so key rotation is picked up without a restart,
// at most once per minRefresh.
type KeySet struct {
	url        string
	ttl        time.Duration
	minRefresh time.Duration
	client     *resty.Client
	keys       *cache.Cache
	now        func() time.Time

	mu        sync.Mutex
	fetchedAt time.Time
	fetchErr  error
}

func NewKeySet(jwksURL string, ttl time.Duration) *KeySet {
	if ttl <= 0 {
		ttl = defaultJWKSCacheTTL
	}
	return &KeySet{
		url:        jwksURL,
		ttl:        ttl,
		minRefresh: minJWKSRefresh,
		client:     resty.New().SetTimeout(10 * time.Second),
		keys:       cache.New(ttl, 2*ttl),
		now:        time.Now,
	}
}

// Key returns the public key for kid, fetching the key set on a miss. A failed
// fetch is an upstream failure, not a rejected credential.
func (k *KeySet) Key(ctx context.Context, kid string) (interface{}, error) {
	if v, ok := k.keys.Get(kid); ok {
		return v, nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	// another goroutine may have refreshed while we waited
	if v, ok := k.keys.Get(kid); ok {
		return v, nil
	}
	if k.fetchedAt.IsZero() || k.now().Sub(k.fetchedAt) >= k.minRefresh {
		k.fetchedAt = k.now()
		k.fetchErr = k.fetch(ctx)
		if v, ok := k.keys.Get(kid); ok {
			return v, nil
		}
	}
	if k.fetchErr != nil {
		return nil, apperr.Upstream(fmt.Errorf("fetching JWKS: %w", k.fetchErr))
	}
	return nil, fmt.Errorf("key with kid %q not found in JWKS", kid)
}

// Keyfunc adapts the key set for jwt.Parse.
func (k *KeySet) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return k.Key(ctx, kid)
	}
}

func (k *KeySet) fetch(ctx context.Context) error {
	var jwks JWKSResponse
	resp, err := k.client.R().
		SetContext(ctx).
		SetResult(&jwks).
		Get(k.url)
	if err != nil {
		return fmt.Errorf("GET %s: %w", k.url, err)
	}
	if resp.IsError() {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode())
	}

	for _, key := range jwks.Keys {
		var (
			pub interface{}
			err error
		)
		switch key.Kty {
		case "RSA":
			pub, err = parseRSAPublicKey(key)
		case "EC":
			pub, err = parseECPublicKey(key)
		default:
			continue
		}
		if err != nil {
			continue
		}
		k.keys.Set(key.Kid, pub, k.ttl)
	}
	return nil
}

func parseRSAPublicKey(k JWKSKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

func parseECPublicKey(k JWKSKey) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch k.Crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported curve %q", k.Crv)
	}
	xBytes, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, fmt.Errorf("decoding x: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(k.Y)
	if err != nil {
		return nil, fmt.Errorf("decoding y: %w", err)
	}
	pub := &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}
	if !curve.IsOnCurve(pub.X, pub.Y) {
		return nil, fmt.Errorf("point is not on %s", k.Crv)
	}
	return pub, nil
}

// oidcDiscovery is the subset of the discovery document we need.
type oidcDiscovery struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// DiscoverJWKSURL reads the issuer's OpenID discovery document and returns
// its jwks_uri.
func DiscoverJWKSURL(ctx context.Context, issuer string) (string, error) {
	var doc oidcDiscovery
	resp, err := resty.New().SetTimeout(10*time.Second).R().
		SetContext(ctx).
		SetResult(&doc).
		Get(strings.TrimRight(issuer, "/") + "/.well-known/openid-configuration")
	if err != nil {
		return "", fmt.Errorf("fetching OIDC discovery document: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("OIDC discovery endpoint returned status %d", resp.StatusCode())
	}
	if doc.JWKSURI == "" {
		return "", fmt.Errorf("OIDC discovery document missing jwks_uri")
	}
	return doc.JWKSURI, nil
}
