package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/medevac/medevac/internal/platform/apperr"
)

type RemoteConfig struct {
	// BaseURL of the hosted auth service, e.g. https://xyz.example.co
	BaseURL string
	// APIKey is the service's public anon key, sent as the apikey header.
	APIKey  string
	Timeout time.Duration
	Roles   *Roles
}

// RemoteVerifier asks the hosted auth service who the bearer is. It is the
// fallback for deployments that cannot share the JWT secret.
type RemoteVerifier struct {
	client *resty.Client
	roles  *Roles
}

func NewRemoteVerifier(cfg RemoteConfig) *RemoteVerifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("apikey", cfg.APIKey)
	}
	return &RemoteVerifier{client: client, roles: cfg.Roles}
}

func (v *RemoteVerifier) Verify(ctx context.Context, credential string) (Principal, error) {
	if credential == "" {
		return Principal{}, apperr.Unauthenticated("missing bearer token")
	}

	resp, err := v.client.R().
		SetContext(ctx).
		SetAuthToken(credential).
		Get("/auth/v1/user")
	if err != nil {
		return Principal{}, apperr.Upstream(fmt.Errorf("auth service: %w", err))
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return Principal{}, apperr.Unauthenticated("credential rejected by auth service")
	case resp.IsError():
		return Principal{}, apperr.Upstream(fmt.Errorf("auth service returned status %d", code))
	}

	body := resp.Body()
	id := gjson.GetBytes(body, "id").String()
	if id == "" {
		return Principal{}, apperr.Unauthenticated("auth service returned no user")
	}
	email := gjson.GetBytes(body, "email").String()
	role := gjson.GetBytes(body, "app_metadata.role").String()

	return Principal{ID: id, Email: email, Role: v.roles.Assign(email, role)}, nil
}
