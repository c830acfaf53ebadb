package access

import (
	"context"
	"errors"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medevac/medevac/internal/platform/apperr"
	"github.com/medevac/medevac/internal/platform/auth"
)

// Gate composes credential verification and tenant resolution into the
// middlewares that guard every tenant-scoped route.
type Gate struct {
	verifier auth.Verifier
	resolver Resolver
	logger   zerolog.Logger
	after    []echo.MiddlewareFunc
}

func NewGate(verifier auth.Verifier, resolver Resolver, logger zerolog.Logger) *Gate {
	return &Gate{verifier: verifier, resolver: resolver, logger: logger}
}

// Use registers middleware that runs after a request passes the gate, with
// the principal and tenant already attached (e.g. per-principal rate limits).
func (g *Gate) Use(mw ...echo.MiddlewareFunc) {
	g.after = append(g.after, mw...)
}

// Authenticate verifies an Authorization header value.
func (g *Gate) Authenticate(ctx context.Context, header string) (auth.Principal, error) {
	token, err := auth.BearerToken(header)
	if err != nil {
		return auth.Principal{}, err
	}
	return g.AuthenticateToken(ctx, token)
}

// AuthenticateToken verifies a raw bearer token.
func (g *Gate) AuthenticateToken(ctx context.Context, token string) (auth.Principal, error) {
	p, err := g.verifier.Verify(ctx, token)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return auth.Principal{}, ae
		}
		return auth.Principal{}, apperr.Unauthenticated("invalid credential")
	}
	if p.ID == "" {
		return auth.Principal{}, apperr.Unauthenticated("invalid credential")
	}
	return p, nil
}

// Authorize resolves the principal's tenant of the given kind and requires it
// to be active.
func (g *Gate) Authorize(ctx context.Context, p auth.Principal, kind TenantKind) (RequestContext, error) {
	t, err := g.resolver.Resolve(ctx, p.ID, kind)
	if err != nil {
		return RequestContext{}, apperr.Upstream(err)
	}
	if t == nil {
		return RequestContext{}, apperr.New(apperr.KindNoTenant, "no "+string(kind)+" registered for this account").
			WithDetail("tenant_kind", string(kind))
	}
	if t.Status != StatusActive {
		return RequestContext{}, notActive(kind, t.Status)
	}
	return RequestContext{
		Principal:    p,
		TenantID:     t.ID,
		TenantKind:   t.Kind,
		TenantStatus: t.Status,
	}, nil
}

// Owns reports whether p owns the active tenant of kind with the given room
// id. Used to authorize realtime room joins.
func (g *Gate) Owns(ctx context.Context, p auth.Principal, kind TenantKind, id string) (bool, error) {
	rc, err := g.Authorize(ctx, p, kind)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUpstream {
			return false, err
		}
		return false, nil
	}
	return rc.TenantID.String() == id, nil
}

// Authenticated requires a valid credential.
func (g *Gate) Authenticated() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		next = g.chain(next)
		return func(c echo.Context) error {
			p, err := g.authenticate(c)
			if err != nil {
				return err
			}
			g.attach(c, RequestContext{Principal: p})
			return next(c)
		}
	}
}

// ActiveTenant requires a valid credential and an active tenant of kind owned
// by the principal.
func (g *Gate) ActiveTenant(kind TenantKind) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		next = g.chain(next)
		return func(c echo.Context) error {
			p, err := g.authenticate(c)
			if err != nil {
				return err
			}
			rc, err := g.Authorize(c.Request().Context(), p, kind)
			if err != nil {
				g.logger.Debug().
					Str("principal_id", p.ID).
					Str("tenant_kind", string(kind)).
					Str("kind", string(apperr.KindOf(err))).
					Msg("tenant access denied")
				return err
			}
			g.attach(c, rc)
			return next(c)
		}
	}
}

// Admin requires a valid credential carrying the admin role.
func (g *Gate) Admin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		next = g.chain(next)
		return func(c echo.Context) error {
			p, err := g.authenticate(c)
			if err != nil {
				return err
			}
			if !p.IsAdmin() {
				return apperr.Forbidden("admin role required")
			}
			g.attach(c, RequestContext{Principal: p})
			return next(c)
		}
	}
}

func (g *Gate) chain(next echo.HandlerFunc) echo.HandlerFunc {
	for i := len(g.after) - 1; i >= 0; i-- {
		next = g.after[i](next)
	}
	return next
}

func (g *Gate) authenticate(c echo.Context) (auth.Principal, error) {
	return g.Authenticate(c.Request().Context(), c.Request().Header.Get(echo.HeaderAuthorization))
}

func (g *Gate) attach(c echo.Context, rc RequestContext) {
	ctx := WithRequestContext(c.Request().Context(), rc)
	c.SetRequest(c.Request().WithContext(ctx))
	c.Set("principal_id", rc.Principal.ID)
	if rc.TenantKind != "" {
		c.Set("tenant_id", rc.TenantID.String())
		c.Set("tenant_kind", string(rc.TenantKind))
	}
}
