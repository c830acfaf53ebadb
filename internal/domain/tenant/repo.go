package tenant

import (
	"context"

	"github.com/google/uuid"

	"github.com/medevac/medevac/internal/platform/access"
)

type Repository interface {
	// Upsert inserts t, or updates the profile of the row with the same
	// (kind, owner) and moves it back to pending_approval. An active row is
	// left untouched and apperr.ErrConflict is returned. On success t holds
	// the stored row.
	Upsert(ctx context.Context, t *Tenant) error
	GetByID(ctx context.Context, kind access.TenantKind, id uuid.UUID) (*Tenant, error)
	GetByOwner(ctx context.Context, kind access.TenantKind, ownerID string) (*Tenant, error)
	// UpdateProfile rewrites the profile columns of one row.
	UpdateProfile(ctx context.Context, kind access.TenantKind, id uuid.UUID, p Profile) (*Tenant, error)
	// SetStatus applies tr only if the row's current status is one of
	// tr.From, returning apperr.ErrConflict otherwise.
	SetStatus(ctx context.Context, kind access.TenantKind, id uuid.UUID, tr Transition) (*Tenant, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Tenant, int, error)
	CountByStatus(ctx context.Context, kind access.TenantKind) (map[access.TenantStatus]int, error)
}
