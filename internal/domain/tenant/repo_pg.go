package tenant

import (
	"context"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/medevac/medevac/internal/platform/access"
	"github.com/medevac/medevac/internal/platform/apperr"
	"github.com/medevac/medevac/internal/platform/db"
)

type repoPG struct{ q db.Querier }

func NewRepoPG(q db.Querier) Repository { return &repoPG{q: q} }

const table = "tenants"

var cols = []string{
	"id", "kind", "owner_id", "status", "name", "email", "phone", "address", "region",
	"license_number", "contact_name", "bed_capacity", "rejection_reason", "reviewed_by",
	"reviewed_at", "created_at", "updated_at",
}

const returning = `RETURNING id, kind, owner_id, status, name, email, phone, address, region,
	license_number, contact_name, bed_capacity, rejection_reason, reviewed_by,
	reviewed_at, created_at, updated_at`

func scanTenant(row pgx.Row) (*Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.Kind, &t.OwnerID, &t.Status, &t.Name, &t.Email, &t.Phone, &t.Address,
		&t.Region, &t.LicenseNumber, &t.ContactName, &t.BedCapacity, &t.RejectionReason,
		&t.ReviewedBy, &t.ReviewedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, db.Translate(err)
	}
	return &t, nil
}

func (r *repoPG) Upsert(ctx context.Context, t *Tenant) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	b := db.SQL.Insert(table).
		Columns("id", "kind", "owner_id", "status", "name", "email", "phone", "address", "region",
			"license_number", "contact_name", "bed_capacity").
		Values(t.ID, t.Kind, t.OwnerID, access.StatusPendingApproval, t.Name, t.Email, t.Phone, t.Address,
			t.Region, t.LicenseNumber, t.ContactName, t.BedCapacity).
		Suffix(`ON CONFLICT (kind, owner_id) DO UPDATE SET
			name = EXCLUDED.name, email = EXCLUDED.email, phone = EXCLUDED.phone,
			address = EXCLUDED.address, region = EXCLUDED.region,
			license_number = EXCLUDED.license_number, contact_name = EXCLUDED.contact_name,
			bed_capacity = EXCLUDED.bed_capacity,
			status = 'pending_approval', rejection_reason = NULL,
			reviewed_by = NULL, reviewed_at = NULL, updated_at = NOW()
		WHERE tenants.status <> 'active' ` + returning)

	row, err := db.QueryRow(ctx, r.q, b)
	if err != nil {
		return err
	}
	stored, err := scanTenant(row)
	if errors.Is(err, apperr.ErrNotFound) {
		// the conflicting row is active, so the update was skipped
		return apperr.ErrConflict
	}
	if err != nil {
		return err
	}
	*t = *stored
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, kind access.TenantKind, id uuid.UUID) (*Tenant, error) {
	row, err := db.QueryRow(ctx, r.q, db.SQL.Select(cols...).From(table).Where(sq.Eq{"id": id, "kind": kind}))
	if err != nil {
		return nil, err
	}
	return scanTenant(row)
}

func (r *repoPG) GetByOwner(ctx context.Context, kind access.TenantKind, ownerID string) (*Tenant, error) {
	row, err := db.QueryRow(ctx, r.q, db.SQL.Select(cols...).From(table).Where(sq.Eq{"kind": kind, "owner_id": ownerID}))
	if err != nil {
		return nil, err
	}
	return scanTenant(row)
}

func (r *repoPG) UpdateProfile(ctx context.Context, kind access.TenantKind, id uuid.UUID, p Profile) (*Tenant, error) {
	b := db.SQL.Update(table).
		SetMap(map[string]interface{}{
			"name":           p.Name,
			"email":          p.Email,
			"phone":          p.Phone,
			"address":        p.Address,
			"region":         p.Region,
			"license_number": p.LicenseNumber,
			"contact_name":   p.ContactName,
			"bed_capacity":   p.BedCapacity,
			"updated_at":     sq.Expr("NOW()"),
		}).
		Where(sq.Eq{"id": id, "kind": kind}).
		Suffix(returning)
	row, err := db.QueryRow(ctx, r.q, b)
	if err != nil {
		return nil, err
	}
	return scanTenant(row)
}

func (r *repoPG) SetStatus(ctx context.Context, kind access.TenantKind, id uuid.UUID, tr Transition) (*Tenant, error) {
	b := db.SQL.Update(table).
		Set("status", tr.To).
		Set("rejection_reason", tr.Reason).
		Set("reviewed_by", tr.Reviewer).
		Set("reviewed_at", sq.Expr("NOW()")).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id, "kind": kind, "status": tr.From}).
		Suffix(returning)
	row, err := db.QueryRow(ctx, r.q, b)
	if err != nil {
		return nil, err
	}
	t, err := scanTenant(row)
	if errors.Is(err, apperr.ErrNotFound) {
		// distinguish a missing row from one in the wrong state
		if _, getErr := r.GetByID(ctx, kind, id); getErr != nil {
			return nil, getErr
		}
		return nil, apperr.ErrConflict
	}
	return t, err
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Tenant, int, error) {
	b := db.SQL.Select(cols...).From(table)
	if f.Kind != "" {
		b = b.Where(sq.Eq{"kind": f.Kind})
	}
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": f.Status})
	}
	if f.Region != "" {
		b = b.Where(sq.ILike{"region": f.Region})
	}

	total, err := db.Count(ctx, r.q, b)
	if err != nil {
		return nil, 0, err
	}
	rows, err := db.Query(ctx, r.q, b.OrderBy("created_at DESC", "id").Limit(uint64(limit)).Offset(uint64(offset)))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

func (r *repoPG) CountByStatus(ctx context.Context, kind access.TenantKind) (map[access.TenantStatus]int, error) {
	rows, err := db.Query(ctx, r.q, db.SQL.Select("status", "COUNT(*)").From(table).
		Where(sq.Eq{"kind": kind}).GroupBy("status"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[access.TenantStatus]int)
	for rows.Next() {
		var status access.TenantStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
