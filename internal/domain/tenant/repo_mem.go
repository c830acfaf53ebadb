package tenant

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medevac/medevac/internal/platform/access"
	"github.com/medevac/medevac/internal/platform/apperr"
	"github.com/medevac/medevac/internal/platform/memstore"
)

type repoMem struct {
	store *memstore.Store
	now   func() time.Time
}

func NewRepoMem(store *memstore.Store) Repository {
	return &repoMem{store: store, now: time.Now}
}

func (r *repoMem) Upsert(_ context.Context, t *Tenant) error {
	txn := r.store.Txn(true)
	defer txn.Abort()

	obj, err := memstore.First(txn, memstore.TableTenants, "owner", string(t.Kind), t.OwnerID)
	if err != nil {
		return err
	}
	now := r.now().UTC()

	var row Tenant
	if obj == nil {
		row = *t
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
		row.CreatedAt = now
	} else {
		existing := obj.(*Tenant)
		if existing.Status == access.StatusActive {
			return apperr.ErrConflict
		}
		row = *existing
		Profile{
			Name: t.Name, Email: t.Email, Phone: t.Phone, Address: t.Address, Region: t.Region,
			LicenseNumber: t.LicenseNumber, ContactName: t.ContactName, BedCapacity: t.BedCapacity,
		}.apply(&row)
	}
	row.Status = access.StatusPendingApproval
	row.RejectionReason = nil
	row.ReviewedBy = nil
	row.ReviewedAt = nil
	row.UpdatedAt = now

	if err := txn.Insert(memstore.TableTenants, &row); err != nil {
		return err
	}
	txn.Commit()
	*t = row
	return nil
}

func (r *repoMem) get(kind access.TenantKind, id uuid.UUID) (*Tenant, error) {
	txn := r.store.Txn(false)
	defer txn.Abort()

	obj, err := memstore.First(txn, memstore.TableTenants, memstore.IndexID, id)
	if err != nil {
		return nil, err
	}
	if obj == nil || obj.(*Tenant).Kind != kind {
		return nil, apperr.ErrNotFound
	}
	cp := *obj.(*Tenant)
	return &cp, nil
}

func (r *repoMem) GetByID(_ context.Context, kind access.TenantKind, id uuid.UUID) (*Tenant, error) {
	return r.get(kind, id)
}

func (r *repoMem) GetByOwner(_ context.Context, kind access.TenantKind, ownerID string) (*Tenant, error) {
	txn := r.store.Txn(false)
	defer txn.Abort()

	obj, err := memstore.First(txn, memstore.TableTenants, "owner", string(kind), ownerID)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, apperr.ErrNotFound
	}
	cp := *obj.(*Tenant)
	return &cp, nil
}

func (r *repoMem) update(kind access.TenantKind, id uuid.UUID, mutate func(*Tenant) error) (*Tenant, error) {
	txn := r.store.Txn(true)
	defer txn.Abort()

	obj, err := memstore.First(txn, memstore.TableTenants, memstore.IndexID, id)
	if err != nil {
		return nil, err
	}
	if obj == nil || obj.(*Tenant).Kind != kind {
		return nil, apperr.ErrNotFound
	}
	row := *obj.(*Tenant)
	if err := mutate(&row); err != nil {
		return nil, err
	}
	row.UpdatedAt = r.now().UTC()
	if err := txn.Insert(memstore.TableTenants, &row); err != nil {
		return nil, err
	}
	txn.Commit()
	cp := row
	return &cp, nil
}

func (r *repoMem) UpdateProfile(_ context.Context, kind access.TenantKind, id uuid.UUID, p Profile) (*Tenant, error) {
	return r.update(kind, id, func(t *Tenant) error {
		p.apply(t)
		return nil
	})
}

func (r *repoMem) SetStatus(_ context.Context, kind access.TenantKind, id uuid.UUID, tr Transition) (*Tenant, error) {
	return r.update(kind, id, func(t *Tenant) error {
		allowed := false
		for _, s := range tr.From {
			if t.Status == s {
				allowed = true
			}
		}
		if !allowed {
			return apperr.ErrConflict
		}
		now := r.now().UTC()
		reviewer := tr.Reviewer
		t.Status = tr.To
		t.RejectionReason = tr.Reason
		t.ReviewedBy = &reviewer
		t.ReviewedAt = &now
		return nil
	})
}

func (r *repoMem) scan(f Filter) ([]*Tenant, error) {
	txn := r.store.Txn(false)
	defer txn.Abort()

	keep := func(obj interface{}) bool {
		t := obj.(*Tenant)
		if f.Kind != "" && t.Kind != f.Kind {
			return false
		}
		if f.Status != "" && t.Status != f.Status {
			return false
		}
		return f.Region == "" || strings.EqualFold(t.Region, f.Region)
	}
	var objs []interface{}
	var err error
	if f.Kind != "" {
		objs, err = memstore.All(txn, memstore.TableTenants, "kind", keep, string(f.Kind))
	} else {
		objs, err = memstore.Scan(txn, memstore.TableTenants, keep)
	}
	if err != nil {
		return nil, err
	}

	items := make([]*Tenant, 0, len(objs))
	for _, obj := range objs {
		cp := *obj.(*Tenant)
		items = append(items, &cp)
	}
	return items, nil
}

func (r *repoMem) List(_ context.Context, f Filter, limit, offset int) ([]*Tenant, int, error) {
	items, err := r.scan(f)
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID.String() < items[j].ID.String()
	})
	return memstore.Page(items, limit, offset), len(items), nil
}

func (r *repoMem) CountByStatus(_ context.Context, kind access.TenantKind) (map[access.TenantStatus]int, error) {
	items, err := r.scan(Filter{Kind: kind})
	if err != nil {
		return nil, err
	}
	out := make(map[access.TenantStatus]int)
	for _, t := range items {
		out[t.Status]++
	}
	return out, nil
}
