package patient

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

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

func (r *repoMem) Create(_ context.Context, p *Patient) error {
	txn := r.store.Txn(true)
	defer txn.Abort()

	row := *p
	row.ID = uuid.New()
	row.CreatedAt = r.now().UTC()
	row.UpdatedAt = row.CreatedAt
	if err := txn.Insert(memstore.TablePatients, &row); err != nil {
		return err
	}
	txn.Commit()
	*p = row
	return nil
}

// owned returns the stored row only if it belongs to clinicID.
func owned(obj interface{}, clinicID uuid.UUID) (*Patient, error) {
	if obj == nil {
		return nil, apperr.ErrNotFound
	}
	p := obj.(*Patient)
	if p.ClinicID != clinicID {
		return nil, apperr.ErrNotFound
	}
	return p, nil
}

func (r *repoMem) Get(_ context.Context, clinicID, id uuid.UUID) (*Patient, error) {
	txn := r.store.Txn(false)
	defer txn.Abort()

	obj, err := memstore.First(txn, memstore.TablePatients, memstore.IndexID, id)
	if err != nil {
		return nil, err
	}
	p, err := owned(obj, clinicID)
	if err != nil {
		return nil, err
	}
	cp := *p
	return &cp, nil
}

func (r *repoMem) mutate(clinicID, id uuid.UUID, fn func(*Patient)) (*Patient, error) {
	txn := r.store.Txn(true)
	defer txn.Abort()

	obj, err := memstore.First(txn, memstore.TablePatients, memstore.IndexID, id)
	if err != nil {
		return nil, err
	}
	p, err := owned(obj, clinicID)
	if err != nil {
		return nil, err
	}
	row := *p
	fn(&row)
	row.UpdatedAt = r.now().UTC()
	if err := txn.Insert(memstore.TablePatients, &row); err != nil {
		return nil, err
	}
	txn.Commit()
	return &row, nil
}

func (r *repoMem) Update(_ context.Context, p *Patient) error {
	stored, err := r.mutate(p.ClinicID, p.ID, func(row *Patient) {
		created := row.CreatedAt
		*row = *p
		row.CreatedAt = created
	})
	if err != nil {
		return err
	}
	*p = *stored
	return nil
}

func (r *repoMem) SetStatus(_ context.Context, clinicID, id uuid.UUID, status Status) error {
	_, err := r.mutate(clinicID, id, func(row *Patient) { row.Status = status })
	return err
}

func (r *repoMem) byClinic(clinicID uuid.UUID, keep func(*Patient) bool) ([]*Patient, error) {
	txn := r.store.Txn(false)
	defer txn.Abort()

	objs, err := memstore.All(txn, memstore.TablePatients, "clinic_id", func(obj interface{}) bool {
		return keep == nil || keep(obj.(*Patient))
	}, clinicID)
	if err != nil {
		return nil, err
	}
	items := make([]*Patient, 0, len(objs))
	for _, obj := range objs {
		cp := *obj.(*Patient)
		items = append(items, &cp)
	}
	return items, nil
}

func (r *repoMem) List(_ context.Context, clinicID uuid.UUID, f Filter, limit, offset int) ([]*Patient, int, error) {
	search := strings.ToLower(f.Search)
	items, err := r.byClinic(clinicID, func(p *Patient) bool {
		if f.Status != "" && p.Status != f.Status {
			return false
		}
		if f.RiskLevel != "" && p.RiskLevel != f.RiskLevel {
			return false
		}
		return search == "" || strings.Contains(strings.ToLower(p.FullName), search)
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.RiskScore != b.RiskScore {
			return a.RiskScore > b.RiskScore
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return memstore.Page(items, limit, offset), len(items), nil
}

func (r *repoMem) Counts(_ context.Context, clinicID uuid.UUID) (*Counts, error) {
	items, err := r.byClinic(clinicID, nil)
	if err != nil {
		return nil, err
	}
	out := &Counts{ByStatus: map[Status]int{}, ByRisk: map[RiskLevel]int{}}
	for _, p := range items {
		out.Total++
		out.ByStatus[p.Status]++
		out.ByRisk[p.RiskLevel]++
	}
	return out, nil
}

func (r *repoMem) ClinicOf(_ context.Context, id uuid.UUID) (uuid.UUID, error) {
	txn := r.store.Txn(false)
	defer txn.Abort()

	obj, err := memstore.First(txn, memstore.TablePatients, memstore.IndexID, id)
	if err != nil {
		return uuid.Nil, err
	}
	if obj == nil {
		return uuid.Nil, apperr.ErrNotFound
	}
	return obj.(*Patient).ClinicID, nil
}

func (r *repoMem) AddVitals(_ context.Context, v *VitalsLog, risk int, level RiskLevel) error {
	txn := r.store.Txn(true)
	defer txn.Abort()

	obj, err := memstore.First(txn, memstore.TablePatients, memstore.IndexID, v.PatientID)
	if err != nil {
		return err
	}
	p, err := owned(obj, v.ClinicID)
	if err != nil {
		return err
	}
	now := r.now().UTC()

	row := *p
	row.RiskScore = risk
	row.RiskLevel = level
	row.UpdatedAt = now
	if err := txn.Insert(memstore.TablePatients, &row); err != nil {
		return err
	}

	log := *v
	log.ID = uuid.New()
	log.RecordedAt = now
	if err := txn.Insert(memstore.TableVitals, &log); err != nil {
		return err
	}
	txn.Commit()
	*v = log
	return nil
}

func (r *repoMem) ListVitals(_ context.Context, clinicID, patientID uuid.UUID, limit, offset int) ([]*VitalsLog, int, error) {
	txn := r.store.Txn(false)
	defer txn.Abort()

	objs, err := memstore.All(txn, memstore.TableVitals, "patient_id", func(obj interface{}) bool {
		return obj.(*VitalsLog).ClinicID == clinicID
	}, patientID)
	if err != nil {
		return nil, 0, err
	}
	items := make([]*VitalsLog, 0, len(objs))
	for _, obj := range objs {
		cp := *obj.(*VitalsLog)
		items = append(items, &cp)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].RecordedAt.Equal(items[j].RecordedAt) {
			return items[i].RecordedAt.After(items[j].RecordedAt)
		}
		return items[i].ID.String() < items[j].ID.String()
	})
	return memstore.Page(items, limit, offset), len(items), nil
}
