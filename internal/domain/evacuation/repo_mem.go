package evacuation

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"

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

func (s Side) index() string {
	if s.Kind == access.KindHospital {
		return "target_hospital_id"
	}
	return "origin_clinic_id"
}

func (s Side) bookingIndex() string {
	if s.Kind == access.KindHospital {
		return "hospital_id"
	}
	return "clinic_id"
}

func (s Side) ownsTransfer(clinicID, hospitalID uuid.UUID) bool {
	if s.Kind == access.KindHospital {
		return hospitalID == s.TenantID
	}
	return clinicID == s.TenantID
}

// lookup returns the row with id if side owns it.
func lookup(txn *memdb.Txn, table string, id uuid.UUID, owned func(interface{}) bool) (interface{}, error) {
	obj, err := memstore.First(txn, table, memstore.IndexID, id)
	if err != nil {
		return nil, err
	}
	if obj == nil || !owned(obj) {
		return nil, apperr.ErrNotFound
	}
	return obj, nil
}

func newestFirst(a, b time.Time, aID, bID uuid.UUID) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return aID.String() < bID.String()
}

func (r *repoMem) insert(table string, row interface{}) error {
	txn := r.store.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(table, row); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (r *repoMem) CreateEvacuation(_ context.Context, e *Evacuation) error {
	row := *e
	row.ID = uuid.New()
	row.CreatedAt = r.now().UTC()
	row.UpdatedAt = row.CreatedAt
	if err := r.insert(memstore.TableEvacuations, &row); err != nil {
		return err
	}
	*e = row
	return nil
}

func evacuationOwned(side Side) func(interface{}) bool {
	return func(obj interface{}) bool {
		e := obj.(*Evacuation)
		return side.ownsTransfer(e.OriginClinicID, e.TargetHospitalID)
	}
}

func (r *repoMem) GetEvacuation(_ context.Context, side Side, id uuid.UUID) (*Evacuation, error) {
	txn := r.store.Txn(false)
	defer txn.Abort()

	obj, err := lookup(txn, memstore.TableEvacuations, id, evacuationOwned(side))
	if err != nil {
		return nil, err
	}
	cp := *obj.(*Evacuation)
	return &cp, nil
}

func (r *repoMem) evacuations(side Side, keep func(*Evacuation) bool) ([]*Evacuation, error) {
	txn := r.store.Txn(false)
	defer txn.Abort()

	objs, err := memstore.All(txn, memstore.TableEvacuations, side.index(), func(obj interface{}) bool {
		return keep == nil || keep(obj.(*Evacuation))
	}, side.TenantID)
	if err != nil {
		return nil, err
	}
	items := make([]*Evacuation, 0, len(objs))
	for _, obj := range objs {
		cp := *obj.(*Evacuation)
		items = append(items, &cp)
	}
	return items, nil
}

func (r *repoMem) ListEvacuations(_ context.Context, side Side, f Filter, limit, offset int) ([]*Evacuation, int, error) {
	items, err := r.evacuations(side, func(e *Evacuation) bool {
		if f.Status != "" && e.Status != f.Status {
			return false
		}
		if f.Priority != "" && e.Priority != f.Priority {
			return false
		}
		return f.PatientID == uuid.Nil || e.PatientID == f.PatientID
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(items, func(i, j int) bool {
		return newestFirst(items[i].CreatedAt, items[j].CreatedAt, items[i].ID, items[j].ID)
	})
	return memstore.Page(items, limit, offset), len(items), nil
}

func (r *repoMem) UpdateEvacuation(_ context.Context, side Side, e *Evacuation, from Status) error {
	txn := r.store.Txn(true)
	defer txn.Abort()

	obj, err := lookup(txn, memstore.TableEvacuations, e.ID, evacuationOwned(side))
	if err != nil {
		return err
	}
	current := obj.(*Evacuation)
	if current.Status != from {
		return apperr.ErrConflict
	}

	row := *current
	row.TargetHospitalID = e.TargetHospitalID
	row.Status = e.Status
	row.Priority = e.Priority
	row.Notes = e.Notes
	row.DeclineReason = e.DeclineReason
	row.AcceptedAt = e.AcceptedAt
	row.ArrivedAt = e.ArrivedAt
	row.UpdatedAt = r.now().UTC()
	if err := txn.Insert(memstore.TableEvacuations, &row); err != nil {
		return err
	}
	txn.Commit()
	*e = row
	return nil
}

func (r *repoMem) OpenForPatient(_ context.Context, clinicID, patientID uuid.UUID) (bool, error) {
	items, err := r.evacuations(ClinicSide(clinicID), func(e *Evacuation) bool {
		return e.PatientID == patientID && e.Status.Open()
	})
	if err != nil {
		return false, err
	}
	return len(items) > 0, nil
}

func (r *repoMem) CreateCase(_ context.Context, c *CriticalCase) error {
	row := *c
	row.ID = uuid.New()
	row.CreatedAt = r.now().UTC()
	row.UpdatedAt = row.CreatedAt
	if err := r.insert(memstore.TableCriticalCases, &row); err != nil {
		return err
	}
	*c = row
	return nil
}

func caseOwned(side Side) func(interface{}) bool {
	return func(obj interface{}) bool {
		c := obj.(*CriticalCase)
		return side.ownsTransfer(c.OriginClinicID, c.TargetHospitalID)
	}
}

func (r *repoMem) GetCase(_ context.Context, side Side, id uuid.UUID) (*CriticalCase, error) {
	txn := r.store.Txn(false)
	defer txn.Abort()

	obj, err := lookup(txn, memstore.TableCriticalCases, id, caseOwned(side))
	if err != nil {
		return nil, err
	}
	cp := *obj.(*CriticalCase)
	return &cp, nil
}

func (r *repoMem) cases(side Side, status CaseStatus) ([]*CriticalCase, error) {
	txn := r.store.Txn(false)
	defer txn.Abort()

	objs, err := memstore.All(txn, memstore.TableCriticalCases, side.index(), func(obj interface{}) bool {
		return status == "" || obj.(*CriticalCase).Status == status
	}, side.TenantID)
	if err != nil {
		return nil, err
	}
	items := make([]*CriticalCase, 0, len(objs))
	for _, obj := range objs {
		cp := *obj.(*CriticalCase)
		items = append(items, &cp)
	}
	return items, nil
}

func (r *repoMem) ListCases(_ context.Context, side Side, status CaseStatus, limit, offset int) ([]*CriticalCase, int, error) {
	items, err := r.cases(side, status)
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(items, func(i, j int) bool {
		return newestFirst(items[i].CreatedAt, items[j].CreatedAt, items[i].ID, items[j].ID)
	})
	return memstore.Page(items, limit, offset), len(items), nil
}

func (r *repoMem) UpdateCase(_ context.Context, side Side, c *CriticalCase, from CaseStatus) error {
	txn := r.store.Txn(true)
	defer txn.Abort()

	obj, err := lookup(txn, memstore.TableCriticalCases, c.ID, caseOwned(side))
	if err != nil {
		return err
	}
	current := obj.(*CriticalCase)
	if current.Status != from {
		return apperr.ErrConflict
	}

	row := *current
	row.Status = c.Status
	row.AcknowledgedBy = c.AcknowledgedBy
	row.AcknowledgedAt = c.AcknowledgedAt
	row.ResolvedAt = c.ResolvedAt
	row.UpdatedAt = r.now().UTC()
	if err := txn.Insert(memstore.TableCriticalCases, &row); err != nil {
		return err
	}
	txn.Commit()
	*c = row
	return nil
}

func (r *repoMem) CreateBooking(_ context.Context, b *Booking) error {
	row := *b
	row.ID = uuid.New()
	row.CreatedAt = r.now().UTC()
	row.UpdatedAt = row.CreatedAt
	if err := r.insert(memstore.TableBookings, &row); err != nil {
		return err
	}
	*b = row
	return nil
}

func bookingOwned(side Side) func(interface{}) bool {
	return func(obj interface{}) bool {
		b := obj.(*Booking)
		return side.ownsTransfer(b.ClinicID, b.HospitalID)
	}
}

func (r *repoMem) GetBooking(_ context.Context, side Side, id uuid.UUID) (*Booking, error) {
	txn := r.store.Txn(false)
	defer txn.Abort()

	obj, err := lookup(txn, memstore.TableBookings, id, bookingOwned(side))
	if err != nil {
		return nil, err
	}
	cp := *obj.(*Booking)
	return &cp, nil
}

func (r *repoMem) bookings(side Side, keep func(*Booking) bool) ([]*Booking, error) {
	txn := r.store.Txn(false)
	defer txn.Abort()

	objs, err := memstore.All(txn, memstore.TableBookings, side.bookingIndex(), func(obj interface{}) bool {
		return keep == nil || keep(obj.(*Booking))
	}, side.TenantID)
	if err != nil {
		return nil, err
	}
	items := make([]*Booking, 0, len(objs))
	for _, obj := range objs {
		cp := *obj.(*Booking)
		items = append(items, &cp)
	}
	return items, nil
}

func (r *repoMem) ListBookings(_ context.Context, side Side, status BookingStatus, limit, offset int) ([]*Booking, int, error) {
	items, err := r.bookings(side, func(b *Booking) bool {
		return status == "" || b.Status == status
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(items, func(i, j int) bool {
		return newestFirst(items[i].CreatedAt, items[j].CreatedAt, items[i].ID, items[j].ID)
	})
	return memstore.Page(items, limit, offset), len(items), nil
}

func (r *repoMem) UpdateBooking(_ context.Context, side Side, b *Booking, from BookingStatus) error {
	txn := r.store.Txn(true)
	defer txn.Abort()

	obj, err := lookup(txn, memstore.TableBookings, b.ID, bookingOwned(side))
	if err != nil {
		return err
	}
	current := obj.(*Booking)
	if current.Status != from {
		return apperr.ErrConflict
	}

	row := *current
	row.Ward = b.Ward
	row.BedLabel = b.BedLabel
	row.Status = b.Status
	row.UpdatedAt = r.now().UTC()
	if err := txn.Insert(memstore.TableBookings, &row); err != nil {
		return err
	}
	txn.Commit()
	*b = row
	return nil
}

func (r *repoMem) ActiveBooking(_ context.Context, hospitalID, evacuationID uuid.UUID) (bool, error) {
	items, err := r.bookings(HospitalSide(hospitalID), func(b *Booking) bool {
		return b.EvacuationID == evacuationID && (b.Status == BookingReserved || b.Status == BookingOccupied)
	})
	if err != nil {
		return false, err
	}
	return len(items) > 0, nil
}

func (r *repoMem) Counts(_ context.Context, side Side) (*Counts, error) {
	out := newCounts()

	evacs, err := r.evacuations(side, nil)
	if err != nil {
		return nil, err
	}
	for _, e := range evacs {
		out.Evacuations[e.Status]++
	}
	cases, err := r.cases(side, "")
	if err != nil {
		return nil, err
	}
	for _, c := range cases {
		out.CriticalCases[c.Status]++
	}
	bookings, err := r.bookings(side, nil)
	if err != nil {
		return nil, err
	}
	for _, b := range bookings {
		out.Bookings[b.Status]++
	}
	return out, nil
}
