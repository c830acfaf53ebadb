package evacuation

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

// column is the tenant column of evacuations and critical_cases for side.
func (s Side) column() string {
	if s.Kind == access.KindHospital {
		return "target_hospital_id"
	}
	return "origin_clinic_id"
}

func (s Side) bookingColumn() string {
	if s.Kind == access.KindHospital {
		return "hospital_id"
	}
	return "clinic_id"
}

// staleOnMiss turns a conditional update that matched nothing into a
// conflict; the caller has already seen the row under the same scope.
func staleOnMiss(err error) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.ErrConflict
	}
	return err
}

var evacuationCols = []string{
	"id", "patient_id", "origin_clinic_id", "target_hospital_id", "status", "priority", "reason",
	"notes", "decline_reason", "requested_by", "accepted_at", "arrived_at", "created_at", "updated_at",
}

const evacuationReturning = `RETURNING id, patient_id, origin_clinic_id, target_hospital_id, status, priority, reason,
	notes, decline_reason, requested_by, accepted_at, arrived_at, created_at, updated_at`

func scanEvacuation(row pgx.Row) (*Evacuation, error) {
	var e Evacuation
	err := row.Scan(&e.ID, &e.PatientID, &e.OriginClinicID, &e.TargetHospitalID, &e.Status, &e.Priority,
		&e.Reason, &e.Notes, &e.DeclineReason, &e.RequestedBy, &e.AcceptedAt, &e.ArrivedAt,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, db.Translate(err)
	}
	return &e, nil
}

func (r *repoPG) CreateEvacuation(ctx context.Context, e *Evacuation) error {
	e.ID = uuid.New()
	b := db.SQL.Insert("evacuations").
		Columns("id", "patient_id", "origin_clinic_id", "target_hospital_id", "status", "priority",
			"reason", "notes", "requested_by").
		Values(e.ID, e.PatientID, e.OriginClinicID, e.TargetHospitalID, e.Status, e.Priority,
			e.Reason, e.Notes, e.RequestedBy).
		Suffix(evacuationReturning)
	row, err := db.QueryRow(ctx, r.q, b)
	if err != nil {
		return err
	}
	stored, err := scanEvacuation(row)
	if err != nil {
		return err
	}
	*e = *stored
	return nil
}

func (r *repoPG) GetEvacuation(ctx context.Context, side Side, id uuid.UUID) (*Evacuation, error) {
	row, err := db.QueryRow(ctx, r.q, db.Scoped("evacuations", side.column(), side.TenantID, evacuationCols...).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	return scanEvacuation(row)
}

func (r *repoPG) ListEvacuations(ctx context.Context, side Side, f Filter, limit, offset int) ([]*Evacuation, int, error) {
	b := db.Scoped("evacuations", side.column(), side.TenantID, evacuationCols...)
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": f.Status})
	}
	if f.Priority != "" {
		b = b.Where(sq.Eq{"priority": f.Priority})
	}
	if f.PatientID != uuid.Nil {
		b = b.Where(sq.Eq{"patient_id": f.PatientID})
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

	var items []*Evacuation
	for rows.Next() {
		e, err := scanEvacuation(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *repoPG) UpdateEvacuation(ctx context.Context, side Side, e *Evacuation, from Status) error {
	b := db.ScopedUpdate("evacuations", side.column(), side.TenantID, e.ID).
		Where(sq.Eq{"status": from}).
		SetMap(map[string]interface{}{
			"target_hospital_id": e.TargetHospitalID,
			"status":             e.Status,
			"priority":           e.Priority,
			"notes":              e.Notes,
			"decline_reason":     e.DeclineReason,
			"accepted_at":        e.AcceptedAt,
			"arrived_at":         e.ArrivedAt,
			"updated_at":         sq.Expr("NOW()"),
		}).
		Suffix(evacuationReturning)
	row, err := db.QueryRow(ctx, r.q, b)
	if err != nil {
		return err
	}
	stored, err := scanEvacuation(row)
	if err != nil {
		return staleOnMiss(err)
	}
	*e = *stored
	return nil
}

func (r *repoPG) OpenForPatient(ctx context.Context, clinicID, patientID uuid.UUID) (bool, error) {
	b := db.Scoped("evacuations", "origin_clinic_id", clinicID, "id").
		Where(sq.Eq{
			"patient_id": patientID,
			"status":     []Status{StatusRequested, StatusAccepted, StatusDeclined, StatusInTransit},
		})
	n, err := db.Count(ctx, r.q, b)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var caseCols = []string{
	"id", "patient_id", "origin_clinic_id", "target_hospital_id", "severity", "summary", "status",
	"acknowledged_by", "acknowledged_at", "resolved_at", "created_at", "updated_at",
}

const caseReturning = `RETURNING id, patient_id, origin_clinic_id, target_hospital_id, severity, summary, status,
	acknowledged_by, acknowledged_at, resolved_at, created_at, updated_at`

func scanCase(row pgx.Row) (*CriticalCase, error) {
	var c CriticalCase
	err := row.Scan(&c.ID, &c.PatientID, &c.OriginClinicID, &c.TargetHospitalID, &c.Severity, &c.Summary,
		&c.Status, &c.AcknowledgedBy, &c.AcknowledgedAt, &c.ResolvedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, db.Translate(err)
	}
	return &c, nil
}

func (r *repoPG) CreateCase(ctx context.Context, c *CriticalCase) error {
	c.ID = uuid.New()
	b := db.SQL.Insert("critical_cases").
		Columns("id", "patient_id", "origin_clinic_id", "target_hospital_id", "severity", "summary", "status").
		Values(c.ID, c.PatientID, c.OriginClinicID, c.TargetHospitalID, c.Severity, c.Summary, c.Status).
		Suffix(caseReturning)
	row, err := db.QueryRow(ctx, r.q, b)
	if err != nil {
		return err
	}
	stored, err := scanCase(row)
	if err != nil {
		return err
	}
	*c = *stored
	return nil
}

func (r *repoPG) GetCase(ctx context.Context, side Side, id uuid.UUID) (*CriticalCase, error) {
	row, err := db.QueryRow(ctx, r.q, db.Scoped("critical_cases", side.column(), side.TenantID, caseCols...).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	return scanCase(row)
}

func (r *repoPG) ListCases(ctx context.Context, side Side, status CaseStatus, limit, offset int) ([]*CriticalCase, int, error) {
	b := db.Scoped("critical_cases", side.column(), side.TenantID, caseCols...)
	if status != "" {
		b = b.Where(sq.Eq{"status": status})
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

	var items []*CriticalCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *repoPG) UpdateCase(ctx context.Context, side Side, c *CriticalCase, from CaseStatus) error {
	b := db.ScopedUpdate("critical_cases", side.column(), side.TenantID, c.ID).
		Where(sq.Eq{"status": from}).
		SetMap(map[string]interface{}{
			"status":          c.Status,
			"acknowledged_by": c.AcknowledgedBy,
			"acknowledged_at": c.AcknowledgedAt,
			"resolved_at":     c.ResolvedAt,
			"updated_at":      sq.Expr("NOW()"),
		}).
		Suffix(caseReturning)
	row, err := db.QueryRow(ctx, r.q, b)
	if err != nil {
		return err
	}
	stored, err := scanCase(row)
	if err != nil {
		return staleOnMiss(err)
	}
	*c = *stored
	return nil
}

var bookingCols = []string{
	"id", "evacuation_id", "hospital_id", "clinic_id", "patient_id", "ward", "bed_label", "status",
	"created_at", "updated_at",
}

const bookingReturning = `RETURNING id, evacuation_id, hospital_id, clinic_id, patient_id, ward, bed_label, status,
	created_at, updated_at`

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(&b.ID, &b.EvacuationID, &b.HospitalID, &b.ClinicID, &b.PatientID, &b.Ward, &b.BedLabel,
		&b.Status, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, db.Translate(err)
	}
	return &b, nil
}

func (r *repoPG) CreateBooking(ctx context.Context, bk *Booking) error {
	bk.ID = uuid.New()
	b := db.SQL.Insert("bookings").
		Columns("id", "evacuation_id", "hospital_id", "clinic_id", "patient_id", "ward", "bed_label", "status").
		Values(bk.ID, bk.EvacuationID, bk.HospitalID, bk.ClinicID, bk.PatientID, bk.Ward, bk.BedLabel, bk.Status).
		Suffix(bookingReturning)
	row, err := db.QueryRow(ctx, r.q, b)
	if err != nil {
		return err
	}
	stored, err := scanBooking(row)
	if err != nil {
		return err
	}
	*bk = *stored
	return nil
}

func (r *repoPG) GetBooking(ctx context.Context, side Side, id uuid.UUID) (*Booking, error) {
	row, err := db.QueryRow(ctx, r.q, db.Scoped("bookings", side.bookingColumn(), side.TenantID, bookingCols...).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	return scanBooking(row)
}

func (r *repoPG) ListBookings(ctx context.Context, side Side, status BookingStatus, limit, offset int) ([]*Booking, int, error) {
	b := db.Scoped("bookings", side.bookingColumn(), side.TenantID, bookingCols...)
	if status != "" {
		b = b.Where(sq.Eq{"status": status})
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

	var items []*Booking
	for rows.Next() {
		bk, err := scanBooking(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, bk)
	}
	return items, total, rows.Err()
}

func (r *repoPG) UpdateBooking(ctx context.Context, side Side, bk *Booking, from BookingStatus) error {
	b := db.ScopedUpdate("bookings", side.bookingColumn(), side.TenantID, bk.ID).
		Where(sq.Eq{"status": from}).
		SetMap(map[string]interface{}{
			"ward":       bk.Ward,
			"bed_label":  bk.BedLabel,
			"status":     bk.Status,
			"updated_at": sq.Expr("NOW()"),
		}).
		Suffix(bookingReturning)
	row, err := db.QueryRow(ctx, r.q, b)
	if err != nil {
		return err
	}
	stored, err := scanBooking(row)
	if err != nil {
		return staleOnMiss(err)
	}
	*bk = *stored
	return nil
}

func (r *repoPG) ActiveBooking(ctx context.Context, hospitalID, evacuationID uuid.UUID) (bool, error) {
	b := db.Scoped("bookings", "hospital_id", hospitalID, "id").
		Where(sq.Eq{"evacuation_id": evacuationID, "status": []BookingStatus{BookingReserved, BookingOccupied}})
	n, err := db.Count(ctx, r.q, b)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *repoPG) countBy(ctx context.Context, table, column string, tenantID uuid.UUID, add func(status string, n int)) error {
	rows, err := db.Query(ctx, r.q, db.Scoped(table, column, tenantID, "status", "COUNT(*)").GroupBy("status"))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return err
		}
		add(status, n)
	}
	return rows.Err()
}

func (r *repoPG) Counts(ctx context.Context, side Side) (*Counts, error) {
	out := newCounts()
	if err := r.countBy(ctx, "evacuations", side.column(), side.TenantID, func(s string, n int) {
		out.Evacuations[Status(s)] = n
	}); err != nil {
		return nil, err
	}
	if err := r.countBy(ctx, "critical_cases", side.column(), side.TenantID, func(s string, n int) {
		out.CriticalCases[CaseStatus(s)] = n
	}); err != nil {
		return nil, err
	}
	if err := r.countBy(ctx, "bookings", side.bookingColumn(), side.TenantID, func(s string, n int) {
		out.Bookings[BookingStatus(s)] = n
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func newCounts() *Counts {
	return &Counts{
		Evacuations:   map[Status]int{},
		CriticalCases: map[CaseStatus]int{},
		Bookings:      map[BookingStatus]int{},
	}
}
