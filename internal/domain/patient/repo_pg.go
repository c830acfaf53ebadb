package patient

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/medevac/medevac/internal/platform/apperr"
	"github.com/medevac/medevac/internal/platform/db"
)

type repoPG struct{ q db.Querier }

func NewRepoPG(q db.Querier) Repository { return &repoPG{q: q} }

var patientCols = []string{
	"id", "clinic_id", "full_name", "date_of_birth", "sex", "condition", "notes", "status",
	"risk_score", "risk_level", "created_at", "updated_at",
}

const patientReturning = `RETURNING id, clinic_id, full_name, date_of_birth, sex, condition, notes, status,
	risk_score, risk_level, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.ClinicID, &p.FullName, &p.DateOfBirth, &p.Sex, &p.Condition, &p.Notes,
		&p.Status, &p.RiskScore, &p.RiskLevel, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, db.Translate(err)
	}
	return &p, nil
}

var vitalsCols = []string{
	"id", "patient_id", "clinic_id", "heart_rate", "systolic_bp", "respiratory_rate", "spo2",
	"temperature", "consciousness", "on_oxygen", "news_score", "recorded_by", "recorded_at",
}

func scanVitals(row pgx.Row) (*VitalsLog, error) {
	var v VitalsLog
	err := row.Scan(&v.ID, &v.PatientID, &v.ClinicID, &v.HeartRate, &v.SystolicBP, &v.RespiratoryRate,
		&v.SpO2, &v.Temperature, &v.Consciousness, &v.OnOxygen, &v.NEWSScore, &v.RecordedBy, &v.RecordedAt)
	if err != nil {
		return nil, db.Translate(err)
	}
	return &v, nil
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	b := db.SQL.Insert("patients").
		Columns("id", "clinic_id", "full_name", "date_of_birth", "sex", "condition", "notes", "status",
			"risk_score", "risk_level").
		Values(p.ID, p.ClinicID, p.FullName, p.DateOfBirth, p.Sex, p.Condition, p.Notes, p.Status,
			p.RiskScore, p.RiskLevel).
		Suffix(patientReturning)
	row, err := db.QueryRow(ctx, r.q, b)
	if err != nil {
		return err
	}
	stored, err := scanPatient(row)
	if err != nil {
		return err
	}
	*p = *stored
	return nil
}

func (r *repoPG) Get(ctx context.Context, clinicID, id uuid.UUID) (*Patient, error) {
	row, err := db.QueryRow(ctx, r.q, db.Scoped("patients", "clinic_id", clinicID, patientCols...).Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	return scanPatient(row)
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	b := db.ScopedUpdate("patients", "clinic_id", p.ClinicID, p.ID).
		SetMap(map[string]interface{}{
			"full_name":     p.FullName,
			"date_of_birth": p.DateOfBirth,
			"sex":           p.Sex,
			"condition":     p.Condition,
			"notes":         p.Notes,
			"status":        p.Status,
			"risk_score":    p.RiskScore,
			"risk_level":    p.RiskLevel,
			"updated_at":    sq.Expr("NOW()"),
		}).
		Suffix(patientReturning)
	row, err := db.QueryRow(ctx, r.q, b)
	if err != nil {
		return err
	}
	stored, err := scanPatient(row)
	if err != nil {
		return err
	}
	*p = *stored
	return nil
}

func (r *repoPG) SetStatus(ctx context.Context, clinicID, id uuid.UUID, status Status) error {
	n, err := db.Exec(ctx, r.q, db.ScopedUpdate("patients", "clinic_id", clinicID, id).
		Set("status", status).
		Set("updated_at", sq.Expr("NOW()")))
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, clinicID uuid.UUID, f Filter, limit, offset int) ([]*Patient, int, error) {
	b := db.Scoped("patients", "clinic_id", clinicID, patientCols...)
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": f.Status})
	}
	if f.RiskLevel != "" {
		b = b.Where(sq.Eq{"risk_level": f.RiskLevel})
	}
	if f.Search != "" {
		b = b.Where(sq.ILike{"full_name": "%" + f.Search + "%"})
	}

	total, err := db.Count(ctx, r.q, b)
	if err != nil {
		return nil, 0, err
	}
	rows, err := db.Query(ctx, r.q, b.OrderBy("risk_score DESC", "created_at DESC", "id").
		Limit(uint64(limit)).Offset(uint64(offset)))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *repoPG) Counts(ctx context.Context, clinicID uuid.UUID) (*Counts, error) {
	rows, err := db.Query(ctx, r.q, db.Scoped("patients", "clinic_id", clinicID, "status", "risk_level", "COUNT(*)").
		GroupBy("status", "risk_level"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := &Counts{ByStatus: map[Status]int{}, ByRisk: map[RiskLevel]int{}}
	for rows.Next() {
		var status Status
		var level RiskLevel
		var n int
		if err := rows.Scan(&status, &level, &n); err != nil {
			return nil, err
		}
		out.Total += n
		out.ByStatus[status] += n
		out.ByRisk[level] += n
	}
	return out, rows.Err()
}

func (r *repoPG) ClinicOf(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	row, err := db.QueryRow(ctx, r.q, db.SQL.Select("clinic_id").From("patients").Where(sq.Eq{"id": id}))
	if err != nil {
		return uuid.Nil, err
	}
	var clinicID uuid.UUID
	if err := row.Scan(&clinicID); err != nil {
		return uuid.Nil, db.Translate(err)
	}
	return clinicID, nil
}

// AddVitals inserts the observation and updates the patient's risk in one
// statement, so neither happens without the other.
func (r *repoPG) AddVitals(ctx context.Context, v *VitalsLog, risk int, level RiskLevel) error {
	v.ID = uuid.New()
	row := r.q.QueryRow(ctx, `
		WITH p AS (
			UPDATE patients SET risk_score = $12::int, risk_level = $13::varchar, updated_at = NOW()
			WHERE id = $2 AND clinic_id = $3
			RETURNING id
		)
		INSERT INTO vitals_logs (id, patient_id, clinic_id, heart_rate, systolic_bp, respiratory_rate,
			spo2, temperature, consciousness, on_oxygen, news_score, recorded_by)
		SELECT $1::uuid, p.id, $3::uuid, $4::int, $5::int, $6::int, $7::int, $8::numeric,
			$9::varchar, $10::boolean, $11::int, $14::varchar FROM p
		RETURNING recorded_at`,
		v.ID, v.PatientID, v.ClinicID, v.HeartRate, v.SystolicBP, v.RespiratoryRate,
		v.SpO2, v.Temperature, v.Consciousness, v.OnOxygen, v.NEWSScore, risk, level, v.RecordedBy)
	return db.Translate(row.Scan(&v.RecordedAt))
}

func (r *repoPG) ListVitals(ctx context.Context, clinicID, patientID uuid.UUID, limit, offset int) ([]*VitalsLog, int, error) {
	b := db.Scoped("vitals_logs", "clinic_id", clinicID, vitalsCols...).Where(sq.Eq{"patient_id": patientID})
	total, err := db.Count(ctx, r.q, b)
	if err != nil {
		return nil, 0, err
	}
	rows, err := db.Query(ctx, r.q, b.OrderBy("recorded_at DESC", "id").Limit(uint64(limit)).Offset(uint64(offset)))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*VitalsLog
	for rows.Next() {
		v, err := scanVitals(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, v)
	}
	return items, total, rows.Err()
}
