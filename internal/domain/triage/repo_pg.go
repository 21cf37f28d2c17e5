package triage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthcampaign/triage/internal/platform/db"
)

// ErrNotFound is returned when no triage record matches the lookup.
var ErrNotFound = errors.New("triage record not found")

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const recordCols = `id, patient_id, campaign_id, triaged_by,
	age, systolic_pressure, diastolic_pressure, total_cholesterol, hdl, weight_kg, height_cm,
	smoker, heavy_alcohol_use, diabetes, chest_pain, radiating_pain, sweating, nausea,
	prior_cardiac_history, notes,
	bmi, risk_factor_count, cardiovascular_risk_score, priority_level,
	created_at, updated_at`

// queueOrder mirrors SortByPriority.
const queueOrder = `CASE priority_level WHEN 'HIGH' THEN 3 WHEN 'MEDIUM' THEN 2 WHEN 'LOW' THEN 1 ELSE 0 END DESC,
	risk_factor_count DESC, created_at ASC`

func (r *repoPG) scan(row pgx.Row) (*Record, error) {
	var t Record
	err := row.Scan(&t.ID, &t.PatientID, &t.CampaignID, &t.TriagedBy,
		&t.Age, &t.SystolicPressure, &t.DiastolicPressure, &t.TotalCholesterol, &t.HDL, &t.WeightKg, &t.HeightCm,
		&t.Smoker, &t.HeavyAlcoholUse, &t.Diabetes, &t.ChestPain, &t.RadiatingPain, &t.Sweating, &t.Nausea,
		&t.PriorCardiacHistory, &t.Notes,
		&t.BMI, &t.RiskFactorCount, &t.CardiovascularRiskScore, &t.PriorityLevel,
		&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &t, err
}

func (r *repoPG) Create(ctx context.Context, t *Record) error {
	t.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO triage_record (id, patient_id, campaign_id, triaged_by,
			age, systolic_pressure, diastolic_pressure, total_cholesterol, hdl, weight_kg, height_cm,
			smoker, heavy_alcohol_use, diabetes, chest_pain, radiating_pain, sweating, nausea,
			prior_cardiac_history, notes,
			bmi, risk_factor_count, cardiovascular_risk_score, priority_level)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
		RETURNING created_at, updated_at`,
		t.ID, t.PatientID, t.CampaignID, t.TriagedBy,
		t.Age, t.SystolicPressure, t.DiastolicPressure, t.TotalCholesterol, t.HDL, t.WeightKg, t.HeightCm,
		t.Smoker, t.HeavyAlcoholUse, t.Diabetes, t.ChestPain, t.RadiatingPain, t.Sweating, t.Nausea,
		t.PriorCardiacHistory, t.Notes,
		t.BMI, t.RiskFactorCount, t.CardiovascularRiskScore, string(t.PriorityLevel),
	).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM triage_record WHERE id = $1`, id))
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM triage_record WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Record, int, error) {
	return r.Search(ctx, nil, limit, offset)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	return r.Search(ctx, map[string]string{"patient_id": patientID.String()}, limit, offset)
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Record, int, error) {
	where, args := searchClause(params)
	return r.page(ctx, where, `created_at DESC`, args, limit, offset)
}

func (r *repoPG) Queue(ctx context.Context, limit, offset int) ([]*Record, int, error) {
	return r.page(ctx, ` WHERE 1=1`, queueOrder, nil, limit, offset)
}

// searchClause builds the WHERE clause for the supported search parameters.
// Unknown keys are ignored.
func searchClause(params map[string]string) (string, []interface{}) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	for _, col := range []string{"patient_id", "campaign_id", "priority_level"} {
		p, ok := params[col]
		if !ok {
			continue
		}
		where += fmt.Sprintf(` AND %s = $%d`, col, idx)
		args = append(args, p)
		idx++
	}
	return where, args
}

func (r *repoPG) page(ctx context.Context, where, order string, args []interface{}, limit, offset int) ([]*Record, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM triage_record`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	idx := len(args) + 1
	query := `SELECT ` + recordCols + ` FROM triage_record` + where +
		fmt.Sprintf(` ORDER BY %s LIMIT $%d OFFSET $%d`, order, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Record
	for rows.Next() {
		t, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}
