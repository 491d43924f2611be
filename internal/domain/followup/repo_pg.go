package followup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nidaan/triage/internal/platform/db"
)

type planRepoPG struct{ pool *pgxpool.Pool }

// NewPlanRepoPG stores plans in followup_plans. The schedule, reminders and
// check-ins live in the body column as JSONB.
func NewPlanRepoPG(pool *pgxpool.Pool) PlanRepository { return &planRepoPG{pool: pool} }

func (r *planRepoPG) conn(ctx context.Context) db.Querier {
	return db.Pick(ctx, r.pool)
}

func scanPlan(row pgx.Row) (*Plan, error) {
	var body []byte
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var p Plan
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &p, nil
}

func (r *planRepoPG) Create(ctx context.Context, p *Plan) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO followup_plans (id, case_id, clinic_id, patient_ref, tier, visit_date, status, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7, $8, $9, $10)`,
		p.ID, p.CaseID, p.ClinicID, p.PatientRef, p.Tier.String(), p.VisitDate, p.Status, body, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *planRepoPG) GetByID(ctx context.Context, id string) (*Plan, error) {
	return scanPlan(r.conn(ctx).QueryRow(ctx, `SELECT body FROM followup_plans WHERE id = $1`, id))
}

func (r *planRepoPG) GetByCase(ctx context.Context, caseID string) (*Plan, error) {
	return scanPlan(r.conn(ctx).QueryRow(ctx, `SELECT body FROM followup_plans WHERE case_id = $1`, caseID))
}

func (r *planRepoPG) Update(ctx context.Context, p *Plan) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE followup_plans SET status = $2, body = $3, updated_at = $4
		WHERE id = $1`, p.ID, p.Status, body, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *planRepoPG) ListByClinic(ctx context.Context, clinicID string, limit, offset int) ([]*Plan, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM followup_plans WHERE clinic_id = $1`, clinicID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT body FROM followup_plans WHERE clinic_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, clinicID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *planRepoPG) ListDue(ctx context.Context, clinicID, date string) ([]Pending, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT p.id, p.case_id, p.patient_ref,
			(e->>'followup_number')::int, e->>'scheduled_date', e->>'type', e->>'priority', e->>'status'
		FROM followup_plans p, jsonb_array_elements(p.body->'schedule') e
		WHERE p.clinic_id = $1 AND e->>'status' = $2 AND e->>'scheduled_date' <= $3
		ORDER BY e->>'scheduled_date', p.created_at DESC`, clinicID, StatusScheduled, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Pending{}
	for rows.Next() {
		var pd Pending
		if err := rows.Scan(&pd.PlanID, &pd.CaseID, &pd.PatientRef,
			&pd.Sequence, &pd.Date, &pd.Type, &pd.Priority, &pd.Status); err != nil {
			return nil, err
		}
		out = append(out, pd)
	}
	return out, rows.Err()
}
