package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nidaan/triage/internal/platform/db"
)

// scanBody decodes a JSONB body column into dst.
func scanBody(row pgx.Row, dst interface{}) error {
	var body []byte
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

type caseRepoPG struct {
	pool *pgxpool.Pool
	tx   db.Transactor
}

// NewCaseRepoPG stores cases in the cases table. Queryable fields are
// columns; the full record is kept in body.
func NewCaseRepoPG(pool *pgxpool.Pool) CaseRepository {
	return &caseRepoPG{pool: pool, tx: db.NewTransactor(pool)}
}

func (r *caseRepoPG) conn(ctx context.Context) db.Querier {
	return db.Pick(ctx, r.pool)
}

func (r *caseRepoPG) Create(ctx context.Context, c *Case) error {
	body, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO cases (id, clinic_id, patient_ref, status, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.ClinicID, c.PatientRef, c.Status, body, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *caseRepoPG) GetByID(ctx context.Context, id string) (*Case, error) {
	var c Case
	if err := scanBody(r.conn(ctx).QueryRow(ctx, `SELECT body FROM cases WHERE id = $1`, id), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Mutate locks the row for the rest of the transaction in ctx, or of its own
// transaction when ctx carries none.
func (r *caseRepoPG) Mutate(ctx context.Context, id string, fn MutateCaseFunc) (*Case, error) {
	var out *Case
	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		var c Case
		if err := scanBody(r.conn(ctx).QueryRow(ctx, `SELECT body FROM cases WHERE id = $1 FOR UPDATE`, id), &c); err != nil {
			return err
		}
		if err := fn(&c); err != nil {
			return err
		}
		body, err := json.Marshal(&c)
		if err != nil {
			return err
		}
		if _, err := r.conn(ctx).Exec(ctx, `
			UPDATE cases SET status = $2, body = $3, updated_at = $4 WHERE id = $1`,
			c.ID, c.Status, body, c.UpdatedAt); err != nil {
			return err
		}
		out = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *caseRepoPG) ListByClinic(ctx context.Context, clinicID, status string, limit, offset int) ([]*Case, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM cases WHERE clinic_id = $1 AND ($2 = '' OR status = $2)`,
		clinicID, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT body FROM cases WHERE clinic_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC LIMIT $3 OFFSET $4`, clinicID, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Case
	for rows.Next() {
		var c Case
		if err := scanBody(rows, &c); err != nil {
			return nil, 0, err
		}
		items = append(items, &c)
	}
	return items, total, rows.Err()
}

type runRepoPG struct{ pool *pgxpool.Pool }

// NewRunRepoPG stores workflow runs in workflow_runs.
func NewRunRepoPG(pool *pgxpool.Pool) RunRepository { return &runRepoPG{pool: pool} }

func (r *runRepoPG) conn(ctx context.Context) db.Querier {
	return db.Pick(ctx, r.pool)
}

func (r *runRepoPG) Create(ctx context.Context, run *WorkflowRun) error {
	body, err := json.Marshal(run)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO workflow_runs (id, case_id, clinic_id, final_status, body, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.CaseID, run.ClinicID, run.FinalStatus, body, run.StartedAt)
	return err
}

func (r *runRepoPG) GetByID(ctx context.Context, id string) (*WorkflowRun, error) {
	var run WorkflowRun
	if err := scanBody(r.conn(ctx).QueryRow(ctx, `SELECT body FROM workflow_runs WHERE id = $1`, id), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *runRepoPG) list(ctx context.Context, sql string, args ...any) ([]*WorkflowRun, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*WorkflowRun{}
	for rows.Next() {
		var run WorkflowRun
		if err := scanBody(rows, &run); err != nil {
			return nil, err
		}
		out = append(out, &run)
	}
	return out, rows.Err()
}

func (r *runRepoPG) ListByClinic(ctx context.Context, clinicID string, limit, offset int) ([]*WorkflowRun, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM workflow_runs WHERE clinic_id = $1`, clinicID).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.list(ctx, `
		SELECT body FROM workflow_runs WHERE clinic_id = $1
		ORDER BY started_at DESC LIMIT $2 OFFSET $3`, clinicID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *runRepoPG) ListByCase(ctx context.Context, caseID string) ([]*WorkflowRun, error) {
	return r.list(ctx, `SELECT body FROM workflow_runs WHERE case_id = $1 ORDER BY started_at`, caseID)
}

func (r *runRepoPG) CountByStatus(ctx context.Context, clinicID string) (map[string]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT final_status, COUNT(*) FROM workflow_runs WHERE clinic_id = $1 GROUP BY final_status`, clinicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{RunInProgress: 0, RunCompleted: 0, RunError: 0}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
