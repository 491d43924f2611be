package visitdoc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nidaan/triage/internal/platform/db"
)

type visitRepoPG struct {
	pool *pgxpool.Pool
	tx   db.Transactor
}

// NewVisitRepoPG stores visits in the visits table. Mutate locks the row for
// the duration of the change.
func NewVisitRepoPG(pool *pgxpool.Pool) VisitRepository {
	return &visitRepoPG{pool: pool, tx: db.NewTransactor(pool)}
}

func (r *visitRepoPG) conn(ctx context.Context) db.Querier {
	return db.Pick(ctx, r.pool)
}

func scanVisit(row pgx.Row) (*Visit, error) {
	var body []byte
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var v Visit
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decode visit: %w", err)
	}
	return &v, nil
}

func (r *visitRepoPG) Create(ctx context.Context, v *Visit) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO visits (id, clinic_id, patient_ref, status, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.ID, v.ClinicID, v.PatientRef, string(v.Status), body, v.CreatedAt, v.UpdatedAt)
	return err
}

func (r *visitRepoPG) GetByID(ctx context.Context, id string) (*Visit, error) {
	return scanVisit(r.conn(ctx).QueryRow(ctx, `SELECT body FROM visits WHERE id = $1`, id))
}

func (r *visitRepoPG) ListByClinic(ctx context.Context, clinicID string, limit, offset int) ([]*Visit, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM visits WHERE clinic_id = $1`, clinicID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT body FROM visits WHERE clinic_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, clinicID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, v)
	}
	return items, total, rows.Err()
}

func (r *visitRepoPG) Mutate(ctx context.Context, id string, fn MutateFunc) (*Visit, error) {
	var out *Visit
	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		v, err := scanVisit(r.conn(ctx).QueryRow(ctx, `SELECT body FROM visits WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
		body, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := r.conn(ctx).Exec(ctx, `
			UPDATE visits SET status = $2, body = $3, updated_at = $4 WHERE id = $1`,
			id, string(v.Status), body, v.UpdatedAt); err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
