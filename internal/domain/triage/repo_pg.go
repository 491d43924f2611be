package triage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nidaan/triage/internal/domain/rules"
	"github.com/nidaan/triage/internal/platform/db"
)

type queuePG struct {
	pool *pgxpool.Pool
	tx   db.Transactor
}

// NewQueuePG returns a Queue backed by the triage_queue table. Entries are
// ordered by care level, then by an insertion sequence.
func NewQueuePG(pool *pgxpool.Pool) Queue {
	return &queuePG{pool: pool, tx: db.NewTransactor(pool)}
}

func (r *queuePG) conn(ctx context.Context) db.Querier {
	return db.Pick(ctx, r.pool)
}

const queueCols = `case_id, clinic_id, care_level, department, enqueued_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e    Entry
		dept string
	)
	if err := row.Scan(&e.CaseID, &e.ClinicID, &e.CareLevel, &dept, &e.EnqueuedAt); err != nil {
		return Entry{}, err
	}
	e.Department = rules.Department(dept)
	return e, nil
}

func (r *queuePG) Insert(ctx context.Context, e Entry) (int, error) {
	var pos int
	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "triage:"+e.ClinicID); err != nil {
			return fmt.Errorf("lock queue: %w", err)
		}
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO triage_queue (case_id, clinic_id, care_level, department)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (case_id) DO UPDATE SET care_level = EXCLUDED.care_level,
				department = EXCLUDED.department, seq = nextval('triage_queue_seq_seq'), enqueued_at = NOW()`,
			e.CaseID, e.ClinicID, e.CareLevel, string(e.Department))
		if err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}
		return r.conn(ctx).QueryRow(ctx, `
			SELECT COUNT(*) FROM triage_queue
			WHERE clinic_id = $1 AND care_level <= $2`,
			e.ClinicID, e.CareLevel).Scan(&pos)
	})
	if err != nil {
		return 0, err
	}
	return pos, nil
}

func (r *queuePG) Snapshot(ctx context.Context, clinicID string) ([]Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+queueCols+` FROM triage_queue
		WHERE clinic_id = $1 ORDER BY care_level, seq`, clinicID)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *queuePG) Remove(ctx context.Context, caseID string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM triage_queue WHERE case_id = $1`, caseID)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
