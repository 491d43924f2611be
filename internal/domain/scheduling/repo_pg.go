package scheduling

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nidaan/triage/internal/platform/db"
)

type ledgerPG struct {
	pool *pgxpool.Pool
	tx   db.Transactor
}

// NewLedgerPG returns a Ledger backed by the slot_reservations table.
// Reservations for one date are serialised with a transaction-scoped
// advisory lock keyed on the date.
func NewLedgerPG(pool *pgxpool.Pool) Ledger {
	return &ledgerPG{pool: pool, tx: db.NewTransactor(pool)}
}

func (r *ledgerPG) conn(ctx context.Context) db.Querier {
	return db.Pick(ctx, r.pool)
}

func (r *ledgerPG) Reserve(ctx context.Context, date, caseID string, choose Chooser) (string, error) {
	var slot string
	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "slot:"+date); err != nil {
			return fmt.Errorf("lock date %s: %w", date, err)
		}
		taken, err := r.Taken(ctx, date)
		if err != nil {
			return err
		}
		slot, err = choose(taken)
		if err != nil {
			return err
		}
		_, err = r.conn(ctx).Exec(ctx, `
			INSERT INTO slot_reservations (id, slot_date, slot_time, case_id)
			VALUES ($1, $2::date, $3, $4)`,
			uuid.New(), date, slot, caseID)
		if err != nil {
			return fmt.Errorf("record slot: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return slot, nil
}

func (r *ledgerPG) Taken(ctx context.Context, date string) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT slot_time FROM slot_reservations
		WHERE slot_date = $1::date ORDER BY created_at`, date)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()
	taken := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		taken = append(taken, s)
	}
	return taken, rows.Err()
}

func (r *ledgerPG) ReleaseCase(ctx context.Context, caseID string) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM slot_reservations WHERE case_id = $1`, caseID)
	if err != nil {
		return 0, fmt.Errorf("release slots: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
