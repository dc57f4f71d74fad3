package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"voicemetrics/internal/snapshot"
	"voicemetrics/internal/stats"
	"voicemetrics/pkg/utils"
)

// PostgresStore implements Store and the stats read side against Postgres.
//
// Tables (natural keys in parentheses):
//   workspaces            (id)
//   workspace_phones      (phone_number unique)
//   calls                 (id = provider external id)
//   twilio_snapshots      (workspace_id, snapshot_date unique)
//   elevenlabs_snapshots  (workspace_id, snapshot_date unique)
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM workspaces ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var out []Workspace
	for rows.Next() {
		var w Workspace
		if err := rows.Scan(&w.ID, &w.Name); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListWorkspacePhones(ctx context.Context) ([]WorkspacePhone, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT workspace_id, phone_number, is_primary FROM workspace_phones ORDER BY phone_number`)
	if err != nil {
		return nil, fmt.Errorf("list workspace phones: %w", err)
	}
	defer rows.Close()

	var out []WorkspacePhone
	for rows.Next() {
		var p WorkspacePhone
		if err := rows.Scan(&p.WorkspaceID, &p.PhoneNumber, &p.IsPrimary); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertWorkspacePhone(ctx context.Context, phone WorkspacePhone) error {
	// No reassignment logic exists: a number registered once stays put, so
	// conflicts are ignored rather than overwritten.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workspace_phones (workspace_id, phone_number, is_primary)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (phone_number) DO NOTHING`,
		phone.WorkspaceID, phone.PhoneNumber, phone.IsPrimary)
	if err != nil {
		return fmt.Errorf("insert workspace phone: %w", err)
	}
	return nil
}

// UpsertCalls writes one batch atomically. Row-at-a-time through a prepared
// statement inside a single transaction keeps the SQL simple while preserving
// batch atomicity.
func (s *PostgresStore) UpsertCalls(ctx context.Context, rows []CallRow) error {
	if len(rows) == 0 {
		return nil
	}
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO calls (id, workspace_id, source, phone_from, phone_to, duration, cost, status, call_date, raw_data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET
				workspace_id = EXCLUDED.workspace_id,
				source       = EXCLUDED.source,
				phone_from   = EXCLUDED.phone_from,
				phone_to     = EXCLUDED.phone_to,
				duration     = EXCLUDED.duration,
				cost         = EXCLUDED.cost,
				status       = EXCLUDED.status,
				call_date    = EXCLUDED.call_date,
				raw_data     = EXCLUDED.raw_data`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range rows {
			raw := []byte(r.Raw)
			if len(raw) == 0 {
				raw = []byte("null")
			}
			if _, err := stmt.ExecContext(ctx, r.ID, r.WorkspaceID, string(r.Source), r.PhoneFrom, r.PhoneTo,
				r.DurationSeconds, r.Cost, r.Status, r.CallDate, raw); err != nil {
				return fmt.Errorf("upsert call %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) UpsertCallRollups(ctx context.Context, rows []snapshot.CallRollup) error {
	if len(rows) == 0 {
		return nil
	}
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO twilio_snapshots (workspace_id, snapshot_date, total_calls, total_cost, total_duration, real_minutes)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (workspace_id, snapshot_date) DO UPDATE SET
				total_calls    = EXCLUDED.total_calls,
				total_cost     = EXCLUDED.total_cost,
				total_duration = EXCLUDED.total_duration,
				real_minutes   = EXCLUDED.real_minutes`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, r.WorkspaceID, r.BucketStart, r.TotalCalls, r.TotalCost,
				r.TotalDurationSeconds, r.TotalBillableMinutes); err != nil {
				return fmt.Errorf("upsert twilio snapshot %d/%s: %w", r.WorkspaceID, r.BucketStart, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) UpsertConversationRollups(ctx context.Context, rows []snapshot.ConversationRollup) error {
	if len(rows) == 0 {
		return nil
	}
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO elevenlabs_snapshots (workspace_id, snapshot_date, total_conversations, total_cost, total_duration,
				llm_price, llm_charge, call_charge, free_minutes_consumed, free_llm_dollars_consumed, dev_discount)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (workspace_id, snapshot_date) DO UPDATE SET
				total_conversations       = EXCLUDED.total_conversations,
				total_cost                = EXCLUDED.total_cost,
				total_duration            = EXCLUDED.total_duration,
				llm_price                 = EXCLUDED.llm_price,
				llm_charge                = EXCLUDED.llm_charge,
				call_charge               = EXCLUDED.call_charge,
				free_minutes_consumed     = EXCLUDED.free_minutes_consumed,
				free_llm_dollars_consumed = EXCLUDED.free_llm_dollars_consumed,
				dev_discount              = EXCLUDED.dev_discount`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, r.WorkspaceID, r.BucketStart, r.TotalConversations, r.TotalCostCredits,
				r.TotalDurationSeconds, r.LLMPrice, r.LLMCharge, r.CallCharge,
				r.FreeMinutesConsumed, r.FreeLLMDollarsConsumed, r.DevDiscount); err != nil {
				return fmt.Errorf("upsert elevenlabs snapshot %d/%s: %w", r.WorkspaceID, r.BucketStart, err)
			}
		}
		return nil
	})
}

// --- read side (stats.Repository) ---

func (s *PostgresStore) ListCallRollups(ctx context.Context, f stats.Filter) ([]snapshot.CallRollup, error) {
	q := `SELECT workspace_id, snapshot_date, total_calls, total_cost, total_duration, real_minutes
	      FROM twilio_snapshots`
	where, args := filterClauses(f)
	q += where + ` ORDER BY snapshot_date ASC, workspace_id ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list twilio snapshots: %w", err)
	}
	defer rows.Close()

	var out []snapshot.CallRollup
	for rows.Next() {
		var r snapshot.CallRollup
		if err := rows.Scan(&r.WorkspaceID, &r.BucketStart, &r.TotalCalls, &r.TotalCost,
			&r.TotalDurationSeconds, &r.TotalBillableMinutes); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListConversationRollups(ctx context.Context, f stats.Filter) ([]snapshot.ConversationRollup, error) {
	q := `SELECT workspace_id, snapshot_date, total_conversations, total_cost, total_duration,
	             llm_price, llm_charge, call_charge, free_minutes_consumed, free_llm_dollars_consumed, dev_discount
	      FROM elevenlabs_snapshots`
	where, args := filterClauses(f)
	q += where + ` ORDER BY snapshot_date ASC, workspace_id ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list elevenlabs snapshots: %w", err)
	}
	defer rows.Close()

	var out []snapshot.ConversationRollup
	for rows.Next() {
		var r snapshot.ConversationRollup
		if err := rows.Scan(&r.WorkspaceID, &r.BucketStart, &r.TotalConversations, &r.TotalCostCredits,
			&r.TotalDurationSeconds, &r.LLMPrice, &r.LLMCharge, &r.CallCharge,
			&r.FreeMinutesConsumed, &r.FreeLLMDollarsConsumed, &r.DevDiscount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListRecentCallRollups(ctx context.Context, workspaceID int64, limit int) ([]snapshot.CallRollup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workspace_id, snapshot_date, total_calls, total_cost, total_duration, real_minutes
		FROM twilio_snapshots
		WHERE workspace_id = $1
		ORDER BY snapshot_date DESC
		LIMIT $2`, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent twilio snapshots: %w", err)
	}
	defer rows.Close()

	var out []snapshot.CallRollup
	for rows.Next() {
		var r snapshot.CallRollup
		if err := rows.Scan(&r.WorkspaceID, &r.BucketStart, &r.TotalCalls, &r.TotalCost,
			&r.TotalDurationSeconds, &r.TotalBillableMinutes); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListRecentConversationRollups(ctx context.Context, workspaceID int64, limit int) ([]snapshot.ConversationRollup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workspace_id, snapshot_date, total_conversations, total_cost, total_duration,
		       llm_price, llm_charge, call_charge, free_minutes_consumed, free_llm_dollars_consumed, dev_discount
		FROM elevenlabs_snapshots
		WHERE workspace_id = $1
		ORDER BY snapshot_date DESC
		LIMIT $2`, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent elevenlabs snapshots: %w", err)
	}
	defer rows.Close()

	var out []snapshot.ConversationRollup
	for rows.Next() {
		var r snapshot.ConversationRollup
		if err := rows.Scan(&r.WorkspaceID, &r.BucketStart, &r.TotalConversations, &r.TotalCostCredits,
			&r.TotalDurationSeconds, &r.LLMPrice, &r.LLMCharge, &r.CallCharge,
			&r.FreeMinutesConsumed, &r.FreeLLMDollarsConsumed, &r.DevDiscount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func filterClauses(f stats.Filter) (string, []any) {
	var conds []string
	var args []any
	if f.Start != nil {
		args = append(args, *f.Start)
		conds = append(conds, fmt.Sprintf("snapshot_date >= $%d", len(args)))
	}
	if f.End != nil {
		args = append(args, *f.End)
		conds = append(conds, fmt.Sprintf("snapshot_date <= $%d", len(args)))
	}
	if f.WorkspaceID != 0 {
		args = append(args, f.WorkspaceID)
		conds = append(conds, fmt.Sprintf("workspace_id = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
