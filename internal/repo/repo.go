package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"hireline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const workerColumns = `id,name,COALESCE(endpoint,''),category,price_units,reputation,jobs_completed,jobs_failed,earned,is_active,seq,registered_at`

func scanWorker(scan func(dest ...any) error) (domain.WorkerEntry, error) {
	var w domain.WorkerEntry
	err := scan(&w.ID, &w.Name, &w.Endpoint, &w.Category, &w.PriceUnits, &w.Reputation,
		&w.JobsCompleted, &w.JobsFailed, &w.Earned, &w.IsActive, &w.Seq, &w.RegisteredAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	return w, err
}

func (r Repo) InsertWorker(ctx context.Context, tx *sql.Tx, w domain.WorkerEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO workers(id,name,endpoint,category,price_units,reputation,jobs_completed,jobs_failed,earned,is_active,seq,registered_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.Name, nullable(w.Endpoint), w.Category, w.PriceUnits, w.Reputation,
		w.JobsCompleted, w.JobsFailed, w.Earned, w.IsActive, w.Seq, w.RegisteredAt)
	return err
}

func (r Repo) GetWorker(ctx context.Context, id string) (domain.WorkerEntry, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id=?`, id)
	return scanWorker(row.Scan)
}

// WorkerExists checks for a worker inside tx. Seeding runs against a
// single-connection pool, so lookups issued mid-transaction must go
// through the transaction itself rather than the pool.
func (r Repo) WorkerExists(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM workers WHERE id=?`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListWorkers returns entries in registration order; category and
// activeOnly narrow the set. Registration order is what keeps hiring
// tie-breaks deterministic.
func (r Repo) ListWorkers(ctx context.Context, category string, activeOnly bool) ([]domain.WorkerEntry, error) {
	query := `SELECT ` + workerColumns + ` FROM workers`
	var (
		clauses []string
		args    []any
	)
	if category != "" {
		clauses = append(clauses, `category=?`)
		args = append(args, category)
	}
	if activeOnly {
		clauses = append(clauses, `is_active=1`)
	}
	for i, c := range clauses {
		if i == 0 {
			query += ` WHERE ` + c
		} else {
			query += ` AND ` + c
		}
	}
	query += ` ORDER BY seq ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkerEntry
	for rows.Next() {
		w, err := scanWorker(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) MaxWorkerSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(seq) FROM workers`).Scan(&seq); err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

// UpdateWorkerOutcome applies a settled job to a worker's stats.
// Returns ErrNotFound for unknown ids so callers can decide whether
// that is fatal.
func (r Repo) UpdateWorkerOutcome(ctx context.Context, id string, success bool, amountEarned float64, reputation int) error {
	completed, failed := 0, 1
	if success {
		completed, failed = 1, 0
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE workers SET jobs_completed=jobs_completed+?, jobs_failed=jobs_failed+?, earned=earned+?, reputation=? WHERE id=?`,
		completed, failed, amountEarned, reputation, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetWorkerActive(ctx context.Context, id string, active bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE workers SET is_active=? WHERE id=?`, active, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertSettlement(ctx context.Context, rec domain.SettlementRecord) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO settlements(id,ts,task_id,capability_id,payer_id,worker_id,amount,is_delegated,parent_record_id,depth,self_healed,original_worker_id,receipt_id)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.TS, rec.TaskID, rec.CapabilityID, rec.PayerID, rec.WorkerID, rec.Amount,
		rec.IsDelegated, rec.ParentRecordID, rec.Depth, rec.SelfHealed,
		nullable(rec.OriginalWorkerID), nullable(rec.ReceiptID))
	return err
}

func scanSettlement(scan func(dest ...any) error) (domain.SettlementRecord, error) {
	var rec domain.SettlementRecord
	var parent sql.NullInt64
	var original, receipt sql.NullString
	err := scan(&rec.ID, &rec.TS, &rec.TaskID, &rec.CapabilityID, &rec.PayerID, &rec.WorkerID,
		&rec.Amount, &rec.IsDelegated, &parent, &rec.Depth, &rec.SelfHealed, &original, &receipt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if parent.Valid {
		v := parent.Int64
		rec.ParentRecordID = &v
	}
	rec.OriginalWorkerID = original.String
	rec.ReceiptID = receipt.String
	return rec, err
}

const settlementColumns = `id,ts,task_id,capability_id,payer_id,worker_id,amount,is_delegated,parent_record_id,depth,self_healed,original_worker_id,receipt_id`

func (r Repo) GetSettlement(ctx context.Context, id int64) (domain.SettlementRecord, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE id=?`, id)
	return scanSettlement(row.Scan)
}

// ListSettlements returns the most recent records first, capped at limit.
func (r Repo) ListSettlements(ctx context.Context, limit int) ([]domain.SettlementRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+settlementColumns+` FROM settlements ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SettlementRecord
	for rows.Next() {
		rec, err := scanSettlement(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func (r Repo) ListSettlementsAfter(ctx context.Context, afterID int64, limit int) ([]domain.SettlementRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE id>? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SettlementRecord
	for rows.Next() {
		rec, err := scanSettlement(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func (r Repo) MaxSettlementID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM settlements`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (r Repo) InsertTrace(ctx context.Context, t domain.ExecutionTrace) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO traces(task_id,requester_id,task,budget_limit,cost,max_depth,canceled,trace_json,started_at,finished_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.TaskID, t.RequesterID, t.Task, t.BudgetLimit, t.CumulativeCost, t.MaxDepth,
		t.Canceled, string(data), t.StartedAt, nullable(t.FinishedAt))
	return err
}

func (r Repo) GetTrace(ctx context.Context, taskID string) (domain.ExecutionTrace, error) {
	var data string
	err := r.DB.QueryRowContext(ctx, `SELECT trace_json FROM traces WHERE task_id=?`, taskID).Scan(&data)
	if err == sql.ErrNoRows {
		return domain.ExecutionTrace{}, ErrNotFound
	}
	if err != nil {
		return domain.ExecutionTrace{}, err
	}
	var t domain.ExecutionTrace
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return domain.ExecutionTrace{}, fmt.Errorf("unmarshal trace %s: %w", taskID, err)
	}
	return t, nil
}

// ListTraces returns summaries (steps omitted) of recent runs.
func (r Repo) ListTraces(ctx context.Context, limit int) ([]domain.ExecutionTrace, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT task_id,requester_id,task,budget_limit,cost,max_depth,canceled,started_at,COALESCE(finished_at,'')
		 FROM traces ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ExecutionTrace
	for rows.Next() {
		var t domain.ExecutionTrace
		if err := rows.Scan(&t.TaskID, &t.RequesterID, &t.Task, &t.BudgetLimit, &t.CumulativeCost,
			&t.MaxDepth, &t.Canceled, &t.StartedAt, &t.FinishedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
