package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Store is the Postgres-backed knowledge store. It owns all persisted state;
// pipelines hold only transient working copies.
type Store struct {
	DB *sql.DB
}

// New builds the Store from DATABASE_URL or the POSTGRES_* environment.
func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func (s *Store) Get(ctx context.Context, account, namespace, key string) (json.RawMessage, bool, error) {
	var value []byte
	row := s.DB.QueryRowContext(ctx, `
SELECT value FROM kv_records
WHERE account_id=$1 AND namespace=$2 AND key=$3`, account, namespace, key)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func (s *Store) Put(ctx context.Context, account, namespace, key string, value json.RawMessage) error {
	if account == "" || namespace == "" || key == "" {
		return fmt.Errorf("account, namespace and key are required")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO kv_records (account_id, namespace, key, value, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (account_id, namespace, key) DO UPDATE SET
  value      = EXCLUDED.value,
  updated_at = NOW();
`, account, namespace, key, []byte(value))
	return err
}

func (s *Store) Delete(ctx context.Context, account, namespace, key string) error {
	_, err := s.DB.ExecContext(ctx, `
DELETE FROM kv_records WHERE account_id=$1 AND namespace=$2 AND key=$3`, account, namespace, key)
	return err
}

func (s *Store) List(ctx context.Context, account, namespace string, limit int) ([]Record, error) {
	q := `
SELECT namespace, key, value, updated_at FROM kv_records
WHERE account_id=$1 AND namespace=$2
ORDER BY updated_at DESC`
	args := []interface{}{account, namespace}
	if limit > 0 {
		q += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var (
			rec   Record
			value []byte
		)
		if err := rows.Scan(&rec.Namespace, &rec.Key, &value, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Value = value
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PutPair writes two records in one transaction. The publish step relies on
// this so a PublishedPost is never persisted without its PendingMetricsEntry.
func (s *Store) PutPair(ctx context.Context, account string, a, b Record) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	const q = `
INSERT INTO kv_records (account_id, namespace, key, value, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (account_id, namespace, key) DO UPDATE SET
  value      = EXCLUDED.value,
  updated_at = NOW();
`
	if _, err := tx.ExecContext(ctx, q, account, a.Namespace, a.Key, []byte(a.Value)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, q, account, b.Namespace, b.Key, []byte(b.Value)); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveSuspension persists the continuation record for a cycle paused at the
// approval gate.
func (s *Store) SaveSuspension(ctx context.Context, sp Suspension) error {
	if sp.CycleID == "" {
		return fmt.Errorf("cycle_id is required")
	}
	if sp.Status == "" {
		sp.Status = SuspensionStatusPending
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO cycle_suspensions (cycle_id, account_id, status, payload, created_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (cycle_id) DO UPDATE SET
  status  = EXCLUDED.status,
  payload = EXCLUDED.payload;
`, sp.CycleID, sp.AccountID, sp.Status, []byte(sp.Payload))
	return err
}

func (s *Store) GetSuspension(ctx context.Context, cycleID string) (Suspension, bool, error) {
	var (
		sp      Suspension
		payload []byte
	)
	row := s.DB.QueryRowContext(ctx, `
SELECT cycle_id, account_id, status, payload, created_at, resolved_at
FROM cycle_suspensions
WHERE cycle_id=$1`, cycleID)
	if err := row.Scan(&sp.CycleID, &sp.AccountID, &sp.Status, &payload, &sp.CreatedAt, &sp.ResolvedAt); err != nil {
		if err == sql.ErrNoRows {
			return Suspension{}, false, nil
		}
		return Suspension{}, false, err
	}
	sp.Payload = payload
	return sp, true, nil
}

func (s *Store) ListPendingSuspensions(ctx context.Context, account string) ([]Suspension, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT cycle_id, account_id, status, payload, created_at, resolved_at
FROM cycle_suspensions
WHERE account_id=$1 AND status=$2
ORDER BY created_at ASC`, account, SuspensionStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Suspension
	for rows.Next() {
		var (
			sp      Suspension
			payload []byte
		)
		if err := rows.Scan(&sp.CycleID, &sp.AccountID, &sp.Status, &payload, &sp.CreatedAt, &sp.ResolvedAt); err != nil {
			return nil, err
		}
		sp.Payload = payload
		out = append(out, sp)
	}
	return out, rows.Err()
}

// ResolveSuspension flips a pending suspension to resolved exactly once.
func (s *Store) ResolveSuspension(ctx context.Context, cycleID string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE cycle_suspensions SET status=$2, resolved_at=NOW()
WHERE cycle_id=$1 AND status=$3`, cycleID, SuspensionStatusResolved, SuspensionStatusPending)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		// distinguish unknown from already-resolved
		var status string
		row := s.DB.QueryRowContext(ctx, `SELECT status FROM cycle_suspensions WHERE cycle_id=$1`, cycleID)
		if scanErr := row.Scan(&status); scanErr != nil {
			if scanErr == sql.ErrNoRows {
				return ErrSuspensionNotFound
			}
			return scanErr
		}
		return ErrSuspensionResolved
	} else if err != nil {
		return err
	}
	return nil
}

// ClaimIdempotency attempts to register a processed trigger. It returns false
// if the key already exists, so redelivered triggers are dropped.
func (s *Store) ClaimIdempotency(ctx context.Context, scope, key string) (bool, error) {
	if scope == "" || key == "" {
		return false, fmt.Errorf("scope and key must be provided")
	}
	var inserted bool
	err := s.DB.QueryRowContext(ctx, `INSERT INTO idempotency_keys (scope, key) VALUES ($1,$2) ON CONFLICT DO NOTHING RETURNING true`, scope, key).Scan(&inserted)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// CycleRun is a bookkeeping row for one pipeline invocation.
type CycleRun struct {
	ID         string
	Kind       string // creation | learning
	Status     string // running | suspended | succeeded | failed | skipped
	Error      *string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// CreateCycleRun inserts a running cycle row and returns its id.
func (s *Store) CreateCycleRun(ctx context.Context, kind, status string) (string, error) {
	id := uuid.NewString()
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO cycle_runs (id, kind, status, started_at) VALUES ($1,$2,$3,NOW())`, id, kind, status)
	if err != nil {
		return "", err
	}
	return id, nil
}

// FinishCycleRun records the terminal status of a cycle run.
func (s *Store) FinishCycleRun(ctx context.Context, id, status string, errMsg *string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE cycle_runs SET status=$2, error=$3, finished_at=NOW() WHERE id=$1`, id, status, errMsg)
	return err
}

// SetCycleRunStatus updates a non-terminal status (e.g. suspended).
func (s *Store) SetCycleRunStatus(ctx context.Context, id, status string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE cycle_runs SET status=$2 WHERE id=$1`, id, status)
	return err
}

// LatestCycleRunTime returns the start time of the most recent run of a kind.
func (s *Store) LatestCycleRunTime(ctx context.Context, kind string) (*time.Time, error) {
	var t time.Time
	row := s.DB.QueryRowContext(ctx, `
SELECT started_at FROM cycle_runs WHERE kind=$1 ORDER BY started_at DESC LIMIT 1`, kind)
	if err := row.Scan(&t); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// ListCycleRuns returns recent runs of a kind, newest first.
func (s *Store) ListCycleRuns(ctx context.Context, kind string, limit int) ([]CycleRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, kind, status, error, started_at, finished_at
FROM cycle_runs WHERE kind=$1 ORDER BY started_at DESC LIMIT $2`, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CycleRun
	for rows.Next() {
		var r CycleRun
		if err := rows.Scan(&r.ID, &r.Kind, &r.Status, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

var (
	_ KV              = (*Store)(nil)
	_ SuspensionStore = (*Store)(nil)
)
