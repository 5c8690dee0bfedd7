package store

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestPutAndGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	put := regexp.QuoteMeta(`
INSERT INTO kv_records (account_id, namespace, key, value, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (account_id, namespace, key) DO UPDATE SET
  value      = EXCLUDED.value,
  updated_at = NOW();
`)
	mock.ExpectExec(put).
		WithArgs("acct", NSStrategy, "current", []byte(`{"iteration":1}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.Put(context.Background(), "acct", NSStrategy, "current", json.RawMessage(`{"iteration":1}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	get := regexp.QuoteMeta(`
SELECT value FROM kv_records
WHERE account_id=$1 AND namespace=$2 AND key=$3`)
	mock.ExpectQuery(get).
		WithArgs("acct", NSStrategy, "current").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"iteration":1}`)))

	raw, ok, err := st.Get(context.Background(), "acct", NSStrategy, "current")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected record")
	}
	if string(raw) != `{"iteration":1}` {
		t.Fatalf("unexpected value: %s", raw)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetMissingRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectQuery("SELECT value FROM kv_records").
		WithArgs("acct", NSConfig, "niche").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	_, ok, err := st.Get(context.Background(), "acct", NSConfig, "niche")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatalf("expected no record")
	}
}

func TestPutPairUsesOneTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO kv_records").
		WithArgs("acct", NSPublishedPosts, "p1", []byte(`{"id":"p1"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO kv_records").
		WithArgs("acct", NSPendingMetrics, "p1", []byte(`{"post_id":"p1"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	a := Record{Namespace: NSPublishedPosts, Key: "p1", Value: json.RawMessage(`{"id":"p1"}`)}
	b := Record{Namespace: NSPendingMetrics, Key: "p1", Value: json.RawMessage(`{"post_id":"p1"}`)}
	if err := st.PutPair(context.Background(), "acct", a, b); err != nil {
		t.Fatalf("PutPair: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPutPairRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO kv_records").
		WithArgs("acct", NSPublishedPosts, "p1", []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO kv_records").
		WithArgs("acct", NSPendingMetrics, "p1", []byte(`{}`)).
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	a := Record{Namespace: NSPublishedPosts, Key: "p1", Value: json.RawMessage(`{}`)}
	b := Record{Namespace: NSPendingMetrics, Key: "p1", Value: json.RawMessage(`{}`)}
	if err := st.PutPair(context.Background(), "acct", a, b); err == nil {
		t.Fatalf("expected error")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResolveSuspensionStates(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	// pending -> resolved
	mock.ExpectExec("UPDATE cycle_suspensions SET").
		WithArgs("c1", SuspensionStatusResolved, SuspensionStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := st.ResolveSuspension(context.Background(), "c1"); err != nil {
		t.Fatalf("ResolveSuspension: %v", err)
	}

	// already resolved
	mock.ExpectExec("UPDATE cycle_suspensions SET").
		WithArgs("c1", SuspensionStatusResolved, SuspensionStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM cycle_suspensions").
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(SuspensionStatusResolved))
	if err := st.ResolveSuspension(context.Background(), "c1"); err != ErrSuspensionResolved {
		t.Fatalf("expected ErrSuspensionResolved, got %v", err)
	}

	// unknown cycle
	mock.ExpectExec("UPDATE cycle_suspensions SET").
		WithArgs("nope", SuspensionStatusResolved, SuspensionStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM cycle_suspensions").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))
	if err := st.ResolveSuspension(context.Background(), "nope"); err != ErrSuspensionNotFound {
		t.Fatalf("expected ErrSuspensionNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClaimIdempotency(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	mock.ExpectQuery("INSERT INTO idempotency_keys").
		WithArgs("creation", "cycle-1").
		WillReturnRows(sqlmock.NewRows([]string{"true"}).AddRow(true))
	ok, err := st.ClaimIdempotency(context.Background(), "creation", "cycle-1")
	if err != nil {
		t.Fatalf("ClaimIdempotency: %v", err)
	}
	if !ok {
		t.Fatalf("expected first claim to succeed")
	}

	mock.ExpectQuery("INSERT INTO idempotency_keys").
		WithArgs("creation", "cycle-1").
		WillReturnRows(sqlmock.NewRows([]string{"true"}))
	ok, err = st.ClaimIdempotency(context.Background(), "creation", "cycle-1")
	if err != nil {
		t.Fatalf("ClaimIdempotency: %v", err)
	}
	if ok {
		t.Fatalf("expected duplicate claim to fail")
	}
}

func TestListReturnsNewestFirst(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now()
	mock.ExpectQuery("SELECT namespace, key, value, updated_at FROM kv_records").
		WithArgs("acct", NSPublishedPosts, 2).
		WillReturnRows(sqlmock.NewRows([]string{"namespace", "key", "value", "updated_at"}).
			AddRow(NSPublishedPosts, "p2", []byte(`{}`), now).
			AddRow(NSPublishedPosts, "p1", []byte(`{}`), now.Add(-time.Hour)))

	recs, err := st.List(context.Background(), "acct", NSPublishedPosts, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 || recs[0].Key != "p2" {
		t.Fatalf("unexpected records: %#v", recs)
	}
}
