package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T, ctx context.Context) (testcontainers.Container, string) {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "growloop",
			"POSTGRES_PASSWORD": "growloop",
			"POSTGRES_DB":       "growloop",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(1).WithStartupTimeout(60 * time.Second),
	}
	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("failed to start postgres: %v", err)
	}
	port, err := pg.MappedPort(ctx, "5432")
	if err != nil {
		_ = pg.Terminate(ctx)
		t.Fatalf("failed to get mapped port: %v", err)
	}
	host, err := pg.Host(ctx)
	if err != nil {
		_ = pg.Terminate(ctx)
		t.Fatalf("failed to get host: %v", err)
	}
	dsn := fmt.Sprintf("postgres://growloop:growloop@%s:%s/growloop?sslmode=disable", host, port.Port())
	return pg, dsn
}

func TestPostgresStoreIntegration(t *testing.T) {
	if os.Getenv("GROWLOOP_INTEGRATION") == "" {
		t.Skip("set GROWLOOP_INTEGRATION=1 to run container-backed tests")
	}
	ctx := context.Background()
	pg, dsn := startPostgres(t, ctx)
	defer func() { _ = pg.Terminate(ctx) }()

	m, err := migrate.New("file://../../migrations", dsn)
	if err != nil {
		t.Fatalf("migrate.New: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	st, err := NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("NewWithDSN: %v", err)
	}
	defer st.DB.Close()

	if err := st.Put(ctx, "acct", NSStrategy, "current", json.RawMessage(`{"iteration":3}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	raw, ok, err := st.Get(ctx, "acct", NSStrategy, "current")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(raw) != `{"iteration":3}` {
		t.Fatalf("unexpected value: %s", raw)
	}

	a := Record{Namespace: NSPublishedPosts, Key: "p1", Value: json.RawMessage(`{"id":"p1"}`)}
	b := Record{Namespace: NSPendingMetrics, Key: "p1", Value: json.RawMessage(`{"post_id":"p1"}`)}
	if err := st.PutPair(ctx, "acct", a, b); err != nil {
		t.Fatalf("PutPair: %v", err)
	}
	pend, err := st.List(ctx, "acct", NSPendingMetrics, 0)
	if err != nil || len(pend) != 1 {
		t.Fatalf("List pending: %v (%d)", err, len(pend))
	}

	if err := st.SaveSuspension(ctx, Suspension{CycleID: "c1", AccountID: "acct", Status: SuspensionStatusPending, Payload: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("SaveSuspension: %v", err)
	}
	if err := st.ResolveSuspension(ctx, "c1"); err != nil {
		t.Fatalf("ResolveSuspension: %v", err)
	}
	if err := st.ResolveSuspension(ctx, "c1"); err != ErrSuspensionResolved {
		t.Fatalf("expected ErrSuspensionResolved, got %v", err)
	}
}
