package persistence_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/solroute/solroute/errs"
	"github.com/solroute/solroute/internal/domain/orderstore"
	"github.com/solroute/solroute/internal/infra/persistence/migrations"
	pgstore "github.com/solroute/solroute/internal/infra/persistence/postgres"
	"github.com/solroute/solroute/internal/schema"
)

var (
	testPool    *pgxpool.Pool
	pgContainer testcontainers.Container
	setupErr    error
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "solroute"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		setupErr = fmt.Errorf("start postgres container: %w", err)
		os.Exit(m.Run())
	}
	pgContainer = container

	setupErr = initialiseDatabase(ctx)
	exitCode := m.Run()

	if testPool != nil {
		testPool.Close()
	}
	if pgContainer != nil {
		_ = pgContainer.Terminate(ctx)
	}
	os.Exit(exitCode)
}

func initialiseDatabase(ctx context.Context) error {
	host, err := pgContainer.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return fmt.Errorf("container port: %w", err)
	}
	dsn := fmt.Sprintf("postgres://postgres:secret@%s:%s/solroute?sslmode=disable", host, port.Port())

	migrateCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	if err := migrations.Apply(migrateCtx, dsn); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("pgx pool: %w", err)
	}
	testPool = pool
	return nil
}

func TestPostgresOrderStoreRoundTrip(t *testing.T) {
	if setupErr != nil {
		t.Skipf("postgres contract setup unavailable: %v", setupErr)
	}
	ctx := context.Background()
	store := pgstore.NewOrderStore(testPool)

	orderID := uuid.NewString()
	order := schema.Order{
		ID:     orderID,
		Token:  "SOL",
		Amount: decimal.RequireFromString("12.5"),
		Side:   schema.SideBuy,
		State:  schema.StatePending,
	}
	if err := store.CreateOrder(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	if err := store.CreateOrder(ctx, order); errs.CodeOf(err) != errs.CodeConflict {
		t.Fatalf("duplicate create: expected conflict, got %v", err)
	}

	fetched, err := store.GetOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if fetched.State != schema.StatePending || fetched.Token != "SOL" {
		t.Fatalf("unexpected stored order: %+v", fetched)
	}
	if !fetched.Amount.Equal(order.Amount) {
		t.Fatalf("amount mismatch: %s", fetched.Amount)
	}

	price := decimal.RequireFromString("151.25")
	if err := store.UpdateOrder(ctx, orderID, orderstore.Update{
		State: schema.StateBuilding,
		Venue: "Raydium",
		Price: &price,
	}); err != nil {
		t.Fatalf("update order: %v", err)
	}

	// A partial update must preserve fields it does not name.
	if err := store.UpdateOrder(ctx, orderID, orderstore.Update{
		State:  schema.StateConfirmed,
		TxHash: "5oltx123",
	}); err != nil {
		t.Fatalf("confirm order: %v", err)
	}

	fetched, err = store.GetOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("get updated order: %v", err)
	}
	if fetched.State != schema.StateConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", fetched.State)
	}
	if fetched.Venue != "Raydium" || fetched.TxHash != "5oltx123" {
		t.Fatalf("partial update lost fields: %+v", fetched)
	}
	if fetched.Price == nil || !fetched.Price.Equal(price) {
		t.Fatalf("price mismatch: %v", fetched.Price)
	}

	confirmed, err := store.ListOrders(ctx, orderstore.Query{States: []schema.OrderState{schema.StateConfirmed}})
	if err != nil {
		t.Fatalf("list confirmed: %v", err)
	}
	found := false
	for _, o := range confirmed {
		if o.ID == orderID {
			found = true
		}
	}
	if !found {
		t.Fatalf("confirmed order missing from listing")
	}

	if err := store.UpdateOrder(ctx, uuid.NewString(), orderstore.Update{State: schema.StateFailed}); errs.CodeOf(err) != errs.CodeNotFound {
		t.Fatalf("update unknown order: expected not_found, got %v", err)
	}
	if _, err := store.GetOrder(ctx, uuid.NewString()); errs.CodeOf(err) != errs.CodeNotFound {
		t.Fatalf("get unknown order: expected not_found, got %v", err)
	}
}

func TestPostgresOrderStoreFailedOrders(t *testing.T) {
	if setupErr != nil {
		t.Skipf("postgres contract setup unavailable: %v", setupErr)
	}
	ctx := context.Background()
	store := pgstore.NewOrderStore(testPool)

	orderID := uuid.NewString()
	if err := store.CreateOrder(ctx, schema.Order{
		ID:     orderID,
		Token:  "BONK",
		Amount: decimal.RequireFromString("4200"),
		Side:   schema.SideSell,
		State:  schema.StatePending,
	}); err != nil {
		t.Fatalf("create order: %v", err)
	}

	if err := store.UpdateOrder(ctx, orderID, orderstore.Update{
		State: schema.StateFailed,
		Error: "no venue returned a quote",
	}); err != nil {
		t.Fatalf("fail order: %v", err)
	}

	fetched, err := store.GetOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("get failed order: %v", err)
	}
	if fetched.State != schema.StateFailed || fetched.Error != "no venue returned a quote" {
		t.Fatalf("unexpected failed order: %+v", fetched)
	}
}
