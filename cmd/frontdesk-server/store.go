package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/ehr/frontdesk/internal/config"
	"github.com/ehr/frontdesk/internal/domain/billing"
	"github.com/ehr/frontdesk/internal/domain/patient"
	"github.com/ehr/frontdesk/internal/domain/workflow"
	"github.com/ehr/frontdesk/internal/platform/db"
	"github.com/ehr/frontdesk/internal/platform/memstore"
)

// store bundles the repositories for the configured STORE_DRIVER.
type store struct {
	patients patient.Repository
	billing  billing.Repository
	episodes workflow.EpisodeRepository
	queue    workflow.QueueRepository
	tx       workflow.TxRunner

	// pool is nil for the in-memory store.
	pool *pgxpool.Pool
}

func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		mem := memstore.New()
		return &store{
			patients: mem.Patients(),
			billing:  mem.Billing(),
			episodes: mem.Episodes(),
			queue:    mem.Queue(),
			tx:       mem,
		}, nil
	}

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &store{
		patients: patient.NewRepo(pool),
		billing:  billing.NewRepo(pool),
		episodes: workflow.NewEpisodeRepo(pool),
		queue:    workflow.NewQueueRepo(pool),
		tx:       db.NewTxManager(pool),
		pool:     pool,
	}, nil
}

func (s *store) close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// tenant returns the middleware that scopes each request to its tenant.
func (s *store) tenant(defaultTenant string) echo.MiddlewareFunc {
	if s.pool == nil {
		return db.TenantOnly(defaultTenant)
	}
	return db.TenantMiddleware(s.pool, defaultTenant)
}

// scope prepares ctx for repository calls outside of a request.
func (s *store) scope(ctx context.Context, tenantID string) (context.Context, func(), error) {
	if s.pool == nil {
		if err := db.ValidateTenantID(tenantID); err != nil {
			return nil, nil, err
		}
		return context.WithValue(ctx, db.TenantIDKey, tenantID), func() {}, nil
	}
	return db.WithTenant(ctx, s.pool, tenantID)
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
}

// withPool runs fn against the schema named by --tenant.
func withPool(cmd *cobra.Command, fn func(ctx context.Context, pool *pgxpool.Pool, schema string) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tenant, _ := cmd.Flags().GetString("tenant")
	if tenant == "" {
		tenant = cfg.DefaultTenant
	}
	if err := db.ValidateTenantID(tenant); err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, pool, db.SchemaName(tenant))
}
