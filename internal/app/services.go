package app

import (
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/medcare-hms/medcare/internal/billing"
	"github.com/medcare-hms/medcare/internal/catalog"
	"github.com/medcare-hms/medcare/internal/inventory"
	"github.com/medcare-hms/medcare/internal/observability"
	"github.com/medcare-hms/medcare/internal/shared"
)

// ServicesParams carries the infrastructure shared by the API and the worker.
type ServicesParams struct {
	Config      *Config
	Logger      *slog.Logger
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Metrics     *observability.Metrics
	Integration inventory.IntegrationHandler
}

// Services holds the wired domain services.
type Services struct {
	CatalogRepo *catalog.Repository
	Catalog     *catalog.Service
	Inventory   *inventory.Service
	Billing     *billing.Service
	Idempotency *shared.IdempotencyStore
}

// NewServices wires repositories and services over one pool.
func NewServices(p ServicesParams) *Services {
	auditLogger := shared.NewAuditLogger(p.Pool)
	approvals := shared.NewApprovalRecorder(p.Pool, p.Logger)
	idempotency := shared.NewIdempotencyStore(p.Pool)

	catalogRepo := catalog.NewRepository(p.Pool)
	catalogService := catalog.NewService(catalogRepo, auditLogger, p.Logger)

	inventoryService := inventory.NewService(inventory.ServiceParams{
		Repo:        inventory.NewRepository(p.Pool),
		Items:       catalogRepo,
		Audit:       auditLogger,
		Approvals:   approvals,
		Integration: p.Integration,
		Metrics:     p.Metrics,
		Logger:      p.Logger,
	})

	var statsCache *billing.StatsCache
	if p.Redis != nil {
		ttl := 5 * time.Minute
		if p.Config != nil && p.Config.StatsCacheTTL > 0 {
			ttl = p.Config.StatsCacheTTL
		}
		statsCache = billing.NewStatsCache(p.Redis, ttl, p.Metrics)
	}
	billingService := billing.NewService(billing.ServiceParams{
		Repo:        billing.NewRepository(p.Pool),
		Catalog:     catalogRepo,
		Audit:       auditLogger,
		Idempotency: idempotency,
		Integration: p.Integration,
		Cache:       statsCache,
		Metrics:     p.Metrics,
		Logger:      p.Logger,
	})

	return &Services{
		CatalogRepo: catalogRepo,
		Catalog:     catalogService,
		Inventory:   inventoryService,
		Billing:     billingService,
		Idempotency: idempotency,
	}
}
