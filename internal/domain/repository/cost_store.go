package repository

import (
	"context"
	"time"

	"github.com/cloudlens/cost-ingest-go/internal/domain/entity"
)

// CostStore is the relational store for normalized cost rows. Implementations
// must make every write idempotent: repeated calls with the same key replace
// rather than duplicate.
type CostStore interface {
	// UpsertDailyPoints writes api- or export-sourced daily points keyed on
	// (user, provider, account, date, source).
	UpsertDailyPoints(ctx context.Context, points []entity.NormalizedCostPoint) error

	// UpsertMonthlySummary writes the month-level cost bucket keyed on
	// (user, provider, account, period).
	UpsertMonthlySummary(ctx context.Context, summary entity.MonthlySummary, services []entity.ServiceCost) error

	// SaveExportPeriod persists one finalized billing period in a single
	// atomic transaction: month summary upsert, wholesale service-breakdown
	// replace, and export-sourced daily point upserts.
	SaveExportPeriod(ctx context.Context, period entity.ExportPeriodData) error

	// GetDailyCosts returns at most one point per date in [start, end],
	// preferring export-sourced values over api-sourced ones.
	GetDailyCosts(ctx context.Context, userID uint, provider string, accountID *uint, start, end time.Time) ([]entity.NormalizedCostPoint, error)
}

// AccountStore reads CloudAccounts and flips the single flag this core owns.
type AccountStore interface {
	GetAccount(ctx context.Context, id uint) (entity.CloudAccount, error)
	ListActiveAccounts(ctx context.Context) ([]entity.CloudAccount, error)
	// SetExportEnabled is called when an export becomes inaccessible and
	// requires a manual reconnect.
	SetExportEnabled(ctx context.Context, accountID uint, enabled bool) error
}

// ExportConfigStore persists export configurations and their state machine.
type ExportConfigStore interface {
	Create(ctx context.Context, cfg *entity.ExportConfig) error
	Delete(ctx context.Context, id uint) error
	GetByAccount(ctx context.Context, accountID uint) (entity.ExportConfig, error)
	// ListPollable returns configs in provisioning or active state.
	ListPollable(ctx context.Context) ([]entity.ExportConfig, error)
	UpdateStatus(ctx context.Context, id uint, status entity.ExportStatus, message string) error
	// MarkRun records a successful cycle and the newest manifest seen.
	MarkRun(ctx context.Context, id uint, manifestKey string, at time.Time) error
}

// IngestionLogStore is the idempotency ledger.
type IngestionLogStore interface {
	Find(ctx context.Context, configID uint, period, manifestKey string) (*entity.IngestionLog, error)
	// BeginProcessing creates or overwrites the ledger row in processing
	// state.
	BeginProcessing(ctx context.Context, log *entity.IngestionLog) error
	MarkCompleted(ctx context.Context, id uint, rows int64, totalCost float64, at time.Time) error
	MarkError(ctx context.Context, id uint, message string, at time.Time) error
}
