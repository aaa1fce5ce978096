// Package store implements the relational persistence layer on GORM with
// PostgreSQL or SQLite backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cloudlens/cost-ingest-go/internal/domain/entity"
	"github.com/cloudlens/cost-ingest-go/internal/provider"
	"github.com/cloudlens/cost-ingest-go/internal/shared/types"
)

// Open connects to the configured database and migrates the schema.
func Open(cfg types.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "", "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dialector = sqlite.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(
		&entity.CloudAccount{},
		&entity.NormalizedCostPoint{},
		&entity.MonthlySummary{},
		&entity.NormalizedServiceCost{},
		&entity.ExportConfig{},
		&entity.IngestionLog{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}

// costPointConflict updates the cost in place when the (user, provider,
// account, date, source) key already exists.
func costPointConflict() clause.OnConflict {
	return clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"}, {Name: "provider"}, {Name: "account_id"},
			{Name: "date"}, {Name: "source"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"cost", "updated_at"}),
	}
}

// accountClause matches an account scope, treating nil as the account-less
// aggregate row.
func accountClause(accountID *uint) string {
	if accountID == nil {
		return "account_id IS NULL"
	}
	return fmt.Sprintf("account_id = %d", *accountID)
}

// CostStore persists normalized cost rows.
type CostStore struct {
	db *gorm.DB
}

// NewCostStore wraps the database in the cost persistence port.
func NewCostStore(db *gorm.DB) *CostStore {
	return &CostStore{db: db}
}

func (s *CostStore) UpsertDailyPoints(ctx context.Context, points []entity.NormalizedCostPoint) error {
	if len(points) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(costPointConflict()).
		CreateInBatches(points, 200).Error
}

func (s *CostStore) UpsertMonthlySummary(ctx context.Context, summary entity.MonthlySummary, services []entity.ServiceCost) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return upsertSummary(tx, &summary, services, previousPeriodTotal(tx, summary))
	})
}

// SaveExportPeriod writes one finalized billing period atomically: the month
// summary, a wholesale replace of its service breakdown, and the
// export-sourced daily points.
func (s *CostStore) SaveExportPeriod(ctx context.Context, period entity.ExportPeriodData) error {
	summary := entity.MonthlySummary{
		UserID:    period.UserID,
		Provider:  period.Provider,
		AccountID: period.AccountID,
		Period:    period.Period,
		TotalCost: period.TotalCost,
		TaxCost:   period.TaxCost,
		Source:    entity.SourceExport,
	}

	points := make([]entity.NormalizedCostPoint, 0, len(period.Daily))
	for _, p := range period.Daily {
		points = append(points, entity.NormalizedCostPoint{
			UserID:    period.UserID,
			Provider:  period.Provider,
			AccountID: period.AccountID,
			Date:      p.Date,
			Source:    entity.SourceExport,
			Cost:      p.Cost,
		})
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertSummary(tx, &summary, period.Services, previousPeriodTotal(tx, summary)); err != nil {
			return err
		}
		if len(points) == 0 {
			return nil
		}
		return tx.Clauses(costPointConflict()).CreateInBatches(points, 200).Error
	})
}

// upsertSummary writes the summary row and replaces its service breakdown.
// prevTotal, when known, drives the month-over-month percent change.
func upsertSummary(tx *gorm.DB, summary *entity.MonthlySummary, services []entity.ServiceCost, prevTotal *float64) error {
	if prevTotal != nil && *prevTotal > 0 {
		change := provider.Round2((summary.TotalCost - *prevTotal) / *prevTotal * 100)
		summary.PercentChange = &change
	}

	var existing entity.MonthlySummary
	err := tx.Where("user_id = ? AND provider = ? AND period = ?",
		summary.UserID, summary.Provider, summary.Period).
		Where(accountClause(summary.AccountID)).
		First(&existing).Error
	switch {
	case err == nil:
		summary.ID = existing.ID
		summary.CreatedAt = existing.CreatedAt
		if err := tx.Save(summary).Error; err != nil {
			return err
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := tx.Create(summary).Error; err != nil {
			return err
		}
	default:
		return err
	}

	if err := tx.Where("summary_id = ?", summary.ID).
		Delete(&entity.NormalizedServiceCost{}).Error; err != nil {
		return err
	}
	if len(services) == 0 {
		return nil
	}

	rows := make([]entity.NormalizedServiceCost, 0, len(services))
	for _, svc := range services {
		rows = append(rows, entity.NormalizedServiceCost{
			SummaryID:   summary.ID,
			ServiceName: svc.ServiceName,
			Cost:        svc.Cost,
		})
	}
	return tx.CreateInBatches(rows, 200).Error
}

// previousPeriodTotal looks up the immediately preceding month's total for
// the same account, or nil when absent.
func previousPeriodTotal(tx *gorm.DB, summary entity.MonthlySummary) *float64 {
	periodStart, err := time.Parse("2006-01", summary.Period)
	if err != nil {
		return nil
	}
	prev := periodStart.AddDate(0, -1, 0).Format("2006-01")

	var row entity.MonthlySummary
	if err := tx.Where("user_id = ? AND provider = ? AND period = ?",
		summary.UserID, summary.Provider, prev).
		Where(accountClause(summary.AccountID)).
		First(&row).Error; err != nil {
		return nil
	}
	return &row.TotalCost
}

// GetDailyCosts returns one point per date, export-sourced values winning
// over api-sourced ones.
func (s *CostStore) GetDailyCosts(ctx context.Context, userID uint, providerID string, accountID *uint, start, end time.Time) ([]entity.NormalizedCostPoint, error) {
	var rows []entity.NormalizedCostPoint
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND date >= ? AND date <= ?",
			userID, providerID, start, end).
		Where(accountClause(accountID)).
		Order("date asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	byDate := make(map[time.Time]entity.NormalizedCostPoint, len(rows))
	var order []time.Time
	for _, row := range rows {
		existing, seen := byDate[row.Date]
		if !seen {
			order = append(order, row.Date)
			byDate[row.Date] = row
			continue
		}
		if existing.Source == entity.SourceAPI && row.Source == entity.SourceExport {
			byDate[row.Date] = row
		}
	}

	out := make([]entity.NormalizedCostPoint, 0, len(order))
	for _, d := range order {
		out = append(out, byDate[d])
	}
	return out, nil
}

// AccountStore reads connected accounts.
type AccountStore struct {
	db *gorm.DB
}

// NewAccountStore wraps the database in the account port.
func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) GetAccount(ctx context.Context, id uint) (entity.CloudAccount, error) {
	var account entity.CloudAccount
	err := s.db.WithContext(ctx).First(&account, id).Error
	return account, err
}

func (s *AccountStore) ListActiveAccounts(ctx context.Context) ([]entity.CloudAccount, error) {
	var accounts []entity.CloudAccount
	err := s.db.WithContext(ctx).Where("active = ?", true).Find(&accounts).Error
	return accounts, err
}

func (s *AccountStore) SetExportEnabled(ctx context.Context, accountID uint, enabled bool) error {
	return s.db.WithContext(ctx).Model(&entity.CloudAccount{}).
		Where("id = ?", accountID).
		Update("export_enabled", enabled).Error
}

// ExportConfigStore persists export configurations.
type ExportConfigStore struct {
	db *gorm.DB
}

// NewExportConfigStore wraps the database in the export-config port.
func NewExportConfigStore(db *gorm.DB) *ExportConfigStore {
	return &ExportConfigStore{db: db}
}

func (s *ExportConfigStore) Create(ctx context.Context, cfg *entity.ExportConfig) error {
	return s.db.WithContext(ctx).Create(cfg).Error
}

func (s *ExportConfigStore) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&entity.ExportConfig{}, id).Error
}

func (s *ExportConfigStore) GetByAccount(ctx context.Context, accountID uint) (entity.ExportConfig, error) {
	var cfg entity.ExportConfig
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&cfg).Error
	return cfg, err
}

// ListPollable returns every config the polling cycle should visit. Errored
// configs stay in the set so a transient failure recovers on the next cycle;
// access-parked exports are filtered later by the owning account's disabled
// export flag.
func (s *ExportConfigStore) ListPollable(ctx context.Context) ([]entity.ExportConfig, error) {
	var cfgs []entity.ExportConfig
	err := s.db.WithContext(ctx).
		Where("status IN ?", []entity.ExportStatus{
			entity.ExportProvisioning, entity.ExportActive, entity.ExportError,
		}).
		Find(&cfgs).Error
	return cfgs, err
}

func (s *ExportConfigStore) UpdateStatus(ctx context.Context, id uint, status entity.ExportStatus, message string) error {
	return s.db.WithContext(ctx).Model(&entity.ExportConfig{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         status,
			"status_message": message,
		}).Error
}

func (s *ExportConfigStore) MarkRun(ctx context.Context, id uint, manifestKey string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&entity.ExportConfig{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_manifest": manifestKey,
			"last_run_at":   at,
		}).Error
}

// IngestionLogStore is the idempotency ledger.
type IngestionLogStore struct {
	db *gorm.DB
}

// NewIngestionLogStore wraps the database in the ledger port.
func NewIngestionLogStore(db *gorm.DB) *IngestionLogStore {
	return &IngestionLogStore{db: db}
}

func (s *IngestionLogStore) Find(ctx context.Context, configID uint, period, manifestKey string) (*entity.IngestionLog, error) {
	var log entity.IngestionLog
	err := s.db.WithContext(ctx).
		Where("export_config_id = ? AND billing_period = ? AND manifest_key = ?",
			configID, period, manifestKey).
		First(&log).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// BeginProcessing creates the ledger row, or resets an existing one back to
// processing state for a retry.
func (s *IngestionLogStore) BeginProcessing(ctx context.Context, log *entity.IngestionLog) error {
	log.Status = entity.IngestionProcessing
	log.ErrorMessage = ""
	log.CompletedAt = nil
	if log.StartedAt.IsZero() {
		log.StartedAt = time.Now().UTC()
	}

	existing, err := s.Find(ctx, log.ExportConfigID, log.BillingPeriod, log.ManifestKey)
	if err != nil {
		return err
	}
	if existing != nil {
		log.ID = existing.ID
		return s.db.WithContext(ctx).Save(log).Error
	}
	return s.db.WithContext(ctx).Create(log).Error
}

func (s *IngestionLogStore) MarkCompleted(ctx context.Context, id uint, rows int64, totalCost float64, at time.Time) error {
	return s.db.WithContext(ctx).Model(&entity.IngestionLog{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         entity.IngestionCompleted,
			"rows_processed": rows,
			"total_cost":     totalCost,
			"completed_at":   at,
		}).Error
}

func (s *IngestionLogStore) MarkError(ctx context.Context, id uint, message string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&entity.IngestionLog{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        entity.IngestionError,
			"error_message": message,
			"completed_at":  at,
		}).Error
}
