package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cloudlens/cost-ingest-go/internal/domain/entity"
	"github.com/cloudlens/cost-ingest-go/internal/shared/types"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(types.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	return db
}

func uintPtr(v uint) *uint { return &v }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestUpsertDailyPointsIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	s := NewCostStore(db)
	ctx := context.Background()

	points := []entity.NormalizedCostPoint{
		{UserID: 1, Provider: "aws", AccountID: uintPtr(7), Date: day(2026, 6, 1), Source: entity.SourceAPI, Cost: 4.2},
		{UserID: 1, Provider: "aws", AccountID: uintPtr(7), Date: day(2026, 6, 2), Source: entity.SourceAPI, Cost: 5.0},
	}
	require.NoError(t, s.UpsertDailyPoints(ctx, points))

	// Re-upserting the same key replaces the value, never duplicates.
	points[0].ID = 0
	points[1].ID = 0
	points[0].Cost = 9.9
	require.NoError(t, s.UpsertDailyPoints(ctx, points[:1]))

	var count int64
	require.NoError(t, db.Model(&entity.NormalizedCostPoint{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)

	rows, err := s.GetDailyCosts(ctx, 1, "aws", uintPtr(7), day(2026, 6, 1), day(2026, 6, 30))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.InDelta(t, 9.9, rows[0].Cost, 1e-9)
}

func TestGetDailyCostsPrefersExportSource(t *testing.T) {
	db := openTestDB(t)
	s := NewCostStore(db)
	ctx := context.Background()

	require.NoError(t, s.UpsertDailyPoints(ctx, []entity.NormalizedCostPoint{
		{UserID: 1, Provider: "aws", AccountID: uintPtr(7), Date: day(2026, 5, 10), Source: entity.SourceAPI, Cost: 3.0},
		{UserID: 1, Provider: "aws", AccountID: uintPtr(7), Date: day(2026, 5, 10), Source: entity.SourceExport, Cost: 2.5},
		{UserID: 1, Provider: "aws", AccountID: uintPtr(7), Date: day(2026, 5, 11), Source: entity.SourceAPI, Cost: 4.0},
	}))

	rows, err := s.GetDailyCosts(ctx, 1, "aws", uintPtr(7), day(2026, 5, 1), day(2026, 5, 31))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, entity.SourceExport, rows[0].Source)
	assert.InDelta(t, 2.5, rows[0].Cost, 1e-9)
	assert.Equal(t, entity.SourceAPI, rows[1].Source)
}

func TestUpsertMonthlySummaryReplacesServiceBreakdown(t *testing.T) {
	db := openTestDB(t)
	s := NewCostStore(db)
	ctx := context.Background()

	summary := entity.MonthlySummary{
		UserID: 1, Provider: "aws", AccountID: uintPtr(7),
		Period: "2026-06", TotalCost: 100, Source: entity.SourceAPI,
	}
	require.NoError(t, s.UpsertMonthlySummary(ctx, summary, []entity.ServiceCost{
		{ServiceName: "Amazon EC2", Cost: 60},
		{ServiceName: "Amazon S3", Cost: 40},
	}))

	summary.TotalCost = 120
	require.NoError(t, s.UpsertMonthlySummary(ctx, summary, []entity.ServiceCost{
		{ServiceName: "Amazon EC2", Cost: 120},
	}))

	var summaries []entity.MonthlySummary
	require.NoError(t, db.Find(&summaries).Error)
	require.Len(t, summaries, 1)
	assert.InDelta(t, 120, summaries[0].TotalCost, 1e-9)

	var services []entity.NormalizedServiceCost
	require.NoError(t, db.Where("summary_id = ?", summaries[0].ID).Find(&services).Error)
	require.Len(t, services, 1, "service rows are replaced wholesale")
	assert.Equal(t, "Amazon EC2", services[0].ServiceName)
}

func TestUpsertMonthlySummaryComputesPercentChange(t *testing.T) {
	db := openTestDB(t)
	s := NewCostStore(db)
	ctx := context.Background()

	may := entity.MonthlySummary{
		UserID: 1, Provider: "aws", AccountID: uintPtr(7),
		Period: "2026-05", TotalCost: 100, Source: entity.SourceExport,
	}
	require.NoError(t, s.UpsertMonthlySummary(ctx, may, nil))

	june := may
	june.Period = "2026-06"
	june.TotalCost = 150
	require.NoError(t, s.UpsertMonthlySummary(ctx, june, nil))

	var row entity.MonthlySummary
	require.NoError(t, db.Where("period = ?", "2026-06").First(&row).Error)
	require.NotNil(t, row.PercentChange)
	assert.InDelta(t, 50.0, *row.PercentChange, 1e-9)
}

func TestSaveExportPeriodIsAtomicAndRepeatable(t *testing.T) {
	db := openTestDB(t)
	s := NewCostStore(db)
	ctx := context.Background()

	period := entity.ExportPeriodData{
		UserID: 1, Provider: "aws", AccountID: uintPtr(7),
		Period:    "2026-06",
		TotalCost: 120.0,
		TaxCost:   9.6,
		Services:  []entity.ServiceCost{{ServiceName: "AmazonEC2", Cost: 120.0}},
		Daily: []entity.DailyPoint{
			{Date: day(2026, 6, 1), Cost: 60.0},
			{Date: day(2026, 6, 2), Cost: 60.0},
		},
	}
	require.NoError(t, s.SaveExportPeriod(ctx, period))
	require.NoError(t, s.SaveExportPeriod(ctx, period))

	var summaries []entity.MonthlySummary
	require.NoError(t, db.Find(&summaries).Error)
	require.Len(t, summaries, 1)
	assert.InDelta(t, 120.0, summaries[0].TotalCost, 1e-9, "total is usage only")
	assert.InDelta(t, 9.6, summaries[0].TaxCost, 1e-9, "tax is tracked on its own column")
	assert.Equal(t, entity.SourceExport, summaries[0].Source)

	var points []entity.NormalizedCostPoint
	require.NoError(t, db.Find(&points).Error)
	assert.Len(t, points, 2)
	for _, p := range points {
		assert.Equal(t, entity.SourceExport, p.Source)
	}
}

func TestExportConfigLifecycle(t *testing.T) {
	db := openTestDB(t)
	s := NewExportConfigStore(db)
	ctx := context.Background()

	cfg := &entity.ExportConfig{
		AccountID: 7, ExportName: "cost-ingest-7",
		Bucket: "billing-exports", Prefix: "exports/",
		Region: "us-east-1", Status: entity.ExportProvisioning,
	}
	require.NoError(t, s.Create(ctx, cfg))

	pollable, err := s.ListPollable(ctx)
	require.NoError(t, err)
	require.Len(t, pollable, 1)

	require.NoError(t, s.UpdateStatus(ctx, cfg.ID, entity.ExportError, "listing failed"))
	pollable, err = s.ListPollable(ctx)
	require.NoError(t, err)
	require.Len(t, pollable, 1, "errored exports stay pollable so they can recover")
	assert.Equal(t, "listing failed", pollable[0].StatusMessage)

	require.NoError(t, s.UpdateStatus(ctx, cfg.ID, entity.ExportActive, ""))
	ranAt := day(2026, 6, 15)
	require.NoError(t, s.MarkRun(ctx, cfg.ID, "exports/data/2026-06/part-0.parquet", ranAt))

	got, err := s.GetByAccount(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, entity.ExportActive, got.Status)
	assert.Equal(t, "exports/data/2026-06/part-0.parquet", got.LastManifest)
	require.NotNil(t, got.LastRunAt)

	require.NoError(t, s.Delete(ctx, cfg.ID))
	_, err = s.GetByAccount(ctx, 7)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestIngestionLedger(t *testing.T) {
	db := openTestDB(t)
	s := NewIngestionLogStore(db)
	ctx := context.Background()

	missing, err := s.Find(ctx, 1, "2026-06", "manifest-a")
	require.NoError(t, err)
	assert.Nil(t, missing)

	log := &entity.IngestionLog{
		ExportConfigID: 1, BillingPeriod: "2026-06", ManifestKey: "manifest-a",
	}
	require.NoError(t, s.BeginProcessing(ctx, log))
	require.NotZero(t, log.ID)
	assert.Equal(t, entity.IngestionProcessing, log.Status)

	require.NoError(t, s.MarkCompleted(ctx, log.ID, 1234, 120.0, day(2026, 7, 1)))
	got, err := s.Find(ctx, 1, "2026-06", "manifest-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entity.IngestionCompleted, got.Status)
	assert.EqualValues(t, 1234, got.RowsProcessed)

	// Re-beginning the same key reuses the row and clears terminal state.
	require.NoError(t, s.BeginProcessing(ctx, got))
	again, err := s.Find(ctx, 1, "2026-06", "manifest-a")
	require.NoError(t, err)
	assert.Equal(t, log.ID, again.ID)
	assert.Equal(t, entity.IngestionProcessing, again.Status)

	require.NoError(t, s.MarkError(ctx, log.ID, "decode failed", day(2026, 7, 1)))
	errored, err := s.Find(ctx, 1, "2026-06", "manifest-a")
	require.NoError(t, err)
	assert.Equal(t, entity.IngestionError, errored.Status)
	assert.Equal(t, "decode failed", errored.ErrorMessage)
}

func TestAccountStoreSetExportEnabled(t *testing.T) {
	db := openTestDB(t)
	s := NewAccountStore(db)
	ctx := context.Background()

	account := entity.CloudAccount{
		UserID: 1, Provider: "aws",
		ConnectionKind: entity.ConnectionDirect,
		Active:         true, ExportEnabled: true,
	}
	require.NoError(t, db.Create(&account).Error)

	inactive := entity.CloudAccount{
		UserID: 2, Provider: "aws",
		ConnectionKind: entity.ConnectionDirect,
		Active:         false,
	}
	require.NoError(t, db.Create(&inactive).Error)

	active, err := s.ListActiveAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, account.ID, active[0].ID)

	require.NoError(t, s.SetExportEnabled(ctx, account.ID, false))
	got, err := s.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.False(t, got.ExportEnabled)
}
