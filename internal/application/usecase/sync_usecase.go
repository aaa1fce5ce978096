// Package usecase holds the application services driving the ingestion core:
// API-sourced cost sync, bulk export polling, and export provisioning.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/cloudlens/cost-ingest-go/internal/domain/entity"
	"github.com/cloudlens/cost-ingest-go/internal/domain/repository"
	"github.com/cloudlens/cost-ingest-go/internal/provider"
	"github.com/cloudlens/cost-ingest-go/internal/resilience"
	"github.com/cloudlens/cost-ingest-go/internal/shared/types"
)

// SyncResult summarizes one account's sync outcome.
type SyncResult struct {
	AccountID uint
	Provider  string
	Synced    bool
	Err       error
}

// SyncUseCase refreshes API-sourced cost data for connected accounts.
type SyncUseCase struct {
	registry *provider.Registry
	executor *resilience.Executor
	costs    repository.CostStore
	accounts repository.AccountStore
	notifier repository.Notifier
	cache    repository.CostCache
	logger   *zap.Logger

	// now is swappable in tests.
	now func() time.Time
}

// NewSyncUseCase wires the sync service.
func NewSyncUseCase(
	registry *provider.Registry,
	executor *resilience.Executor,
	costs repository.CostStore,
	accounts repository.AccountStore,
	notifier repository.Notifier,
	cache repository.CostCache,
	logger *zap.Logger,
) *SyncUseCase {
	return &SyncUseCase{
		registry: registry,
		executor: executor,
		costs:    costs,
		accounts: accounts,
		notifier: notifier,
		cache:    cache,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RunCycle syncs every active account. One account's failure never stops the
// others; each failure is captured in its result.
func (uc *SyncUseCase) RunCycle(ctx context.Context) ([]SyncResult, error) {
	accounts, err := uc.accounts.ListActiveAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active accounts: %w", err)
	}

	results := make([]SyncResult, 0, len(accounts))
	for _, account := range accounts {
		err := uc.SyncAccount(ctx, account)
		if err != nil {
			uc.logger.Error("account sync failed",
				zap.Uint("account_id", account.ID),
				zap.String("provider", account.Provider),
				zap.Error(err))
		}
		results = append(results, SyncResult{
			AccountID: account.ID,
			Provider:  account.Provider,
			Synced:    err == nil,
			Err:       err,
		})
	}

	failed := lo.CountBy(results, func(r SyncResult) bool { return !r.Synced })
	uc.logger.Info("sync cycle finished",
		zap.Int("accounts", len(results)),
		zap.Int("failed", failed))
	return results, nil
}

// SyncAccount pulls one account's cost data through its provider adapter and
// persists the normalized result.
func (uc *SyncUseCase) SyncAccount(ctx context.Context, account entity.CloudAccount) error {
	adapter := uc.registry.Lookup(account.Provider)
	if adapter == nil {
		return fmt.Errorf("%q: %w", account.Provider, types.ErrUnsupportedProvider)
	}
	providerID := uc.registry.Canonical(account.Provider)

	var creds *entity.Credentials
	err := uc.executor.Do(ctx, providerID, func(ctx context.Context) error {
		var rerr error
		creds, rerr = adapter.ResolveCredentials(ctx, account)
		return rerr
	})
	if err != nil {
		var ce *types.CredentialError
		if errors.As(err, &ce) {
			if nerr := uc.notifier.Notify(ctx, account.UserID, repository.NotifyReconnectRequired, ce.UserMessage()); nerr != nil {
				uc.logger.Warn("notify failed", zap.Error(nerr))
			}
		}
		return fmt.Errorf("resolve credentials: %w", err)
	}

	today := uc.now()
	start := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := today

	var data entity.CostData
	err = uc.executor.Do(ctx, providerID, func(ctx context.Context) error {
		var ferr error
		data, ferr = adapter.FetchCostData(ctx, creds, start, end)
		return ferr
	})
	if err != nil {
		return fmt.Errorf("fetch cost data: %w", err)
	}

	daily := data.DailyPoints
	if len(daily) == 0 {
		daily = adapter.SynthesizeDailyData(data, start, end)
	}

	accountID := account.ID
	points := lo.Map(daily, func(p entity.DailyPoint, _ int) entity.NormalizedCostPoint {
		return entity.NormalizedCostPoint{
			UserID:    account.UserID,
			Provider:  providerID,
			AccountID: &accountID,
			Date:      p.Date,
			Source:    entity.SourceAPI,
			Cost:      p.Cost,
		}
	})
	if err := uc.costs.UpsertDailyPoints(ctx, points); err != nil {
		return fmt.Errorf("persist daily points: %w", err)
	}

	summary := entity.MonthlySummary{
		UserID:    account.UserID,
		Provider:  providerID,
		AccountID: &accountID,
		Period:    today.Format("2006-01"),
		TotalCost: provider.Round2(data.CurrentMonthTotal),
		Source:    entity.SourceAPI,
	}
	if err := uc.costs.UpsertMonthlySummary(ctx, summary, data.Services); err != nil {
		return fmt.Errorf("persist monthly summary: %w", err)
	}

	uc.cache.InvalidateUser(ctx, account.UserID)
	uc.logger.Info("account synced",
		zap.Uint("account_id", account.ID),
		zap.String("provider", providerID),
		zap.Float64("month_to_date", summary.TotalCost),
		zap.Int("daily_points", len(points)))
	return nil
}
