package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cloudlens/cost-ingest-go/internal/domain/entity"
	"github.com/cloudlens/cost-ingest-go/internal/domain/repository"
	"github.com/cloudlens/cost-ingest-go/internal/provider"
	"github.com/cloudlens/cost-ingest-go/internal/resilience"
	"github.com/cloudlens/cost-ingest-go/internal/shared/types"
)

// periodPattern extracts the YYYY-MM billing period from an export object
// key's data path.
var periodPattern = regexp.MustCompile(`/data/(\d{4}-\d{2})/`)

// usageLineTypes are the line-item types that count toward usage cost. Tax is
// accumulated separately; everything else is ignored.
var usageLineTypes = map[string]bool{
	"Usage":                   true,
	"DiscountedUsage":         true,
	"SavingsPlanCoveredUsage": true,
}

const maxErrorMessageLen = 500

// PollResult summarizes one export configuration's polling outcome.
type PollResult struct {
	ConfigID        uint
	AccountID       uint
	PeriodsIngested int
	Err             error
}

// ExportUseCase polls export destinations and ingests finalized billing
// periods through the columnar decoder.
type ExportUseCase struct {
	registry *provider.Registry
	executor *resilience.Executor
	objects  repository.ObjectStoreFactory
	decoder  repository.ExportDecoder
	costs    repository.CostStore
	accounts repository.AccountStore
	configs  repository.ExportConfigStore
	ledger   repository.IngestionLogStore
	notifier repository.Notifier
	cache    repository.CostCache
	cfg      types.IngestionConfig
	logger   *zap.Logger

	// now is swappable in tests.
	now func() time.Time
}

// NewExportUseCase wires the export polling service.
func NewExportUseCase(
	registry *provider.Registry,
	executor *resilience.Executor,
	objects repository.ObjectStoreFactory,
	decoder repository.ExportDecoder,
	costs repository.CostStore,
	accounts repository.AccountStore,
	configs repository.ExportConfigStore,
	ledger repository.IngestionLogStore,
	notifier repository.Notifier,
	cache repository.CostCache,
	cfg types.IngestionConfig,
	logger *zap.Logger,
) *ExportUseCase {
	return &ExportUseCase{
		registry: registry,
		executor: executor,
		objects:  objects,
		decoder:  decoder,
		costs:    costs,
		accounts: accounts,
		configs:  configs,
		ledger:   ledger,
		notifier: notifier,
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PollExports runs one polling cycle over every provisioning or active
// export. Failures are isolated per configuration.
func (uc *ExportUseCase) PollExports(ctx context.Context) ([]PollResult, error) {
	configs, err := uc.configs.ListPollable(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pollable exports: %w", err)
	}

	results := make([]PollResult, 0, len(configs))
	for _, cfg := range configs {
		ingested, err := uc.pollOne(ctx, cfg)
		if err != nil {
			uc.logger.Error("export poll failed",
				zap.Uint("config_id", cfg.ID),
				zap.Uint("account_id", cfg.AccountID),
				zap.Error(err))
			// Access failures already parked the config; everything else
			// records the error state and recovers on a later cycle.
			if !types.IsAccessError(err) {
				if serr := uc.configs.UpdateStatus(ctx, cfg.ID, entity.ExportError, truncateMessage(err.Error())); serr != nil {
					uc.logger.Error("failed to record export error state", zap.Error(serr))
				}
			}
		}
		results = append(results, PollResult{
			ConfigID:        cfg.ID,
			AccountID:       cfg.AccountID,
			PeriodsIngested: ingested,
			Err:             err,
		})
	}
	return results, nil
}

// pollOne ingests every discoverable period for one export configuration and
// returns how many periods were actually written.
func (uc *ExportUseCase) pollOne(ctx context.Context, cfg entity.ExportConfig) (int, error) {
	account, err := uc.accounts.GetAccount(ctx, cfg.AccountID)
	if err != nil {
		return 0, fmt.Errorf("load account %d: %w", cfg.AccountID, err)
	}

	if !account.ExportEnabled {
		// Access-parked until the owner reconnects; the account service
		// flips the flag back on.
		uc.logger.Debug("export disabled on account, skipping",
			zap.Uint("config_id", cfg.ID), zap.Uint("account_id", account.ID))
		return 0, nil
	}

	adapter := uc.registry.Lookup(account.Provider)
	if adapter == nil {
		return 0, fmt.Errorf("%q: %w", account.Provider, types.ErrUnsupportedProvider)
	}
	providerID := uc.registry.Canonical(account.Provider)

	var creds *entity.Credentials
	err = uc.executor.Do(ctx, providerID, func(ctx context.Context) error {
		var rerr error
		creds, rerr = adapter.ResolveCredentials(ctx, account)
		return rerr
	})
	if err != nil {
		var ce *types.CredentialError
		if errors.As(err, &ce) || types.IsAccessError(err) {
			return 0, uc.handleAccessFailure(ctx, cfg, account, err)
		}
		return 0, fmt.Errorf("resolve credentials: %w", err)
	}
	store := uc.objects.ForCredentials(creds)

	var objects []entity.ObjectInfo
	err = uc.executor.Do(ctx, providerID, func(ctx context.Context) error {
		var lerr error
		objects, lerr = store.List(ctx, cfg.Bucket, cfg.Prefix)
		return lerr
	})
	if err != nil {
		if types.IsAccessError(err) {
			return 0, uc.handleAccessFailure(ctx, cfg, account, err)
		}
		return 0, fmt.Errorf("list export destination: %w", err)
	}

	if cfg.Status == entity.ExportError {
		if err := uc.configs.UpdateStatus(ctx, cfg.ID, entity.ExportActive, ""); err != nil {
			return 0, fmt.Errorf("restore export: %w", err)
		}
		uc.logger.Info("export recovered", zap.Uint("config_id", cfg.ID))
	}

	periods := discoverPeriods(objects)
	if len(periods) == 0 {
		// Nothing delivered yet; provisioning exports stay pending.
		uc.logger.Debug("no export data yet",
			zap.Uint("config_id", cfg.ID), zap.String("status", string(cfg.Status)))
		return 0, nil
	}

	if cfg.Status == entity.ExportProvisioning {
		if err := uc.configs.UpdateStatus(ctx, cfg.ID, entity.ExportActive, ""); err != nil {
			return 0, fmt.Errorf("activate export: %w", err)
		}
		uc.logger.Info("export became active", zap.Uint("config_id", cfg.ID))
	}

	ingested := 0
	var lastManifest string
	for _, period := range periods {
		wrote, manifest, err := uc.ingestPeriod(ctx, cfg, account, store, period, objects)
		if err != nil {
			if types.IsAccessError(err) {
				return ingested, uc.handleAccessFailure(ctx, cfg, account, err)
			}
			return ingested, fmt.Errorf("ingest period %s: %w", period, err)
		}
		if wrote {
			ingested++
		}
		if manifest != "" {
			lastManifest = manifest
		}
	}

	if err := uc.configs.MarkRun(ctx, cfg.ID, lastManifest, uc.now()); err != nil {
		return ingested, fmt.Errorf("record run: %w", err)
	}
	return ingested, nil
}

// handleAccessFailure parks the export in error state, disables it on the
// account, and asks the owner to reconnect. Access failures never retry.
func (uc *ExportUseCase) handleAccessFailure(ctx context.Context, cfg entity.ExportConfig, account entity.CloudAccount, cause error) error {
	message := truncateMessage(cause.Error())
	if serr := uc.configs.UpdateStatus(ctx, cfg.ID, entity.ExportError, message); serr != nil {
		uc.logger.Error("failed to park export in error state", zap.Error(serr))
	}
	if serr := uc.accounts.SetExportEnabled(ctx, account.ID, false); serr != nil {
		uc.logger.Error("failed to disable export on account", zap.Error(serr))
	}
	userMessage := "Bulk cost export access was lost and ingestion is paused. Reconnect the account to restore it."
	var ce *types.CredentialError
	if errors.As(cause, &ce) {
		userMessage = ce.UserMessage()
	}
	if serr := uc.notifier.Notify(ctx, account.UserID, repository.NotifyExportDisabled, userMessage); serr != nil {
		uc.logger.Warn("notify failed", zap.Error(serr))
	}
	return fmt.Errorf("export access lost: %w", cause)
}

// discoverPeriods returns the distinct billing periods present in the
// destination, sorted ascending.
func discoverPeriods(objects []entity.ObjectInfo) []string {
	seen := make(map[string]bool)
	var periods []string
	for _, obj := range objects {
		m := periodPattern.FindStringSubmatch(obj.Key)
		if m == nil {
			continue
		}
		if !seen[m[1]] {
			seen[m[1]] = true
			periods = append(periods, m[1])
		}
	}
	sort.Strings(periods)
	return periods
}

// periodFiles returns the period's parquet files sorted by key.
func periodFiles(objects []entity.ObjectInfo, period string) []entity.ObjectInfo {
	marker := "/data/" + period + "/"
	var files []entity.ObjectInfo
	for _, obj := range objects {
		if strings.Contains(obj.Key, marker) && strings.HasSuffix(obj.Key, ".parquet") {
			files = append(files, obj)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Key < files[j].Key })
	return files
}

// ingestPeriod aggregates and persists one billing period unless the ledger
// shows it already done. It reports whether the period was written and the
// manifest key it ran against.
func (uc *ExportUseCase) ingestPeriod(ctx context.Context, cfg entity.ExportConfig, account entity.CloudAccount, store repository.ObjectStore, period string, objects []entity.ObjectInfo) (bool, string, error) {
	if period == uc.now().Format("2006-01") {
		// The running month's export data is still partial and the provider
		// overwrites it in place; the api-sourced series stays authoritative
		// until the month closes. No ledger row is written, so the finalized
		// delivery is ingested on a later cycle even under the same keys.
		uc.logger.Debug("skipping current-month period", zap.String("period", period))
		return false, "", nil
	}

	files := periodFiles(objects, period)
	if len(files) == 0 {
		return false, "", nil
	}
	// The first sorted key identifies this delivery; a re-export produces new
	// keys and therefore a new ledger row.
	manifestKey := files[0].Key

	existing, err := uc.ledger.Find(ctx, cfg.ID, period, manifestKey)
	if err != nil {
		return false, "", fmt.Errorf("read ingestion ledger: %w", err)
	}
	if existing != nil {
		switch existing.Status {
		case entity.IngestionCompleted:
			return false, manifestKey, nil
		case entity.IngestionProcessing:
			if uc.now().Sub(existing.StartedAt) < uc.cfg.ProcessingStaleAfter() {
				// Another worker (or a recent crash) owns this period.
				return false, manifestKey, nil
			}
			uc.logger.Warn("retrying stale processing period",
				zap.Uint("config_id", cfg.ID), zap.String("period", period))
		}
	}

	log := entity.IngestionLog{
		ExportConfigID: cfg.ID,
		BillingPeriod:  period,
		ManifestKey:    manifestKey,
		StartedAt:      uc.now(),
	}
	if existing != nil {
		log.ID = existing.ID
	}
	if err := uc.ledger.BeginProcessing(ctx, &log); err != nil {
		return false, "", fmt.Errorf("begin processing: %w", err)
	}

	agg, err := uc.aggregatePeriod(ctx, account, store, cfg, files)
	if err != nil {
		if merr := uc.ledger.MarkError(ctx, log.ID, truncateMessage(err.Error()), uc.now()); merr != nil {
			uc.logger.Error("failed to record ingestion error", zap.Error(merr))
		}
		return false, "", err
	}

	if err := uc.writePeriod(ctx, account, period, agg); err != nil {
		if merr := uc.ledger.MarkError(ctx, log.ID, truncateMessage(err.Error()), uc.now()); merr != nil {
			uc.logger.Error("failed to record ingestion error", zap.Error(merr))
		}
		return false, "", err
	}

	// The ledger's total is chargeable usage; tax is tracked separately.
	usage, _ := agg.usage.Round(2).Float64()
	if err := uc.ledger.MarkCompleted(ctx, log.ID, agg.rows, usage, uc.now()); err != nil {
		return true, "", fmt.Errorf("complete ledger row: %w", err)
	}
	uc.cache.InvalidateUser(ctx, account.UserID)

	uc.logger.Info("period ingested",
		zap.Uint("config_id", cfg.ID),
		zap.String("period", period),
		zap.Int64("rows", agg.rows))
	return true, manifestKey, nil
}

// periodAggregate folds line items into usage, tax, per-service, and per-day
// totals with exact decimal arithmetic.
type periodAggregate struct {
	mu       sync.Mutex
	usage    decimal.Decimal
	tax      decimal.Decimal
	services map[string]decimal.Decimal
	daily    map[time.Time]decimal.Decimal
	rows     int64
}

func newPeriodAggregate() *periodAggregate {
	return &periodAggregate{
		services: make(map[string]decimal.Decimal),
		daily:    make(map[time.Time]decimal.Decimal),
	}
}

func (a *periodAggregate) add(item entity.LineItem) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows++

	cost := decimal.NewFromFloat(item.UnblendedCost)
	if item.Type == "Tax" {
		a.tax = a.tax.Add(cost)
		return
	}
	if !usageLineTypes[item.Type] {
		return
	}

	a.usage = a.usage.Add(cost)
	if item.ServiceName != "" {
		a.services[item.ServiceName] = a.services[item.ServiceName].Add(cost)
	}
	if !item.UsageStart.IsZero() {
		day := time.Date(item.UsageStart.Year(), item.UsageStart.Month(), item.UsageStart.Day(), 0, 0, 0, 0, time.UTC)
		a.daily[day] = a.daily[day].Add(cost)
	}
}

// merge folds another aggregate in, used to commit one file's rows only
// after the whole file decoded cleanly.
func (a *periodAggregate) merge(b *periodAggregate) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows += b.rows
	a.usage = a.usage.Add(b.usage)
	a.tax = a.tax.Add(b.tax)
	for name, cost := range b.services {
		a.services[name] = a.services[name].Add(cost)
	}
	for day, cost := range b.daily {
		a.daily[day] = a.daily[day].Add(cost)
	}
}

// aggregatePeriod downloads and decodes the period's files with bounded
// concurrency, skipping files over the size ceiling.
func (uc *ExportUseCase) aggregatePeriod(ctx context.Context, account entity.CloudAccount, store repository.ObjectStore, cfg entity.ExportConfig, files []entity.ObjectInfo) (*periodAggregate, error) {
	agg := newPeriodAggregate()
	providerID := uc.registry.Canonical(account.Provider)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.cfg.FileConcurrency)

	for _, file := range files {
		file := file
		if file.Size > uc.cfg.MaxFileSizeBytes {
			uc.logger.Warn("skipping oversized export file",
				zap.String("key", file.Key),
				zap.Int64("size", file.Size),
				zap.Int64("ceiling", uc.cfg.MaxFileSizeBytes))
			continue
		}
		g.Go(func() error {
			return uc.consumeFile(gctx, providerID, store, cfg.Bucket, file, agg)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return agg, nil
}

func (uc *ExportUseCase) consumeFile(ctx context.Context, providerID string, store repository.ObjectStore, bucket string, file entity.ObjectInfo, agg *periodAggregate) error {
	var body io.ReadCloser
	var size int64
	err := uc.executor.Do(ctx, providerID, func(ctx context.Context) error {
		var derr error
		body, size, derr = store.Download(ctx, bucket, file.Key)
		return derr
	})
	if err != nil {
		return err
	}
	defer body.Close()

	// Malformed data skips the file, never the period. Rows are staged in a
	// local aggregate so a mid-stream decode failure contributes nothing.
	reader, err := uc.decoder.Open(ctx, body, size)
	if err != nil {
		uc.logger.Warn("skipping malformed export file",
			zap.String("key", file.Key), zap.Error(err))
		return nil
	}
	defer reader.Close()

	local := newPeriodAggregate()
	for {
		item, err := reader.Next()
		if err == io.EOF {
			agg.merge(local)
			return nil
		}
		if err != nil {
			uc.logger.Warn("skipping malformed export file",
				zap.String("key", file.Key), zap.Error(err))
			return nil
		}
		local.add(item)
	}
}

// writePeriod persists a finalized period atomically.
func (uc *ExportUseCase) writePeriod(ctx context.Context, account entity.CloudAccount, period string, agg *periodAggregate) error {
	services := make([]entity.ServiceCost, 0, len(agg.services))
	for name, cost := range agg.services {
		f, _ := cost.Round(2).Float64()
		services = append(services, entity.ServiceCost{ServiceName: name, Cost: f})
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Cost > services[j].Cost })

	days := make([]time.Time, 0, len(agg.daily))
	for day := range agg.daily {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	daily := make([]entity.DailyPoint, 0, len(days))
	for _, day := range days {
		f, _ := agg.daily[day].Round(2).Float64()
		daily = append(daily, entity.DailyPoint{Date: day, Cost: f})
	}

	usage, _ := agg.usage.Round(2).Float64()
	tax, _ := agg.tax.Round(2).Float64()
	accountID := account.ID

	err := uc.costs.SaveExportPeriod(ctx, entity.ExportPeriodData{
		UserID:    account.UserID,
		Provider:  uc.registry.Canonical(account.Provider),
		AccountID: &accountID,
		Period:    period,
		TotalCost: usage,
		TaxCost:   tax,
		Services:  services,
		Daily:     daily,
	})
	if err != nil {
		return fmt.Errorf("persist period %s: %w", period, err)
	}
	return nil
}

func truncateMessage(s string) string {
	if len(s) <= maxErrorMessageLen {
		return s
	}
	return s[:maxErrorMessageLen]
}
