package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cloudlens/cost-ingest-go/internal/adapter/driven/export"
	"github.com/cloudlens/cost-ingest-go/internal/domain/repository"
	"github.com/cloudlens/cost-ingest-go/internal/provider"
)

// ReportUseCase renders ingested cost data to report files.
type ReportUseCase struct {
	registry *provider.Registry
	costs    repository.CostStore
	accounts repository.AccountStore
	writer   *export.Writer
	logger   *zap.Logger
}

// NewReportUseCase wires the report service.
func NewReportUseCase(registry *provider.Registry, costs repository.CostStore, accounts repository.AccountStore, writer *export.Writer, logger *zap.Logger) *ReportUseCase {
	return &ReportUseCase{registry: registry, costs: costs, accounts: accounts, writer: writer, logger: logger}
}

// Generate writes one report file per requested format and returns the
// output paths. The report covers every active account over [start, end].
func (uc *ReportUseCase) Generate(ctx context.Context, start, end time.Time, formats []string, name, dir string) ([]string, error) {
	accounts, err := uc.accounts.ListActiveAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active accounts: %w", err)
	}

	reports := make([]export.AccountReport, 0, len(accounts))
	for _, account := range accounts {
		// Cost rows are persisted under the canonical provider id, so an
		// account connected under an alias still resolves its data.
		providerID := uc.registry.Canonical(account.Provider)
		accountID := account.ID
		daily, err := uc.costs.GetDailyCosts(ctx, account.UserID, providerID, &accountID, start, end)
		if err != nil {
			return nil, fmt.Errorf("load daily costs for account %d: %w", account.ID, err)
		}

		total := 0.0
		for _, point := range daily {
			total += point.Cost
		}
		reports = append(reports, export.AccountReport{
			AccountID: account.ID,
			Provider:  providerID,
			Total:     provider.Round2(total),
			Daily:     daily,
		})
	}

	var paths []string
	for _, format := range formats {
		var path string
		var err error
		switch format {
		case "csv":
			path, err = uc.writer.WriteCSV(reports, name, dir)
		case "json":
			path, err = uc.writer.WriteJSON(reports, name, dir)
		case "pdf":
			path, err = uc.writer.WritePDF(reports, name, dir)
		default:
			return paths, fmt.Errorf("unsupported report format %q", format)
		}
		if err != nil {
			return paths, fmt.Errorf("write %s report: %w", format, err)
		}
		uc.logger.Info("report written", zap.String("path", path))
		paths = append(paths, path)
	}
	return paths, nil
}
