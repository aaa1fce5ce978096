package usecase

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/cloudlens/cost-ingest-go/internal/domain/entity"
	"github.com/cloudlens/cost-ingest-go/internal/domain/repository"
	"github.com/cloudlens/cost-ingest-go/internal/provider"
	"github.com/cloudlens/cost-ingest-go/internal/shared/types"
)

// ProvisionUseCase creates and removes bulk export configurations.
type ProvisionUseCase struct {
	registry    *provider.Registry
	provisioner repository.ExportProvisioner
	accounts    repository.AccountStore
	configs     repository.ExportConfigStore
	logger      *zap.Logger
}

// NewProvisionUseCase wires the provisioning service.
func NewProvisionUseCase(
	registry *provider.Registry,
	provisioner repository.ExportProvisioner,
	accounts repository.AccountStore,
	configs repository.ExportConfigStore,
	logger *zap.Logger,
) *ProvisionUseCase {
	return &ProvisionUseCase{
		registry:    registry,
		provisioner: provisioner,
		accounts:    accounts,
		configs:     configs,
		logger:      logger,
	}
}

// EnableExport provisions the export resources for an account and records
// the configuration in provisioning state. Re-running after a partial
// failure is safe; provisioning steps tolerate existing state.
func (uc *ProvisionUseCase) EnableExport(ctx context.Context, accountID uint, spec entity.ExportSpec) (*entity.ExportConfig, error) {
	account, err := uc.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account %d: %w", accountID, err)
	}

	adapter := uc.registry.Lookup(account.Provider)
	if adapter == nil {
		return nil, fmt.Errorf("%q: %w", account.Provider, types.ErrUnsupportedProvider)
	}

	creds, err := adapter.ResolveCredentials(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}

	if err := uc.provisioner.Provision(ctx, creds, spec); err != nil {
		return nil, fmt.Errorf("provision export: %w", err)
	}

	cfg := entity.ExportConfig{
		AccountID:  accountID,
		ExportName: spec.Name,
		Bucket:     spec.Bucket,
		Prefix:     spec.Prefix,
		Region:     spec.Region,
		Status:     entity.ExportProvisioning,
	}
	if err := uc.configs.Create(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("record export config: %w", err)
	}

	uc.logger.Info("export enabled",
		zap.Uint("account_id", accountID),
		zap.String("export", spec.Name),
		zap.String("bucket", spec.Bucket))
	return &cfg, nil
}

// DisableExport tears down the export resources and deletes the
// configuration. Teardown steps are independent; their failures are combined
// and reported but do not stop the config deletion, so a half-deleted export
// never keeps polling.
func (uc *ProvisionUseCase) DisableExport(ctx context.Context, accountID uint) error {
	cfg, err := uc.configs.GetByAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load export config for account %d: %w", accountID, err)
	}

	account, err := uc.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account %d: %w", accountID, err)
	}

	adapter := uc.registry.Lookup(account.Provider)
	if adapter == nil {
		return fmt.Errorf("%q: %w", account.Provider, types.ErrUnsupportedProvider)
	}

	var teardownErr error
	creds, err := adapter.ResolveCredentials(ctx, account)
	if err != nil {
		// Without credentials the remote resources cannot be removed, but the
		// local configuration still must go.
		teardownErr = fmt.Errorf("resolve credentials: %w", err)
	} else {
		report := uc.provisioner.Teardown(ctx, creds, cfg)
		for _, step := range report.Failed() {
			teardownErr = multierr.Append(teardownErr,
				fmt.Errorf("%s: %w", step.Name, step.Err))
		}
	}

	if err := uc.configs.Delete(ctx, cfg.ID); err != nil {
		return multierr.Append(teardownErr, fmt.Errorf("delete export config: %w", err))
	}

	if teardownErr != nil {
		uc.logger.Warn("export disabled with incomplete teardown",
			zap.Uint("account_id", accountID),
			zap.String("steps", describeErr(teardownErr)))
		return fmt.Errorf("export disabled, some resources remain: %w", teardownErr)
	}

	uc.logger.Info("export disabled", zap.Uint("account_id", accountID))
	return nil
}

func describeErr(err error) string {
	parts := multierr.Errors(err)
	msgs := make([]string, 0, len(parts))
	for _, p := range parts {
		msgs = append(msgs, p.Error())
	}
	return strings.Join(msgs, "; ")
}
