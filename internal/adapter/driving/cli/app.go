// Package cli is the driving adapter: a cobra command tree over the
// ingestion use cases.
package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	awsadapter "github.com/cloudlens/cost-ingest-go/internal/adapter/driven/aws"
	"github.com/cloudlens/cost-ingest-go/internal/adapter/driven/cache"
	configrepo "github.com/cloudlens/cost-ingest-go/internal/adapter/driven/config"
	"github.com/cloudlens/cost-ingest-go/internal/adapter/driven/digitalocean"
	exportadapter "github.com/cloudlens/cost-ingest-go/internal/adapter/driven/export"
	"github.com/cloudlens/cost-ingest-go/internal/adapter/driven/notify"
	"github.com/cloudlens/cost-ingest-go/internal/adapter/driven/store"
	"github.com/cloudlens/cost-ingest-go/internal/application/usecase"
	"github.com/cloudlens/cost-ingest-go/internal/domain/entity"
	"github.com/cloudlens/cost-ingest-go/internal/logging"
	"github.com/cloudlens/cost-ingest-go/internal/provider"
	"github.com/cloudlens/cost-ingest-go/internal/resilience"
	"github.com/cloudlens/cost-ingest-go/pkg/console"
	"github.com/cloudlens/cost-ingest-go/pkg/version"
)

// App is the command-line application.
type App struct {
	rootCmd *cobra.Command
	out     *console.Console
}

// services holds everything a command needs after bootstrap.
type services struct {
	logger    *zap.Logger
	registry  *provider.Registry
	sync      *usecase.SyncUseCase
	exports   *usecase.ExportUseCase
	provision *usecase.ProvisionUseCase
	reports   *usecase.ReportUseCase
}

// NewApp builds the command tree.
func NewApp() *App {
	app := &App{out: console.NewConsole()}

	rootCmd := &cobra.Command{
		Use:     "cost-ingest",
		Short:   "Cloud cost ingestion core",
		Long:    "Pulls billing data from connected cloud accounts, ingests bulk cost exports, and persists normalized cost rows.",
		Version: version.FormatVersion(),
	}
	rootCmd.SetVersionTemplate(`{{printf "cost-ingest version: %s\n" .Version}}`)
	rootCmd.PersistentFlags().StringP("config-file", "C", "", "Path to a TOML, YAML, or JSON configuration file")

	rootCmd.AddCommand(app.syncCmd())
	rootCmd.AddCommand(app.pollExportsCmd())
	rootCmd.AddCommand(app.enableExportCmd())
	rootCmd.AddCommand(app.disableExportCmd())
	rootCmd.AddCommand(app.reportCmd())
	rootCmd.AddCommand(app.providersCmd())

	app.rootCmd = rootCmd
	return app
}

// Execute runs the CLI application.
func (app *App) Execute() error {
	displayBanner()
	return app.rootCmd.Execute()
}

// bootstrap loads config and wires the full service graph.
func (app *App) bootstrap(cmd *cobra.Command) (*services, error) {
	configFile, _ := cmd.Flags().GetString("config-file")
	cfg, err := configrepo.Load(configFile)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	costs := store.NewCostStore(db)
	accounts := store.NewAccountStore(db)
	exportConfigs := store.NewExportConfigStore(db)
	ledger := store.NewIngestionLogStore(db)
	notifier := notify.NewLogNotifier(logger)
	costCache := cache.NewMemoryCostCache(logger)

	registry := provider.NewRegistry()
	broker := awsadapter.NewCredentialBroker(cfg.AWS.Region)
	registry.Register("aws", awsadapter.NewAdapter(broker, logger), "amazon", "amazon-web-services")
	registry.Register("digitalocean", digitalocean.NewAdapter(logger), "do", "digital-ocean")

	breakers := resilience.NewRegistry(resilience.BreakerConfig{
		FailureThreshold: cfg.Resilience.FailureThreshold,
		Cooldown:         time.Duration(cfg.Resilience.CooldownSeconds) * time.Second,
		HalfOpenMax:      cfg.Resilience.HalfOpenMax,
		SuccessToClose:   cfg.Resilience.SuccessToClose,
	})
	executor := resilience.NewExecutor(breakers, resilience.RetryConfig{
		MaxAttempts:    cfg.Resilience.MaxAttempts,
		AttemptTimeout: time.Duration(cfg.Resilience.AttemptTimeoutSeconds) * time.Second,
		InitialDelay:   time.Duration(cfg.Resilience.InitialDelayMillis) * time.Millisecond,
		MaxDelay:       time.Duration(cfg.Resilience.MaxDelaySeconds) * time.Second,
		Factor:         2,
	}, logger)

	return &services{
		logger:   logger,
		registry: registry,
		sync: usecase.NewSyncUseCase(
			registry, executor, costs, accounts, notifier, costCache, logger),
		exports: usecase.NewExportUseCase(
			registry, executor, awsadapter.NewObjectStoreFactory(), awsadapter.NewCURDecoder(),
			costs, accounts, exportConfigs, ledger, notifier, costCache,
			cfg.Ingestion, logger),
		provision: usecase.NewProvisionUseCase(
			registry, awsadapter.NewExporter(logger), accounts, exportConfigs, logger),
		reports: usecase.NewReportUseCase(
			registry, costs, accounts, exportadapter.NewWriter(), logger),
	}, nil
}

func (app *App) syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Refresh API-sourced cost data for active accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := app.bootstrap(cmd)
			if err != nil {
				return err
			}
			defer svc.logger.Sync()

			status := app.out.Status("Syncing accounts")
			results, err := svc.sync.RunCycle(cmd.Context())
			status.Stop()
			if err != nil {
				return err
			}

			app.printSyncSummary(results)
			return nil
		},
	}
	return cmd
}

func (app *App) printSyncSummary(results []usecase.SyncResult) {
	rows := make([][]string, 0, len(results))
	failed := 0
	for _, r := range results {
		outcome := "ok"
		if r.Err != nil {
			outcome = r.Err.Error()
			failed++
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", r.AccountID), r.Provider, outcome,
		})
	}
	app.out.Table([]string{"Account", "Provider", "Result"}, rows)
	if failed > 0 {
		app.out.Warning("%d of %d accounts failed", failed, len(results))
		return
	}
	app.out.Success("Synced %d accounts", len(results))
}

func (app *App) pollExportsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll-exports",
		Short: "Poll export destinations and ingest finalized billing periods",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := app.bootstrap(cmd)
			if err != nil {
				return err
			}
			defer svc.logger.Sync()

			status := app.out.Status("Polling export destinations")
			results, err := svc.exports.PollExports(cmd.Context())
			status.Stop()
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(results))
			failed := 0
			for _, r := range results {
				outcome := "ok"
				if r.Err != nil {
					outcome = r.Err.Error()
					failed++
				}
				rows = append(rows, []string{
					fmt.Sprintf("%d", r.ConfigID),
					fmt.Sprintf("%d", r.AccountID),
					fmt.Sprintf("%d", r.PeriodsIngested),
					outcome,
				})
			}
			app.out.Table([]string{"Export", "Account", "Periods", "Result"}, rows)
			if failed > 0 {
				app.out.Warning("%d of %d exports failed", failed, len(results))
				return nil
			}
			app.out.Success("Polled %d exports", len(results))
			return nil
		},
	}
	return cmd
}

func (app *App) enableExportCmd() *cobra.Command {
	var accountID uint
	var spec entity.ExportSpec

	cmd := &cobra.Command{
		Use:   "enable-export",
		Short: "Provision a bulk cost export for an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := app.bootstrap(cmd)
			if err != nil {
				return err
			}
			defer svc.logger.Sync()

			if spec.Name == "" {
				spec.Name = fmt.Sprintf("cost-ingest-%d", accountID)
			}

			status := app.out.Status("Provisioning export resources")
			cfg, err := svc.provision.EnableExport(contextOf(cmd), accountID, spec)
			status.Stop()
			if err != nil {
				return err
			}

			app.out.Success("Export %s provisioned for account %d (destination s3://%s/%s)",
				cfg.ExportName, accountID, cfg.Bucket, cfg.Prefix)
			app.out.Info("First delivery usually arrives within 24 hours; polling will activate it automatically.")
			return nil
		},
	}

	cmd.Flags().UintVar(&accountID, "account", 0, "Connected account id")
	cmd.Flags().StringVar(&spec.Name, "export-name", "", "Export definition name (default cost-ingest-<account>)")
	cmd.Flags().StringVar(&spec.Bucket, "bucket", "", "Destination bucket")
	cmd.Flags().StringVar(&spec.Prefix, "prefix", "exports/", "Destination key prefix")
	cmd.Flags().StringVar(&spec.Region, "region", "us-east-1", "Destination bucket region")
	cmd.Flags().StringVar(&spec.OwnerAccountID, "owner-account", "", "Provider-side account number for the bucket policy")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("bucket")
	_ = cmd.MarkFlagRequired("owner-account")
	return cmd
}

func (app *App) disableExportCmd() *cobra.Command {
	var accountID uint

	cmd := &cobra.Command{
		Use:   "disable-export",
		Short: "Tear down an account's bulk cost export",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := app.bootstrap(cmd)
			if err != nil {
				return err
			}
			defer svc.logger.Sync()

			status := app.out.Status("Removing export resources")
			err = svc.provision.DisableExport(contextOf(cmd), accountID)
			status.Stop()
			if err != nil {
				app.out.Warning("%v", err)
				return nil
			}
			app.out.Success("Export disabled for account %d", accountID)
			return nil
		},
	}

	cmd.Flags().UintVar(&accountID, "account", 0, "Connected account id")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func (app *App) reportCmd() *cobra.Command {
	var days int
	var formats []string
	var name, dir string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write ingested cost data to report files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := app.bootstrap(cmd)
			if err != nil {
				return err
			}
			defer svc.logger.Sync()

			end := time.Now().UTC()
			start := end.AddDate(0, 0, -days)
			paths, err := svc.reports.Generate(contextOf(cmd), start, end, formats, name, dir)
			if err != nil {
				return err
			}
			for _, p := range paths {
				app.out.Success("Wrote %s", p)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&days, "days", "t", 30, "Days of history to include")
	cmd.Flags().StringSliceVarP(&formats, "format", "y", []string{"csv"}, "Report formats: csv, json, pdf")
	cmd.Flags().StringVarP(&name, "report-name", "n", "", "Base name for the report files")
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Directory for the report files")
	return cmd
}

func (app *App) providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List supported billing providers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := app.bootstrap(cmd)
			if err != nil {
				return err
			}
			defer svc.logger.Sync()

			app.out.Info("Supported providers: %s", strings.Join(svc.registry.Providers(), ", "))
			return nil
		},
	}
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
