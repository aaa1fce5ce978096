// Package digitalocean implements the billing adapter for DigitalOcean. The
// upstream API only exposes monthly totals, so the adapter synthesizes a
// daily series from them.
package digitalocean

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/digitalocean/godo"
	"go.uber.org/zap"

	"github.com/cloudlens/cost-ingest-go/internal/domain/entity"
	"github.com/cloudlens/cost-ingest-go/internal/provider"
	"github.com/cloudlens/cost-ingest-go/internal/shared/types"
)

// storedToken is the shape of the stored blob for DigitalOcean accounts.
type storedToken struct {
	Token string `json:"token"`
}

// Adapter implements the provider contract using the DigitalOcean API.
type Adapter struct {
	logger *zap.Logger

	// newClient is swappable in tests.
	newClient func(token string) *godo.Client
}

// NewAdapter creates the DigitalOcean billing adapter.
func NewAdapter(logger *zap.Logger) *Adapter {
	return &Adapter{
		logger:    logger,
		newClient: func(token string) *godo.Client { return godo.NewFromToken(token) },
	}
}

// ResolveCredentials unwraps the stored API token. DigitalOcean has no
// delegation mechanism, so only direct credentials are supported.
func (a *Adapter) ResolveCredentials(_ context.Context, account entity.CloudAccount) (*entity.Credentials, error) {
	if account.ConnectionKind != entity.ConnectionDirect {
		return nil, types.NewCredentialError(types.ReasonMissingConfiguration,
			"DigitalOcean connections use an API token. Reconnect the account with a personal access token.", nil)
	}
	var stored storedToken
	if err := json.Unmarshal(account.CredentialsJSON, &stored); err != nil || stored.Token == "" {
		return nil, types.NewCredentialError(types.ReasonMissingConfiguration,
			"This connection is missing its API token. Edit the connection and re-enter the token.", err)
	}
	return &entity.Credentials{Token: stored.Token}, nil
}

// ValidateCredentials checks the token against the account endpoint.
func (a *Adapter) ValidateCredentials(ctx context.Context, creds *entity.Credentials) bool {
	client := a.newClient(creds.Token)
	_, _, err := client.Account.Get(ctx)
	return err == nil
}

// FetchCostData reads the month-to-date balance and the most recent invoice.
// The API has no service or daily breakdown, so both stay empty.
func (a *Adapter) FetchCostData(ctx context.Context, creds *entity.Credentials, _, _ time.Time) (entity.CostData, error) {
	client := a.newClient(creds.Token)

	balance, _, err := client.Balance.Get(ctx)
	if err != nil {
		return entity.CostData{}, fmt.Errorf("fetch balance: %w", err)
	}

	var data entity.CostData
	data.CurrentMonthTotal, err = strconv.ParseFloat(balance.MonthToDateUsage, 64)
	if err != nil {
		return entity.CostData{}, fmt.Errorf("parse month-to-date usage %q: %w", balance.MonthToDateUsage, err)
	}

	data.LastMonthTotal = a.lastInvoiceTotal(ctx, client)
	return data, nil
}

// lastInvoiceTotal returns the previous month's invoice amount, or zero when
// billing history is unavailable.
func (a *Adapter) lastInvoiceTotal(ctx context.Context, client *godo.Client) float64 {
	invoices, _, err := client.Invoices.List(ctx, &godo.ListOptions{PerPage: 12})
	if err != nil {
		a.logger.Debug("invoice history unavailable", zap.Error(err))
		return 0
	}

	lastPeriod := time.Now().UTC().AddDate(0, -1, 0).Format("2006-01")
	for _, inv := range invoices.Invoices {
		if inv.InvoicePeriod == lastPeriod {
			total, err := strconv.ParseFloat(inv.Amount, 64)
			if err == nil {
				return total
			}
		}
	}
	return 0
}

// SynthesizeDailyData spreads the monthly total across the elapsed days of
// the current month.
func (a *Adapter) SynthesizeDailyData(data entity.CostData, _, end time.Time) []entity.DailyPoint {
	return provider.SynthesizeDaily(data.CurrentMonthTotal, end, time.Now().UTC())
}

// FetchServiceDetails is unsupported: the API exposes no per-service costs.
func (a *Adapter) FetchServiceDetails(_ context.Context, _ *entity.Credentials, _ string, _, _ time.Time) ([]entity.ServiceCost, error) {
	return nil, nil
}

// FetchRecommendations is unsupported for DigitalOcean.
func (a *Adapter) FetchRecommendations(_ context.Context, _ *entity.Credentials, _ entity.RecommendationOptions) ([]entity.Recommendation, error) {
	return nil, nil
}
