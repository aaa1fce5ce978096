package repository

import (
	"context"
	"time"

	"github.com/cloudlens/cost-ingest-go/internal/domain/entity"
)

// ProviderAdapter is the uniform contract every billing provider implements.
// Adding a provider means writing one implementation and registering it; no
// other component branches on provider identity.
type ProviderAdapter interface {
	// ValidateCredentials reports whether creds can reach the provider.
	ValidateCredentials(ctx context.Context, creds *entity.Credentials) bool

	// ResolveCredentials turns the stored account data into usable
	// credentials. Failures are returned as *types.CredentialError with a
	// user-actionable message.
	ResolveCredentials(ctx context.Context, account entity.CloudAccount) (*entity.Credentials, error)

	// FetchCostData runs a date-range cost-and-usage query grouped by
	// service, at daily granularity where the upstream supports it.
	FetchCostData(ctx context.Context, creds *entity.Credentials, start, end time.Time) (entity.CostData, error)

	// SynthesizeDailyData distributes a monthly total across elapsed days.
	// Adapters whose API already returned true daily granularity return nil.
	SynthesizeDailyData(data entity.CostData, start, end time.Time) []entity.DailyPoint

	// FetchServiceDetails breaks one service's cost down by usage type.
	FetchServiceDetails(ctx context.Context, creds *entity.Credentials, serviceName string, start, end time.Time) ([]entity.ServiceCost, error)

	// FetchRecommendations scans for cost-saving opportunities.
	FetchRecommendations(ctx context.Context, creds *entity.Credentials, opts entity.RecommendationOptions) ([]entity.Recommendation, error)
}
