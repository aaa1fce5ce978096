package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cloudlens/cost-ingest-go/internal/domain/entity"
)

type stubAdapter struct{ id string }

func (s *stubAdapter) ValidateCredentials(context.Context, *entity.Credentials) bool { return true }
func (s *stubAdapter) ResolveCredentials(context.Context, entity.CloudAccount) (*entity.Credentials, error) {
	return &entity.Credentials{}, nil
}
func (s *stubAdapter) FetchCostData(context.Context, *entity.Credentials, time.Time, time.Time) (entity.CostData, error) {
	return entity.CostData{}, nil
}
func (s *stubAdapter) SynthesizeDailyData(entity.CostData, time.Time, time.Time) []entity.DailyPoint {
	return nil
}
func (s *stubAdapter) FetchServiceDetails(context.Context, *entity.Credentials, string, time.Time, time.Time) ([]entity.ServiceCost, error) {
	return nil, nil
}
func (s *stubAdapter) FetchRecommendations(context.Context, *entity.Credentials, entity.RecommendationOptions) ([]entity.Recommendation, error) {
	return nil, nil
}

func TestRegistryLookupIsCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	aws := &stubAdapter{id: "aws"}
	r.Register("aws", aws, "amazon")

	assert.Same(t, aws, r.Lookup("aws"))
	assert.Same(t, aws, r.Lookup("AWS"))
	assert.Same(t, aws, r.Lookup("  Amazon "))
}

func TestRegistryUnknownProviderReturnsNil(t *testing.T) {
	r := NewRegistry()
	r.Register("aws", &stubAdapter{id: "aws"})

	assert.Nil(t, r.Lookup("azure"))
}

func TestRegistryCanonicalResolvesAliases(t *testing.T) {
	r := NewRegistry()
	r.Register("digitalocean", &stubAdapter{id: "do"}, "do")

	assert.Equal(t, "digitalocean", r.Canonical("DO"))
	assert.Equal(t, "digitalocean", r.Canonical("digitalocean"))
	assert.Equal(t, "azure", r.Canonical("Azure"), "unknown ids pass through lowercased")
}

func TestRegistryProvidersListsPrimariesOnly(t *testing.T) {
	r := NewRegistry()
	r.Register("aws", &stubAdapter{id: "aws"}, "amazon")
	r.Register("digitalocean", &stubAdapter{id: "do"}, "do")

	assert.Equal(t, []string{"aws", "digitalocean"}, r.Providers())
}
