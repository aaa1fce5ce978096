package aws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cloudlens/cost-ingest-go/internal/domain/entity"
)

func TestStripRegionPrefix(t *testing.T) {
	cases := map[string]string{
		"USE2-DataTransfer-Out-Bytes": "DataTransfer-Out-Bytes",
		"EUC1-BoxUsage:t3.micro":      "BoxUsage:t3.micro",
		"DataTransfer-In-Bytes":       "DataTransfer-In-Bytes",
		"Requests-Tier1":              "Requests-Tier1",
	}
	for in, want := range cases {
		assert.Equal(t, want, stripRegionPrefix(in), in)
	}
}

func TestSynthesizeDailyDataIsNilForAWS(t *testing.T) {
	a := NewAdapter(NewCredentialBroker("us-east-1"), nil)
	assert.Nil(t, a.SynthesizeDailyData(entity.CostData{CurrentMonthTotal: 100}, time.Time{}, time.Now()))
}

func TestMicrosToTime(t *testing.T) {
	assert.True(t, microsToTime(0).IsZero())

	ts := time.Date(2026, 6, 15, 3, 30, 0, 0, time.UTC)
	assert.Equal(t, ts, microsToTime(ts.UnixMicro()))
}
