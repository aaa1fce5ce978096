package export

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudlens/cost-ingest-go/internal/domain/entity"
)

func sampleReports() []AccountReport {
	return []AccountReport{{
		AccountID: 7,
		Provider:  "aws",
		Total:     9.5,
		Daily: []entity.NormalizedCostPoint{
			{UserID: 1, Provider: "aws", Date: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), Source: entity.SourceExport, Cost: 4.5},
			{UserID: 1, Provider: "aws", Date: time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC), Source: entity.SourceAPI, Cost: 5.0},
		},
	}}
}

func TestWriteCSV(t *testing.T) {
	w := NewWriter()
	path, err := w.WriteCSV(sampleReports(), "june", t.TempDir())
	require.NoError(t, err)

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"Account ID", "Provider", "Date", "Source", "Cost"}, records[0])
	assert.Equal(t, []string{"7", "aws", "2026-06-01", "export", "4.50"}, records[1])
}

func TestWriteJSON(t *testing.T) {
	w := NewWriter()
	path, err := w.WriteJSON(sampleReports(), "june", t.TempDir())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded []AccountReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 1)
	assert.EqualValues(t, 7, decoded[0].AccountID)
	assert.Len(t, decoded[0].Daily, 2)
}

func TestWritePDF(t *testing.T) {
	w := NewWriter()
	path, err := w.WritePDF(sampleReports(), "june", t.TempDir())
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestGenerateFilenameSanitizes(t *testing.T) {
	dir := t.TempDir()
	path, err := generateFilename("june report/7", dir, "csv")
	require.NoError(t, err)

	base := path[len(dir)+1:]
	assert.NotContains(t, base, " ")
	assert.NotContains(t, base, "/")
	assert.Contains(t, base, ".csv")
}
