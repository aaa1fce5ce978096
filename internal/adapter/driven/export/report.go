// Package export writes ingested cost data to report files.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/cloudlens/cost-ingest-go/internal/domain/entity"
)

// AccountReport is one account's section of a cost report.
type AccountReport struct {
	AccountID uint                         `json:"account_id"`
	Provider  string                       `json:"provider"`
	Total     float64                      `json:"total"`
	Daily     []entity.NormalizedCostPoint `json:"daily"`
}

// Writer renders cost reports as CSV, JSON, or PDF files.
type Writer struct{}

// NewWriter creates a report writer.
func NewWriter() *Writer {
	return &Writer{}
}

var filenameSanitizer = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// generateFilename builds a collision-resistant output path.
func generateFilename(base, outputDir, ext string) (string, error) {
	if base == "" {
		base = "cost-report"
	}
	base = filenameSanitizer.ReplaceAllString(base, "_")
	stamp := time.Now().UTC().Format("20060102-150405")
	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return "", fmt.Errorf("create report directory: %w", err)
		}
	}
	return filepath.Join(outputDir, fmt.Sprintf("%s-%s.%s", base, stamp, ext)), nil
}

// WriteCSV writes one row per account per day.
func (w *Writer) WriteCSV(reports []AccountReport, filename, outputDir string) (string, error) {
	outputFilename, err := generateFilename(filename, outputDir, "csv")
	if err != nil {
		return "", err
	}

	file, err := os.Create(outputFilename)
	if err != nil {
		return "", fmt.Errorf("error creating CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"Account ID", "Provider", "Date", "Source", "Cost"}); err != nil {
		return "", err
	}
	for _, report := range reports {
		for _, point := range report.Daily {
			record := []string{
				fmt.Sprintf("%d", report.AccountID),
				report.Provider,
				point.Date.Format("2006-01-02"),
				string(point.Source),
				fmt.Sprintf("%.2f", point.Cost),
			}
			if err := writer.Write(record); err != nil {
				return "", err
			}
		}
	}
	return outputFilename, nil
}

// WriteJSON writes the report sections as a JSON document.
func (w *Writer) WriteJSON(reports []AccountReport, filename, outputDir string) (string, error) {
	outputFilename, err := generateFilename(filename, outputDir, "json")
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return "", fmt.Errorf("error marshaling report: %w", err)
	}
	if err := os.WriteFile(outputFilename, data, 0o644); err != nil {
		return "", fmt.Errorf("error writing JSON file: %w", err)
	}
	return outputFilename, nil
}

// WritePDF writes a tabular PDF summary, one table section per account.
func (w *Writer) WritePDF(reports []AccountReport, filename, outputDir string) (string, error) {
	outputFilename, err := generateFilename(filename, outputDir, "pdf")
	if err != nil {
		return "", err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(0, 10, "Cloud Cost Report")
	pdf.Ln(12)

	for _, report := range reports {
		pdf.SetFont("Arial", "B", 11)
		pdf.Cell(0, 8, fmt.Sprintf("Account %d (%s), total $%.2f",
			report.AccountID, report.Provider, report.Total))
		pdf.Ln(9)

		pdf.SetFont("Arial", "B", 9)
		pdf.CellFormat(35, 6, "Date", "1", 0, "", false, 0, "")
		pdf.CellFormat(25, 6, "Source", "1", 0, "", false, 0, "")
		pdf.CellFormat(30, 6, "Cost", "1", 1, "R", false, 0, "")

		pdf.SetFont("Arial", "", 9)
		for _, point := range report.Daily {
			pdf.CellFormat(35, 6, point.Date.Format("2006-01-02"), "1", 0, "", false, 0, "")
			pdf.CellFormat(25, 6, string(point.Source), "1", 0, "", false, 0, "")
			pdf.CellFormat(30, 6, fmt.Sprintf("$%.2f", point.Cost), "1", 1, "R", false, 0, "")
		}
		pdf.Ln(6)
	}

	if err := pdf.OutputFileAndClose(outputFilename); err != nil {
		return "", fmt.Errorf("error writing PDF file: %w", err)
	}
	return outputFilename, nil
}
