package entity

import "time"

// ExportStatus is the lifecycle state of a bulk export configuration.
type ExportStatus string

const (
	ExportProvisioning ExportStatus = "provisioning"
	ExportActive       ExportStatus = "active"
	ExportError        ExportStatus = "error"
)

// ExportConfig tracks one account's bulk cost export: where the provider
// delivers columnar files and how far ingestion has progressed.
type ExportConfig struct {
	ID            uint         `gorm:"primaryKey" json:"id"`
	AccountID     uint         `gorm:"uniqueIndex;not null" json:"account_id"`
	ExportName    string       `gorm:"not null" json:"export_name"`
	Bucket        string       `gorm:"not null" json:"bucket"`
	Prefix        string       `json:"prefix"`
	Region        string       `json:"region"`
	Status        ExportStatus `gorm:"index;not null" json:"status"`
	StatusMessage string       `json:"status_message"`
	LastManifest  string       `json:"last_manifest"`
	LastRunAt     *time.Time   `json:"last_run_at"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// IngestionStatus is the state of one billing period's ingestion attempt.
type IngestionStatus string

const (
	IngestionProcessing IngestionStatus = "processing"
	IngestionCompleted  IngestionStatus = "completed"
	IngestionError      IngestionStatus = "error"
)

// IngestionLog is the idempotency ledger: one row per (export config,
// billing period, manifest). A period whose log is completed is never
// aggregated or written again.
type IngestionLog struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	ExportConfigID uint            `gorm:"uniqueIndex:idx_ingestion_key;not null" json:"export_config_id"`
	BillingPeriod  string          `gorm:"uniqueIndex:idx_ingestion_key;not null" json:"billing_period"` // YYYY-MM
	ManifestKey    string          `gorm:"uniqueIndex:idx_ingestion_key;not null" json:"manifest_key"`
	Status         IngestionStatus `gorm:"index;not null" json:"status"`
	RowsProcessed  int64           `json:"rows_processed"`
	TotalCost      float64         `json:"total_cost"`
	ErrorMessage   string          `json:"error_message"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at"`
}

// LineItem is the subset of a columnar export row the aggregator consumes.
type LineItem struct {
	Type          string
	UnblendedCost float64
	UsageStart    time.Time
	ServiceName   string
}

// ObjectInfo describes one object in the export destination.
type ObjectInfo struct {
	Key  string
	Size int64
}

// ExportSpec carries the parameters used to provision a bulk export.
type ExportSpec struct {
	Name   string
	Bucket string
	Prefix string
	Region string
	// OwnerAccountID is the provider-side account number used in access
	// policy statements.
	OwnerAccountID string
}

// TeardownStep records the outcome of one independent teardown action.
type TeardownStep struct {
	Name string
	Err  error
}

// TeardownReport collects all teardown step results; later steps run even
// when earlier ones fail.
type TeardownReport struct {
	Steps []TeardownStep
}

// Failed returns the steps that ended in error.
func (r TeardownReport) Failed() []TeardownStep {
	var out []TeardownStep
	for _, s := range r.Steps {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}
