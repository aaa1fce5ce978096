package entity

import "time"

// CostSource tags where a normalized cost row came from. Export-sourced rows
// are authoritative and supersede api-sourced rows for the same date.
type CostSource string

const (
	SourceAPI    CostSource = "api"
	SourceExport CostSource = "export"
)

// ServiceCost represents a cost amount for a specific provider service.
type ServiceCost struct {
	ServiceName string  `json:"service_name"`
	Cost        float64 `json:"cost"`
}

// DailyPoint is one day of cost, either returned by a provider API at daily
// granularity or synthesized from a monthly total.
type DailyPoint struct {
	Date time.Time `json:"date"`
	Cost float64   `json:"cost"`
}

// CostData is the normalized result of one provider cost query.
type CostData struct {
	CurrentMonthTotal float64       `json:"current_month_total"`
	LastMonthTotal    float64       `json:"last_month_total"`
	Forecast          float64       `json:"forecast,omitempty"`
	Credits           float64       `json:"credits,omitempty"`
	Services          []ServiceCost `json:"services"`
	// DailyPoints is empty when the upstream API only exposes monthly
	// totals; adapters then synthesize a series.
	DailyPoints []DailyPoint `json:"daily_points"`
}

// NormalizedCostPoint is the canonical persisted unit: one (user, provider,
// account, date, source) cost value. At most one row exists per key.
type NormalizedCostPoint struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    uint       `gorm:"uniqueIndex:idx_cost_point;not null" json:"user_id"`
	Provider  string     `gorm:"uniqueIndex:idx_cost_point;not null" json:"provider"`
	AccountID *uint      `gorm:"uniqueIndex:idx_cost_point" json:"account_id"`
	Date      time.Time  `gorm:"uniqueIndex:idx_cost_point;not null" json:"date"`
	Source    CostSource `gorm:"uniqueIndex:idx_cost_point;not null" json:"source"`
	Cost      float64    `json:"cost"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// MonthlySummary is the month-level cost bucket for one account. Service
// breakdown rows hang off it and are replaced wholesale on each update.
// TotalCost is chargeable usage only; tax is tracked separately.
type MonthlySummary struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	UserID        uint       `gorm:"uniqueIndex:idx_month_summary;not null" json:"user_id"`
	Provider      string     `gorm:"uniqueIndex:idx_month_summary;not null" json:"provider"`
	AccountID     *uint      `gorm:"uniqueIndex:idx_month_summary" json:"account_id"`
	Period        string     `gorm:"uniqueIndex:idx_month_summary;not null" json:"period"` // YYYY-MM
	TotalCost     float64    `json:"total_cost"`
	TaxCost       float64    `json:"tax_cost"`
	PercentChange *float64   `json:"percent_change,omitempty"`
	Source        CostSource `json:"source"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NormalizedServiceCost is one service line of a MonthlySummary. Rows for a
// summary are deleted and reinserted together, never merged field-by-field.
type NormalizedServiceCost struct {
	ID            uint     `gorm:"primaryKey" json:"id"`
	SummaryID     uint     `gorm:"index;not null" json:"summary_id"`
	ServiceName   string   `gorm:"not null" json:"service_name"`
	Cost          float64  `json:"cost"`
	PercentChange *float64 `json:"percent_change,omitempty"`
}

// ExportPeriodData is one finalized billing period aggregated from export
// files, ready for the atomic write path.
type ExportPeriodData struct {
	UserID    uint
	Provider  string
	AccountID *uint
	Period    string // YYYY-MM
	TotalCost float64
	TaxCost   float64
	Services  []ServiceCost
	Daily     []DailyPoint
}
