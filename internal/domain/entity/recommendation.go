package entity

// RecommendationOptions narrows a recommendation scan.
type RecommendationOptions struct {
	Regions []string
}

// Recommendation is one cost-saving finding produced by a provider adapter.
type Recommendation struct {
	Category    string  `json:"category"`
	ResourceID  string  `json:"resource_id"`
	Region      string  `json:"region"`
	Description string  `json:"description"`
	// EstimatedMonthlySaving is zero when no reliable estimate exists.
	EstimatedMonthlySaving float64 `json:"estimated_monthly_saving,omitempty"`
}
