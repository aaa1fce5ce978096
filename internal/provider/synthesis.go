package provider

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/cloudlens/cost-ingest-go/internal/domain/entity"
)

// SynthesizeDaily distributes the month-to-date total evenly across the days
// elapsed in the current month, one point per day, each rounded to currency
// minor units. It is a deliberate flat distribution: it only feeds chart
// rendering, and export-sourced points supersede it once a period finalizes.
//
// The series is empty when total is not positive or when the window ends
// before the current month started.
func SynthesizeDaily(total float64, end, today time.Time) []entity.DailyPoint {
	if total <= 0 {
		return nil
	}

	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	effectiveEnd := end
	if today.Before(effectiveEnd) {
		effectiveEnd = today
	}
	effectiveEnd = truncateDay(effectiveEnd)
	if effectiveEnd.Before(monthStart) {
		return nil
	}

	daysElapsed := int(effectiveEnd.Sub(monthStart).Hours()/24) + 1
	perDay, _ := decimal.NewFromFloat(total).
		Div(decimal.NewFromInt(int64(daysElapsed))).
		Round(2).
		Float64()

	points := make([]entity.DailyPoint, 0, daysElapsed)
	for i := 0; i < daysElapsed; i++ {
		points = append(points, entity.DailyPoint{
			Date: monthStart.AddDate(0, 0, i),
			Cost: perDay,
		})
	}
	return points
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Round2 rounds a cost to currency minor units.
func Round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
