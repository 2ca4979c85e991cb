// Package stats derives campaign roll-up metrics from delivery attempts.
package stats

import "github.com/voxdrop/voxdrop/internal/db"

// CampaignStats is the derived roll-up for one campaign. It is computed on
// demand by folding over the campaign's attempts and is never stored.
type CampaignStats struct {
	Total                  int     `json:"total"`
	Delivered              int     `json:"delivered"`
	Failed                 int     `json:"failed"`
	Pending                int     `json:"pending"`
	TotalCostCents         int     `json:"total_cost_cents"`
	DeliveryRate           float64 `json:"delivery_rate"`
	AverageDurationSeconds float64 `json:"average_duration_seconds"`
}

// Compute folds a campaign's delivery attempts into aggregate metrics.
// Only delivered counts toward the delivery rate; busy and no-answer are
// reported with failed, keeping their distinct reason on the attempt record.
func Compute(attempts []*db.DeliveryAttempt) CampaignStats {
	var s CampaignStats

	var durationSum, durationCount int
	for _, a := range attempts {
		s.Total++
		s.TotalCostCents += a.CostCents

		switch a.Status {
		case db.StatusDelivered:
			s.Delivered++
		case db.StatusFailed, db.StatusBusy, db.StatusNoAnswer:
			s.Failed++
		case db.StatusInitiated:
			s.Pending++
		default:
			// Unknown stored status still awaits a terminal callback.
			s.Pending++
		}

		if a.DurationSeconds != nil {
			durationSum += *a.DurationSeconds
			durationCount++
		}
	}

	if s.Total > 0 {
		s.DeliveryRate = float64(s.Delivered) / float64(s.Total) * 100
	}
	if durationCount > 0 {
		s.AverageDurationSeconds = float64(durationSum) / float64(durationCount)
	}

	return s
}
