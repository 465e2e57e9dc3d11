package store

import "papertrader/internal/models"

type MergeStats struct {
	Added    int `json:"added"`
	Replaced int `json:"replaced"`
	Kept     int `json:"kept"`
}

func (s MergeStats) Changed() bool {
	return s.Added > 0 || s.Replaced > 0
}

// Merge reconciles incoming trades into local by business key. Local order is kept and
// unseen keys are appended in incoming order. An incoming record replaces the existing one
// only when it is more complete: existing OPEN and incoming CLOSED, or both closed with a
// strictly later close time. Duplicate keys inside local collapse by the same rule.
func Merge(local, incoming []models.Trade) ([]models.Trade, MergeStats) {
	var stats MergeStats
	out := make([]models.Trade, 0, len(local)+len(incoming))
	index := make(map[string]int, len(local)+len(incoming))

	for _, tr := range local {
		key := models.BusinessKey(tr)
		if i, ok := index[key]; ok {
			if Prefer(out[i], tr) {
				out[i] = tr.Clone()
			}
			continue
		}
		index[key] = len(out)
		out = append(out, tr.Clone())
	}

	for _, tr := range incoming {
		key := models.BusinessKey(tr)
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, tr.Clone())
			stats.Added++
			continue
		}
		if Prefer(out[i], tr) {
			out[i] = tr.Clone()
			stats.Replaced++
			continue
		}
		stats.Kept++
	}
	return out, stats
}

// Prefer reports whether incoming should replace existing.
func Prefer(existing, incoming models.Trade) bool {
	if existing.IsOpen() && incoming.Status == models.StatusClosed {
		return true
	}
	if existing.CloseTime != nil && incoming.CloseTime != nil {
		return *incoming.CloseTime > *existing.CloseTime
	}
	return false
}
