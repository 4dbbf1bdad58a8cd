package gamification

import "time"

type Progress struct {
	Badge    Badge      `json:"badge"`
	Current  int        `json:"current"`
	Target   int        `json:"target"`
	Percent  int        `json:"percent"`
	Earned   bool       `json:"earned"`
	EarnedAt *time.Time `json:"earnedAt,omitempty"`
}

// BadgeProgress reports progress towards every badge in the catalogue.
// earned maps badge codes to the time they were awarded.
func BadgeProgress(stats Stats, earned map[string]time.Time) []Progress {
	out := make([]Progress, 0, len(catalogue))
	for _, b := range catalogue {
		p := Progress{
			Badge:   b,
			Current: b.current(stats),
			Target:  b.Threshold,
		}
		if at, ok := earned[b.Code]; ok {
			at := at
			p.Earned = true
			p.EarnedAt = &at
			p.Percent = 100
		} else {
			p.Percent = percent(p.Current, p.Target)
			if b.Metric == MetricWasteWatcher && p.Percent == 100 && !b.satisfied(stats) {
				// Enough actions but too much waste.
				p.Percent = 99
			}
		}
		out = append(out, p)
	}
	return out
}

func percent(current, target int) int {
	if target <= 0 || current >= target {
		return 100
	}
	if current <= 0 {
		return 0
	}
	return current * 100 / target
}
