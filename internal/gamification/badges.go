package gamification

type Metric string

const (
	MetricConsumed      Metric = "consumed"
	MetricShared        Metric = "shared"
	MetricSold          Metric = "sold"
	MetricBought        Metric = "bought"
	MetricLongestStreak Metric = "longest_streak"
	MetricPoints        Metric = "points"
	MetricWasteWatcher  Metric = "waste_watcher"
)

// Badge is one row of the fixed badge table.
type Badge struct {
	Code        string `json:"code" db:"code"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
	Category    string `json:"category" db:"category"`
	Metric      Metric `json:"metric" db:"metric"`
	Threshold   int    `json:"threshold" db:"threshold"`
	BonusPoints int    `json:"bonusPoints" db:"bonus_points"`
}

const (
	// wasteWatcherMaxRate is the highest waste rate, in percent, that still
	// qualifies for waste_watcher once the action threshold is met.
	wasteWatcherMaxRate = 10.0
)

var catalogue = []Badge{
	{Code: "first_bite", Name: "First Bite", Description: "Log your first consumed item.", Category: "pantry", Metric: MetricConsumed, Threshold: 1, BonusPoints: 10},
	{Code: "clean_plate", Name: "Clean Plate", Description: "Consume 10 items before they go off.", Category: "pantry", Metric: MetricConsumed, Threshold: 10, BonusPoints: 25},
	{Code: "pantry_master", Name: "Pantry Master", Description: "Consume 50 items before they go off.", Category: "pantry", Metric: MetricConsumed, Threshold: 50, BonusPoints: 100},
	{Code: "good_neighbour", Name: "Good Neighbour", Description: "Share food for the first time.", Category: "community", Metric: MetricShared, Threshold: 1, BonusPoints: 15},
	{Code: "community_hero", Name: "Community Hero", Description: "Share food 10 times.", Category: "community", Metric: MetricShared, Threshold: 10, BonusPoints: 75},
	{Code: "first_sale", Name: "First Sale", Description: "Sell surplus food for the first time.", Category: "marketplace", Metric: MetricSold, Threshold: 1, BonusPoints: 15},
	{Code: "market_regular", Name: "Market Regular", Description: "Sell surplus food 10 times.", Category: "marketplace", Metric: MetricSold, Threshold: 10, BonusPoints: 75},
	{Code: "rescuer", Name: "Rescuer", Description: "Buy 5 listings that would otherwise go to waste.", Category: "marketplace", Metric: MetricBought, Threshold: 5, BonusPoints: 25},
	{Code: "streak_3", Name: "On a Roll", Description: "Keep a 3 day sustainable streak.", Category: "streak", Metric: MetricLongestStreak, Threshold: 3, BonusPoints: 15},
	{Code: "streak_7", Name: "Week Warrior", Description: "Keep a 7 day sustainable streak.", Category: "streak", Metric: MetricLongestStreak, Threshold: 7, BonusPoints: 40},
	{Code: "streak_30", Name: "Habit Formed", Description: "Keep a 30 day sustainable streak.", Category: "streak", Metric: MetricLongestStreak, Threshold: 30, BonusPoints: 150},
	{Code: "points_100", Name: "Centurion", Description: "Reach 100 points.", Category: "points", Metric: MetricPoints, Threshold: 100, BonusPoints: 10},
	{Code: "points_500", Name: "High Scorer", Description: "Reach 500 points.", Category: "points", Metric: MetricPoints, Threshold: 500, BonusPoints: 25},
	{Code: "points_1000", Name: "Eco Legend", Description: "Reach 1000 points.", Category: "points", Metric: MetricPoints, Threshold: 1000, BonusPoints: 50},
	{Code: "waste_watcher", Name: "Waste Watcher", Description: "Log 20 actions while keeping waste at or below 10%.", Category: "pantry", Metric: MetricWasteWatcher, Threshold: 20, BonusPoints: 50},
}

// Catalogue returns a copy of the badge table in display order.
func Catalogue() []Badge {
	out := make([]Badge, len(catalogue))
	copy(out, catalogue)
	return out
}

func LookupBadge(code string) (Badge, bool) {
	for _, b := range catalogue {
		if b.Code == code {
			return b, true
		}
	}
	return Badge{}, false
}

// current returns the counter a badge is measured against.
func (b Badge) current(s Stats) int {
	switch b.Metric {
	case MetricConsumed:
		return s.Consumed
	case MetricShared:
		return s.Shared
	case MetricSold:
		return s.Sold
	case MetricBought:
		return s.Bought
	case MetricLongestStreak:
		return s.LongestStreak
	case MetricPoints:
		return s.TotalPoints
	case MetricWasteWatcher:
		return s.TotalActions()
	default:
		return 0
	}
}

func (b Badge) satisfied(s Stats) bool {
	if b.current(s) < b.Threshold {
		return false
	}
	if b.Metric == MetricWasteWatcher {
		return s.WasteRate() <= wasteWatcherMaxRate
	}
	return true
}
