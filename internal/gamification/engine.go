// Package gamification turns user actions into points, streaks and badges.
//
// The engine is pure: callers load a user's Stats and earned badge codes,
// call Apply, and persist the returned Outcome.
package gamification

import (
	"fmt"
	"time"

	"github.com/GDIPSA-Team2/ecoplate/internal/wastemetrics"
)

type Action string

const (
	ActionConsumed Action = "consumed"
	ActionWasted   Action = "wasted"
	ActionShared   Action = "shared"
	ActionSold     Action = "sold"
	ActionBought   Action = "bought"
)

var pointTable = map[Action]int{
	ActionConsumed: 5,
	ActionShared:   10,
	ActionSold:     8,
	ActionBought:   3,
	ActionWasted:   -3,
}

func ParseAction(raw string) (Action, error) {
	a := Action(raw)
	if _, ok := pointTable[a]; !ok {
		return "", fmt.Errorf("unknown action %q", raw)
	}
	return a, nil
}

func PointsFor(a Action) int {
	return pointTable[a]
}

// Stats are the aggregated counters kept per user.
type Stats struct {
	UserID        string    `json:"userId" db:"user_id"`
	TotalPoints   int       `json:"totalPoints" db:"total_points"`
	Consumed      int       `json:"consumed" db:"consumed_count"`
	Wasted        int       `json:"wasted" db:"wasted_count"`
	Shared        int       `json:"shared" db:"shared_count"`
	Sold          int       `json:"sold" db:"sold_count"`
	Bought        int       `json:"bought" db:"bought_count"`
	CurrentStreak int       `json:"currentStreak" db:"current_streak"`
	LongestStreak int       `json:"longestStreak" db:"longest_streak"`
	LastActiveOn  time.Time `json:"lastActiveOn,omitzero" db:"last_active_on"`
}

// TotalActions counts pantry and marketplace disposals; purchases are excluded.
func (s Stats) TotalActions() int {
	return s.Consumed + s.Wasted + s.Shared + s.Sold
}

// WasteRate is the share of actions that were waste, by count.
func (s Stats) WasteRate() float64 {
	return wastemetrics.WasteRate(float64(s.Wasted), float64(s.TotalActions()))
}

type Award struct {
	Badge    Badge     `json:"badge"`
	EarnedAt time.Time `json:"earnedAt"`
}

// PointEvent is one ledger entry. Delta is what was actually applied after
// the zero floor.
type PointEvent struct {
	Action Action `json:"action"`
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

type Outcome struct {
	Stats  Stats        `json:"stats"`
	Events []PointEvent `json:"events"`
	Awards []Award      `json:"awards"`
}

func (o Outcome) PointsDelta() int {
	total := 0
	for _, ev := range o.Events {
		total += ev.Delta
	}
	return total
}

type Engine struct {
	loc *time.Location
}

func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{loc: loc}
}

// Apply records one action at the given time. earned holds the badge codes
// the user already owns; it is not modified.
func (e *Engine) Apply(stats Stats, earned map[string]bool, action Action, at time.Time) Outcome {
	out := Outcome{Stats: stats}
	s := &out.Stats

	switch action {
	case ActionConsumed:
		s.Consumed++
	case ActionWasted:
		s.Wasted++
	case ActionShared:
		s.Shared++
	case ActionSold:
		s.Sold++
	case ActionBought:
		s.Bought++
	}

	out.Events = append(out.Events, PointEvent{
		Action: action,
		Delta:  addPoints(s, PointsFor(action)),
		Reason: string(action),
	})
	e.updateStreak(s, action, at)

	owned := make(map[string]bool, len(earned))
	for code := range earned {
		owned[code] = true
	}
	out.evaluate(owned, at, func(Badge) bool { return true })
	// Bonus points from the first pass can cross a points threshold.
	out.evaluate(owned, at, func(b Badge) bool { return b.Metric == MetricPoints })
	return out
}

// Evaluate awards any badge whose predicate already holds without recording
// a new action. Used after catalogue reseeds.
func (e *Engine) Evaluate(stats Stats, earned map[string]bool, at time.Time) Outcome {
	out := Outcome{Stats: stats}
	owned := make(map[string]bool, len(earned))
	for code := range earned {
		owned[code] = true
	}
	out.evaluate(owned, at, func(Badge) bool { return true })
	out.evaluate(owned, at, func(b Badge) bool { return b.Metric == MetricPoints })
	return out
}

func (o *Outcome) evaluate(owned map[string]bool, at time.Time, include func(Badge) bool) {
	for _, b := range catalogue {
		if owned[b.Code] || !include(b) || !b.satisfied(o.Stats) {
			continue
		}
		owned[b.Code] = true
		o.Awards = append(o.Awards, Award{Badge: b, EarnedAt: at})
		if b.BonusPoints != 0 {
			o.Events = append(o.Events, PointEvent{
				Action: "badge",
				Delta:  addPoints(&o.Stats, b.BonusPoints),
				Reason: "badge:" + b.Code,
			})
		}
	}
}

func addPoints(s *Stats, delta int) int {
	next := s.TotalPoints + delta
	if next < 0 {
		next = 0
	}
	applied := next - s.TotalPoints
	s.TotalPoints = next
	return applied
}

func (e *Engine) updateStreak(s *Stats, action Action, at time.Time) {
	if action == ActionWasted {
		s.CurrentStreak = 0
		return
	}
	today := e.day(at)
	switch {
	case s.CurrentStreak == 0 || s.LastActiveOn.IsZero():
		s.CurrentStreak = 1
	default:
		gap := int(today.Sub(dateOnly(s.LastActiveOn)).Hours() / 24)
		switch {
		case gap < 0:
			// Backdated action; the streak has already moved past this day.
			return
		case gap == 0:
		case gap == 1:
			s.CurrentStreak++
		default:
			s.CurrentStreak = 1
		}
	}
	s.LastActiveOn = today
	if s.CurrentStreak > s.LongestStreak {
		s.LongestStreak = s.CurrentStreak
	}
}

// day truncates t to its calendar date in the engine's zone, expressed as
// UTC midnight so day arithmetic is not affected by DST.
func (e *Engine) day(t time.Time) time.Time {
	local := t.In(e.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// dateOnly drops the clock from a stored calendar date without shifting zones.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Location returns the zone used for calendar days.
func (e *Engine) Location() *time.Location {
	return e.loc
}
