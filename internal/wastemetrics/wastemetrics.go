// Package wastemetrics aggregates pantry interaction events into waste,
// carbon and money figures for a reporting period.
package wastemetrics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
	PeriodAll   Period = "all"
)

const (
	TypeConsumed = "consumed"
	TypeWasted   = "wasted"
	TypeShared   = "shared"
	TypeSold     = "sold"
)

// unitKg converts one unit of quantity to kilograms. Liquids are taken at
// water density; a piece is counted as 200 g.
var unitKg = map[string]float64{
	"kg":  1,
	"g":   0.001,
	"l":   1,
	"ml":  0.001,
	"pcs": 0.2,
}

// co2eFactors are kg CO2e emitted per kg of food.
var co2eFactors = map[string]float64{
	"meat":      27,
	"seafood":   12,
	"dairy":     3.2,
	"eggs":      4.8,
	"produce":   0.9,
	"bakery":    1.6,
	"grains":    1.4,
	"beverages": 0.6,
	"prepared":  2.5,
	"other":     2.0,
}

type Event struct {
	Type           string
	Quantity       float64
	Unit           string
	Category       string
	UnitPriceCents int64
	At             time.Time
}

type TypeTotal struct {
	Kg    float64 `json:"kg"`
	Count int     `json:"count"`
}

type DailyBucket struct {
	Date     string  `json:"date"`
	Consumed float64 `json:"consumedKg"`
	Wasted   float64 `json:"wastedKg"`
	Shared   float64 `json:"sharedKg"`
	Sold     float64 `json:"soldKg"`
}

type Report struct {
	Period           Period        `json:"period"`
	From             *time.Time    `json:"from,omitempty"`
	To               time.Time     `json:"to"`
	Consumed         TypeTotal     `json:"consumed"`
	Wasted           TypeTotal     `json:"wasted"`
	Shared           TypeTotal     `json:"shared"`
	Sold             TypeTotal     `json:"sold"`
	WasteRate        float64       `json:"wasteRate"`
	CO2eSavedKg      float64       `json:"co2eSavedKg"`
	CO2eWastedKg     float64       `json:"co2eWastedKg"`
	MoneySavedCents  int64         `json:"moneySavedCents"`
	MoneyWastedCents int64         `json:"moneyWastedCents"`
	Daily            []DailyBucket `json:"daily"`
}

func ParsePeriod(raw string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return PeriodMonth, nil
	case PeriodDay, PeriodWeek, PeriodMonth, PeriodYear, PeriodAll:
		return p, nil
	default:
		return "", fmt.Errorf("unknown period %q", raw)
	}
}

// Start returns the first instant included in the period ending at now, or
// the zero time for PeriodAll. Day and week are calendar aligned in loc.
func (p Period) Start(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	switch p {
	case PeriodDay:
		return midnight
	case PeriodWeek:
		return midnight.AddDate(0, 0, -6)
	case PeriodMonth:
		return midnight.AddDate(0, -1, 0)
	case PeriodYear:
		return midnight.AddDate(-1, 0, 0)
	default:
		return time.Time{}
	}
}

func ToKg(quantity float64, unit string) float64 {
	factor, ok := unitKg[strings.ToLower(unit)]
	if !ok {
		factor = 1
	}
	return quantity * factor
}

func CO2eFactor(category string) float64 {
	if f, ok := co2eFactors[strings.ToLower(category)]; ok {
		return f
	}
	return co2eFactors["other"]
}

// WasteRate is wasted/total as a percentage rounded to one decimal.
func WasteRate(wasted, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return round(wasted/total*100, 1)
}

// Calculate aggregates the events that fall inside period. Events of any
// other type are ignored.
func Calculate(events []Event, period Period, now time.Time, loc *time.Location) Report {
	if loc == nil {
		loc = time.UTC
	}
	start := period.Start(now, loc)
	report := Report{Period: period, To: now, Daily: []DailyBucket{}}
	if !start.IsZero() {
		report.From = &start
	}

	buckets := map[string]*DailyBucket{}
	var savedMoney, wastedMoney float64

	for _, ev := range events {
		if !start.IsZero() && ev.At.Before(start) {
			continue
		}
		if ev.At.After(now) || ev.Quantity <= 0 {
			continue
		}
		kg := ToKg(ev.Quantity, ev.Unit)
		money := ev.Quantity * float64(ev.UnitPriceCents)
		co2e := kg * CO2eFactor(ev.Category)

		day := ev.At.In(loc).Format(time.DateOnly)
		bucket, ok := buckets[day]
		if !ok {
			bucket = &DailyBucket{Date: day}
			buckets[day] = bucket
		}

		switch ev.Type {
		case TypeConsumed:
			report.Consumed.add(kg)
			bucket.Consumed += kg
		case TypeShared:
			report.Shared.add(kg)
			bucket.Shared += kg
		case TypeSold:
			report.Sold.add(kg)
			bucket.Sold += kg
		case TypeWasted:
			report.Wasted.add(kg)
			bucket.Wasted += kg
			report.CO2eWastedKg += co2e
			wastedMoney += money
			continue
		default:
			continue
		}
		report.CO2eSavedKg += co2e
		savedMoney += money
	}

	total := report.Consumed.Kg + report.Wasted.Kg + report.Shared.Kg + report.Sold.Kg
	report.WasteRate = WasteRate(report.Wasted.Kg, total)
	report.MoneySavedCents = int64(math.Round(savedMoney))
	report.MoneyWastedCents = int64(math.Round(wastedMoney))
	report.CO2eSavedKg = round(report.CO2eSavedKg, 2)
	report.CO2eWastedKg = round(report.CO2eWastedKg, 2)
	for _, t := range []*TypeTotal{&report.Consumed, &report.Wasted, &report.Shared, &report.Sold} {
		t.Kg = round(t.Kg, 3)
	}

	for _, b := range buckets {
		if b.Consumed+b.Wasted+b.Shared+b.Sold == 0 {
			continue
		}
		b.Consumed = round(b.Consumed, 3)
		b.Wasted = round(b.Wasted, 3)
		b.Shared = round(b.Shared, 3)
		b.Sold = round(b.Sold, 3)
		report.Daily = append(report.Daily, *b)
	}
	sort.Slice(report.Daily, func(i, j int) bool {
		return report.Daily[i].Date < report.Daily[j].Date
	})
	return report
}

func (t *TypeTotal) add(kg float64) {
	t.Kg += kg
	t.Count++
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
