// Package optimizer packs a day's production batches into the cheapest
// contiguous hourly windows, given a 24-hour price forecast, climate
// context, and the plant's fixed machine sequence.
package optimizer

import (
	"fmt"
	"sort"
	"time"

	"github.com/aristath/chocofactory/internal/apperrors"
)

// Machine is one stage of the fixed production sequence every batch
// passes through in order.
type Machine string

const (
	MachineMezcladora Machine = "Mezcladora"
	MachineRoladora   Machine = "Roladora"
	MachineConchadora Machine = "Conchadora"
	MachineTempladora Machine = "Templadora"
)

// Sequence is the fixed machine order every batch runs through.
var Sequence = []Machine{MachineMezcladora, MachineRoladora, MachineConchadora, MachineTempladora}

// BatchGrade determines a batch's total duration.
type BatchGrade string

const (
	GradeStandard      BatchGrade = "standard"
	GradePremium       BatchGrade = "premium"
	GradeUltraPremium  BatchGrade = "ultra_premium"
)

// durationFor maps a grade to its total processing duration across the
// whole machine sequence.
var durationFor = map[BatchGrade]time.Duration{
	GradeStandard:     6 * time.Hour,
	GradePremium:      12 * time.Hour,
	GradeUltraPremium: 24 * time.Hour,
}

// HourlyPrice is one hour's price input from the forecaster.
type HourlyPrice struct {
	TimestampUTC time.Time
	PriceEURkWh  float64
	TariffPeriod string
}

// ClimateHour is one hour's weather/context input.
type ClimateHour struct {
	TimestampUTC time.Time
	Temperature  float64
	Humidity     float64
}

// BatchRequest is one unit of production demand to schedule.
type BatchRequest struct {
	Grade BatchGrade
	KG    float64
}

// Batch is one scheduled production run.
type Batch struct {
	Grade     BatchGrade
	KG        float64
	StartHour int // index into the 24-hour day, 0-23
	EndHour   int // exclusive
}

// TimelineEntry is one hour's full annotated state in the daily plan.
type TimelineEntry struct {
	Hour             int
	TimeUTC          time.Time
	PriceEURkWh      float64
	TariffPeriod     string
	TariffColor      string
	Temperature      float64
	Humidity         float64
	ClimateStatus    string // "normal" or "penalized"
	ActiveBatchIndex int    // -1 if none
	ActiveMachine    Machine
	IsProductionHour bool
}

// Plan is PlanDaily's output.
type Plan struct {
	Batches           []Batch
	HourlyTimeline    [24]TimelineEntry
	SavingsVsBaseline float64
}

// Summary reports the optimizer's general capability stats.
type Summary struct {
	SupportedGrades []BatchGrade
	MachineSequence []Machine
}

// tariffColor maps a tariff period label to a traffic-light color for UI
// display, valley periods green, peak periods red.
func tariffColor(period string) string {
	switch period {
	case "P3", "P6":
		return "green"
	case "P2":
		return "yellow"
	default:
		return "red"
	}
}

// PlanDaily packs requests into the cheapest contiguous windows of a
// 24-hour price series, penalizing climate-extreme hours, and returns the
// plan plus baseline-vs-actual savings.
func PlanDaily(prices [24]HourlyPrice, climate [24]ClimateHour, p90Temp, p95Temp, p90Humidity, p95Humidity float64, requests []BatchRequest) (Plan, error) {
	if len(requests) == 0 {
		return Plan{}, fmt.Errorf("%w: no batch requests supplied", apperrors.ErrValidation)
	}

	penalized := [24]bool{}
	for h := 0; h < 24; h++ {
		penalized[h] = climate[h].Temperature > p95Temp || climate[h].Humidity > p95Humidity
	}

	// rank hours by price ascending, preferring valley tariff periods
	order := make([]int, 24)
	for h := range order {
		order[h] = h
	}
	sort.SliceStable(order, func(i, j int) bool {
		hi, hj := order[i], order[j]
		pi, pj := prices[hi].PriceEURkWh, prices[hj].PriceEURkWh
		if pi != pj {
			return pi < pj
		}
		return valleyRank(prices[hi].TariffPeriod) < valleyRank(prices[hj].TariffPeriod)
	})

	occupied := [24]int{} // -1 = free, else index into batches
	for i := range occupied {
		occupied[i] = -1
	}

	var batches []Batch
	for reqIdx, req := range requests {
		hours := int(durationFor[req.Grade].Hours())
		if hours == 0 {
			return Plan{}, fmt.Errorf("%w: unknown batch grade %q", apperrors.ErrValidation, req.Grade)
		}

		start := bestWindow(order, occupied, penalized, hours)
		if start < 0 {
			continue // no window available for this request; skipped per best-effort packing
		}

		for h := start; h < start+hours; h++ {
			occupied[h] = reqIdx
		}
		batches = append(batches, Batch{Grade: req.Grade, KG: req.KG, StartHour: start, EndHour: start + hours})
	}

	timeline := buildTimeline(prices, climate, occupied, batches, penalized)

	baselineCost, actualCost := costComparison(prices, occupied)
	savings := 0.0
	if baselineCost > 0 {
		savings = (baselineCost - actualCost) / baselineCost
	}

	return Plan{Batches: batches, HourlyTimeline: timeline, SavingsVsBaseline: savings}, nil
}

func valleyRank(period string) int {
	switch period {
	case "P3", "P6":
		return 0
	case "P2":
		return 1
	default:
		return 2
	}
}

// bestWindow finds the earliest, in price-rank order, contiguous run of
// `hours` free, non-climate-penalized slots starting at each candidate hour.
func bestWindow(order []int, occupied [24]int, penalized [24]bool, hours int) int {
	for _, candidate := range order {
		if candidate+hours > 24 {
			continue
		}
		fits := true
		for h := candidate; h < candidate+hours; h++ {
			if occupied[h] != -1 || penalized[h] {
				fits = false
				break
			}
		}
		if fits {
			return candidate
		}
	}
	return -1
}

func buildTimeline(prices [24]HourlyPrice, climate [24]ClimateHour, occupied [24]int, batches []Batch, penalized [24]bool) [24]TimelineEntry {
	var timeline [24]TimelineEntry
	for h := 0; h < 24; h++ {
		status := "normal"
		if penalized[h] {
			status = "penalized"
		}

		entry := TimelineEntry{
			Hour:             h,
			TimeUTC:          prices[h].TimestampUTC,
			PriceEURkWh:      prices[h].PriceEURkWh,
			TariffPeriod:     prices[h].TariffPeriod,
			TariffColor:      tariffColor(prices[h].TariffPeriod),
			Temperature:      climate[h].Temperature,
			Humidity:         climate[h].Humidity,
			ClimateStatus:    status,
			ActiveBatchIndex: -1,
			IsProductionHour: occupied[h] != -1,
		}

		if idx := occupied[h]; idx != -1 {
			entry.ActiveBatchIndex = idx
			entry.ActiveMachine = machineForOffset(h - batches[idx].StartHour, batches[idx].EndHour-batches[idx].StartHour)
		}

		timeline[h] = entry
	}
	return timeline
}

// machineForOffset maps an hour offset within a batch's total duration to
// the machine sequence stage active at that point, dividing the duration
// evenly across the 4 fixed stages.
func machineForOffset(offsetHours, totalHours int) Machine {
	if totalHours == 0 {
		return ""
	}
	stageLen := float64(totalHours) / float64(len(Sequence))
	idx := int(float64(offsetHours) / stageLen)
	if idx >= len(Sequence) {
		idx = len(Sequence) - 1
	}
	return Sequence[idx]
}

// costComparison computes the uniform-spread baseline cost vs the actual
// cost of only the chosen production hours, over the same total energy
// consumption (one unit per hour of production scheduled).
func costComparison(prices [24]HourlyPrice, occupied [24]int) (baseline, actual float64) {
	productionHours := 0
	for h := 0; h < 24; h++ {
		if occupied[h] != -1 {
			productionHours++
		}
	}
	if productionHours == 0 {
		return 0, 0
	}

	var totalPrice float64
	for h := 0; h < 24; h++ {
		totalPrice += prices[h].PriceEURkWh
	}
	avgPrice := totalPrice / 24
	baseline = avgPrice * float64(productionHours)

	for h := 0; h < 24; h++ {
		if occupied[h] != -1 {
			actual += prices[h].PriceEURkWh
		}
	}
	return baseline, actual
}

// BuildSummary reports the optimizer's fixed capability surface.
func BuildSummary() Summary {
	return Summary{
		SupportedGrades: []BatchGrade{GradeStandard, GradePremium, GradeUltraPremium},
		MachineSequence: Sequence,
	}
}
