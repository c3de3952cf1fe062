// Package phenology accumulates growing degree days over the season and
// estimates when the vine reaches its next stage.
package phenology

import (
	"fmt"
	"sort"
	"time"

	"github.com/lox/vinerisk/internal/models"
	"github.com/lox/vinerisk/internal/weather"
)

// Threshold is the cumulative GDD at which a stage is expected to begin.
type Threshold struct {
	GDD   int
	Stage models.Stage
}

// Thresholds is ordered by GDD. The last entry marks the end of the cycle.
var Thresholds = []Threshold{
	{180, models.StageBudBreak},
	{300, models.StageShoots10cm},
	{500, models.StagePreBloom},
	{600, models.StageBloom},
	{750, models.StageFruitSet},
	{900, models.StageBunchClosure},
	{1200, models.StageVeraison},
	{1500, models.StageRipening},
	{1800, models.StageDormant},
}

// Start modes for a season's accumulation.
const (
	ModeDormant = "dormant"
	ModeBiofix  = "biofix"
	ModeMarch1  = "march_1"
)

// PredictionHorizon is the number of stored future days consulted.
const PredictionHorizon = 7

type Accumulation struct {
	Cumulative     int          `json:"cumulative"`
	EstimatedStage models.Stage `json:"estimated_stage"`
	NextStage      models.Stage `json:"next_stage,omitempty"`
	NextThreshold  int          `json:"next_threshold,omitempty"`
	Start          time.Time    `json:"start"`
	Mode           string       `json:"mode"`
}

// HasNext reports whether a further stage threshold remains this cycle.
func (a Accumulation) HasNext() bool {
	return a.NextThreshold > 0
}

// Accumulate sums daily heat units from the season start through asOf. The
// season starts at the parcel's biofix when it falls in the same year and is
// not in the future, otherwise on 1 March. A dormant parcel accumulates
// nothing.
func Accumulate(parcel models.Parcel, days []models.DailyWeather, asOf time.Time) Accumulation {
	asOf = models.Day(asOf)
	if parcel.Stage == models.StageDormant {
		return Accumulation{
			EstimatedStage: models.StageDormant,
			NextStage:      Thresholds[0].Stage,
			NextThreshold:  Thresholds[0].GDD,
			Mode:           ModeDormant,
		}
	}

	start, mode := SeasonStart(parcel, asOf)
	var sum float64
	for _, d := range days {
		if d.Date.Before(start) || d.Date.After(asOf) {
			continue
		}
		sum += d.HeatUnits
	}

	acc := Accumulation{
		Cumulative:     int(sum),
		EstimatedStage: models.StageDormant,
		Start:          start,
		Mode:           mode,
	}
	for i := len(Thresholds) - 1; i >= 0; i-- {
		if sum >= float64(Thresholds[i].GDD) {
			acc.EstimatedStage = Thresholds[i].Stage
			break
		}
	}
	for _, th := range Thresholds {
		if sum < float64(th.GDD) {
			acc.NextStage = th.Stage
			acc.NextThreshold = th.GDD
			break
		}
	}
	return acc
}

// SeasonStart returns the first day counted for the season containing asOf.
func SeasonStart(parcel models.Parcel, asOf time.Time) (time.Time, string) {
	asOf = models.Day(asOf)
	if parcel.Biofix.Valid {
		biofix := models.Day(parcel.Biofix.Time)
		if biofix.Year() == asOf.Year() && !biofix.After(asOf) {
			return biofix, ModeBiofix
		}
	}
	return time.Date(asOf.Year(), time.March, 1, 0, 0, 0, 0, time.UTC), ModeMarch1
}

type PredictionStatus string

const (
	PredictionInactive  PredictionStatus = "inactive"
	PredictionComplete  PredictionStatus = "cycle_complete"
	PredictionReached   PredictionStatus = "already_reached"
	PredictionForecast  PredictionStatus = "forecast"
	PredictionNotWithin PredictionStatus = "not_reached"
)

type Prediction struct {
	Status PredictionStatus `json:"status"`
	Stage  models.Stage     `json:"stage,omitempty"`
	// Days until the stage, counted in stored future days. -1 when unknown.
	Days int `json:"days"`
}

func (p Prediction) String() string {
	switch p.Status {
	case PredictionInactive:
		return "prediction inactive (dormant)"
	case PredictionComplete:
		return "growing cycle complete"
	case PredictionReached:
		return fmt.Sprintf("stage %s already reached", p.Stage)
	case PredictionForecast:
		return fmt.Sprintf("%s in ~%d days", p.Stage, p.Days)
	default:
		return fmt.Sprintf("%s not reached within %d days", p.Stage, PredictionHorizon)
	}
}

// PredictArrival projects the next stage using up to PredictionHorizon stored
// days after asOf. Days without a mean temperature contribute nothing.
func PredictArrival(acc Accumulation, days []models.DailyWeather, asOf time.Time, baseTemp float64, stage models.Stage) Prediction {
	if stage == models.StageDormant {
		return Prediction{Status: PredictionInactive, Days: -1}
	}
	if !acc.HasNext() {
		return Prediction{Status: PredictionComplete, Days: -1}
	}
	needed := acc.NextThreshold - acc.Cumulative
	if needed <= 0 {
		return Prediction{Status: PredictionReached, Stage: acc.NextStage, Days: 0}
	}

	asOf = models.Day(asOf)
	var future []models.DailyWeather
	for _, d := range days {
		if d.Date.After(asOf) {
			future = append(future, d)
		}
	}
	sort.Slice(future, func(i, j int) bool { return future[i].Date.Before(future[j].Date) })
	if len(future) > PredictionHorizon {
		future = future[:PredictionHorizon]
	}

	var sum float64
	for i, d := range future {
		if d.TempMean.Valid {
			sum += weather.HeatUnits(d.TempMean.Float64, baseTemp)
		}
		if sum >= float64(needed) {
			return Prediction{Status: PredictionForecast, Stage: acc.NextStage, Days: i + 1}
		}
	}
	return Prediction{Status: PredictionNotWithin, Stage: acc.NextStage, Days: -1}
}
