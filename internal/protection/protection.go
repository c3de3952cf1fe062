// Package protection estimates how much fungicide cover remains on a parcel
// from its most recent treatment.
package protection

import (
	"math"
	"time"

	"github.com/lox/vinerisk/internal/models"
)

// Full is the protection score of a fresh treatment.
const Full = 10.0

type Factor string

const (
	FactorNoTreatment Factor = "no_treatment"
	FactorFuture      Factor = "future_treatment"
	FactorPersistence Factor = "persistence"
	FactorGrowth      Factor = "growth_dilution"
	FactorLeaching    Factor = "leaching"
)

var growthCoefficients = map[models.Stage]float64{
	models.StageDormant:      0.0,
	models.StageBudBreak:     0.5,
	models.StageShoots10cm:   2.0,
	models.StagePreBloom:     1.8,
	models.StageBloom:        1.0,
	models.StageFruitSet:     0.8,
	models.StageBunchClosure: 0.5,
	models.StageVeraison:     0.2,
	models.StageRipening:     0.1,
}

// GrowthCoefficient is the daily protection lost to new unprotected foliage.
func GrowthCoefficient(stage models.Stage) float64 {
	if c, ok := growthCoefficients[stage]; ok {
		return c
	}
	return 1.0
}

type Result struct {
	Score       float64           `json:"score"`
	Factor      Factor            `json:"limiting_factor"`
	Treatment   *models.Treatment `json:"-"`
	ElapsedDays int               `json:"elapsed_days"`
	RainSinceMM float64           `json:"rain_since_mm"`
}

// Latest returns the most recent treatment, or nil when there is none. Among
// treatments on the same date the last one logged wins.
func Latest(treatments []models.Treatment) *models.Treatment {
	var latest *models.Treatment
	for i := range treatments {
		t := &treatments[i]
		if latest == nil || t.Date.After(latest.Date) ||
			(t.Date.Equal(latest.Date) && t.ID > latest.ID) {
			latest = t
		}
	}
	return latest
}

// Evaluate scores the remaining cover from the latest treatment as of asOf.
// Cover decays linearly over the product's persistence; contact and
// penetrant products are also diluted by foliage growth, and the lower of
// the two wins. Rainfall since the treatment above the product's leaching
// threshold removes all cover.
func Evaluate(latest *models.Treatment, asOf time.Time, stage models.Stage, days []models.DailyWeather) Result {
	if latest == nil {
		return Result{Score: 0, Factor: FactorNoTreatment}
	}

	treated := models.Day(latest.Date)
	asOf = models.Day(asOf)
	elapsed := int(math.Round(asOf.Sub(treated).Hours() / 24))
	if elapsed < 0 {
		return Result{Score: Full, Factor: FactorFuture, Treatment: latest, ElapsedDays: elapsed}
	}

	product := latest.Product
	persistence := product.PersistenceDays
	if persistence <= 0 {
		persistence = UnknownProduct("").PersistenceDays
	}

	score := math.Max(0, Full-float64(elapsed)/persistence*Full)
	factor := FactorPersistence
	if product.Class == models.ClassContact || product.Class == models.ClassPenetrant {
		diluted := math.Max(0, Full-float64(elapsed)*GrowthCoefficient(stage))
		if diluted < score {
			score = diluted
			factor = FactorGrowth
		}
	}

	rain := RainBetween(days, treated, asOf)
	if rain > product.LeachingThresholdMM {
		score = 0
		factor = FactorLeaching
	}

	return Result{
		Score:       math.Round(score*10) / 10,
		Factor:      factor,
		Treatment:   latest,
		ElapsedDays: elapsed,
		RainSinceMM: rain,
	}
}

// RainBetween sums rainfall over stored days within [from, to].
func RainBetween(days []models.DailyWeather, from, to time.Time) float64 {
	var sum float64
	for _, d := range days {
		if d.Date.Before(from) || d.Date.After(to) {
			continue
		}
		sum += d.Rain()
	}
	return sum
}
