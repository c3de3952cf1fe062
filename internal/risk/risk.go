// Package risk implements the mildew infection models. The models share an
// output shape but no computation; the decision engine picks which to run.
package risk

import (
	"math"

	"github.com/lox/vinerisk/internal/models"
)

type Level string

const (
	LevelWeak     Level = "weak"
	LevelModerate Level = "moderate"
	LevelStrong   Level = "strong"
)

type Result struct {
	Score float64 `json:"score"`
	Level Level   `json:"level"`
}

// Classify maps a 0-10 score to a tier.
func Classify(score float64) Level {
	switch {
	case score >= 7:
		return LevelStrong
	case score >= 4:
		return LevelModerate
	default:
		return LevelWeak
	}
}

var stageCoefficients = map[models.Stage]float64{
	models.StageDormant:      0.0,
	models.StageBudBreak:     0.8,
	models.StageShoots10cm:   1.5,
	models.StagePreBloom:     1.8,
	models.StageBloom:        2.0,
	models.StageFruitSet:     1.8,
	models.StageBunchClosure: 1.5,
	models.StageVeraison:     0.7,
	models.StageRipening:     0.3,
}

// StageCoefficient is the receptivity multiplier for a phenological stage.
func StageCoefficient(stage models.Stage) float64 {
	if c, ok := stageCoefficients[stage]; ok {
		return c
	}
	return 1.0
}

const DefaultSensitivity = 5.0

// Downy mildew sensitivity on a 1-10 scale.
var cultivarSensitivity = map[string]float64{
	"Chardonnay":         7,
	"Cabernet Sauvignon": 6,
	"Merlot":             7,
	"Grenache":           5,
	"Syrah":              6,
	"Pinot Noir":         8,
	"Sauvignon":          7,
	"Carignan":           4,
	"Mourvèdre":          5,
	"Cinsault":           5,
	"Ugni Blanc":         6,
	"Viognier":           6,
	"Caladoc":            6,
}

func CultivarSensitivity(name string) float64 {
	if s, ok := cultivarSensitivity[name]; ok {
		return s
	}
	return DefaultSensitivity
}

// MeanSensitivity averages the sensitivity of a parcel's cultivars.
func MeanSensitivity(cultivars []string) float64 {
	if len(cultivars) == 0 {
		return DefaultSensitivity
	}
	var sum float64
	for _, c := range cultivars {
		sum += CultivarSensitivity(c)
	}
	return sum / float64(len(cultivars))
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
