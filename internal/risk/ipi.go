package risk

import (
	"math"
	"sort"

	"github.com/lox/vinerisk/internal/models"
)

// IPI temperature domain in °C. Outside it the index is zero.
const (
	IPIMinTemp = 10.0
	IPIMaxTemp = 27.0
)

// MinIPIRainMM is the rainfall below which no leaf wetness is assumed.
const MinIPIRainMM = 2.0

// infectionPotential maps a temperature band to wetness-duration bands
// (hours) and their infection potential on a 0-100 scale.
var infectionPotential = map[float64]map[float64]float64{
	10: {6: 10, 9: 20, 12: 30, 15: 40, 18: 50},
	13: {5: 10, 7: 20, 10: 30, 12: 40, 15: 60, 18: 80},
	16: {4: 10, 6: 20, 8: 30, 10: 50, 12: 70, 15: 90},
	19: {3: 10, 5: 20, 7: 40, 9: 60, 11: 80, 13: 100},
	21: {3: 10, 4: 20, 6: 50, 8: 80, 10: 100},
	24: {3: 10, 4: 30, 6: 70, 8: 100},
	27: {3: 20, 5: 60, 7: 100},
}

var temperatureKeys = sortedKeys(infectionPotential)

func sortedKeys[V any](m map[float64]V) []float64 {
	keys := make([]float64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Float64s(keys)
	return keys
}

// boundingKeys returns the pair of sorted keys enclosing v. Values at or
// beyond either edge collapse to that edge key twice, so callers clamp
// instead of extrapolating.
func boundingKeys(keys []float64, v float64) (float64, float64) {
	if v <= keys[0] {
		return keys[0], keys[0]
	}
	last := keys[len(keys)-1]
	if v >= last {
		return last, last
	}
	for i := 0; i < len(keys)-1; i++ {
		if keys[i] <= v && v < keys[i+1] {
			return keys[i], keys[i+1]
		}
	}
	return last, last
}

func interpolate(x, x0, y0, x1, y1 float64) float64 {
	if x1 == x0 {
		return y0
	}
	return y0 + (x-x0)*(y1-y0)/(x1-x0)
}

func potentialAt(band, wetness float64) float64 {
	durations := infectionPotential[band]
	d0, d1 := boundingKeys(sortedKeys(durations), wetness)
	return interpolate(wetness, d0, durations[d0], d1, durations[d1])
}

// WetnessDuration estimates leaf wetness in hours from daily rainfall and
// mean humidity, capped at 24.
func WetnessDuration(precipitation, humidity float64) float64 {
	if precipitation < MinIPIRainMM {
		return 0
	}
	hours := precipitation * 0.8
	if precipitation >= 5 {
		hours = precipitation * 1.2
	}
	switch {
	case humidity > 90:
		hours *= 1.3
	case humidity > 80:
		hours *= 1.1
	}
	return math.Min(hours, 24)
}

// IPI interpolates the infection potential for a mean temperature and a leaf
// wetness duration: first along the duration axis inside each bounding
// temperature band, then between the two bands.
func IPI(temp, wetness float64) int {
	if temp < IPIMinTemp || temp > IPIMaxTemp {
		return 0
	}
	t0, t1 := boundingKeys(temperatureKeys, temp)
	p0 := potentialAt(t0, wetness)
	if t0 == t1 {
		return roundIPI(p0)
	}
	p1 := potentialAt(t1, wetness)
	return roundIPI(interpolate(temp, t0, p0, t1, p1))
}

// Half-way values round to even.
func roundIPI(v float64) int {
	return int(math.RoundToEven(math.Max(0, v)))
}

func ClassifyIPI(ipi int) Level {
	switch {
	case ipi >= 60:
		return LevelStrong
	case ipi >= 30:
		return LevelModerate
	default:
		return LevelWeak
	}
}

// Reasons attached to an IPI evaluation that did not run the interpolation.
const (
	IPIReasonDormant      = "dormant"
	IPIReasonRainfall     = "insufficient rain"
	IPIReasonZeroWetness  = "no leaf wetness"
	IPIReasonInsufficient = "insufficient data"
)

type IPIResult struct {
	Value   int     `json:"value"`
	Level   Level   `json:"level"`
	Reason  string  `json:"reason,omitempty"`
	Date    string  `json:"date,omitempty"`
	Wetness float64 `json:"wetness_hours"`
}

// EvaluateIPI runs the index on the wettest day of the window. The first day
// wins a tie.
func EvaluateIPI(window []models.DailyWeather, stageCoef float64) IPIResult {
	zero := IPIResult{Value: 0, Level: LevelWeak}
	if stageCoef <= 0 {
		zero.Reason = IPIReasonDormant
		return zero
	}
	if len(window) == 0 {
		zero.Reason = IPIReasonInsufficient
		return zero
	}

	wettest := window[0]
	for _, d := range window[1:] {
		if d.Rain() > wettest.Rain() {
			wettest = d
		}
	}
	zero.Date = models.DateKey(wettest.Date)

	if wettest.Rain() < MinIPIRainMM {
		zero.Reason = IPIReasonRainfall
		return zero
	}
	if !wettest.Humidity.Valid {
		zero.Reason = IPIReasonInsufficient
		return zero
	}
	wetness := WetnessDuration(wettest.Rain(), wettest.Humidity.Float64)
	if wetness <= 0 {
		zero.Reason = IPIReasonZeroWetness
		return zero
	}
	if !wettest.TempMean.Valid {
		zero.Reason = IPIReasonInsufficient
		zero.Wetness = wetness
		return zero
	}

	v := IPI(wettest.TempMean.Float64, wetness)
	return IPIResult{
		Value:   v,
		Level:   ClassifyIPI(v),
		Date:    zero.Date,
		Wetness: wetness,
	}
}
