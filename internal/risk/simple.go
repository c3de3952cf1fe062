package risk

import "github.com/lox/vinerisk/internal/models"

const wetDayRainMM = 1.0

// Simple scores downy mildew risk over a short window (normally three days)
// from rainfall, temperature on the wet days and mean humidity.
func Simple(window []models.DailyWeather, stageCoef, sensitivity float64) Result {
	weak := Result{Score: 0, Level: LevelWeak}
	if len(window) == 0 {
		return weak
	}

	var rain, allTemps, wetTemps, humidity float64
	var nAll, nWet, nHumid int
	for _, d := range window {
		rain += d.Rain()
		if d.TempMean.Valid {
			allTemps += d.TempMean.Float64
			nAll++
			if d.Rain() > wetDayRainMM {
				wetTemps += d.TempMean.Float64
				nWet++
			}
		}
		if d.Humidity.Valid {
			humidity += d.Humidity.Float64
			nHumid++
		}
	}
	if nAll == 0 || nHumid == 0 {
		return weak
	}

	temp := allTemps / float64(nAll)
	if nWet > 0 {
		temp = wetTemps / float64(nWet)
	}

	score := rainfallPoints(rain) + temperaturePoints(temp)
	if humidity/float64(nHumid) > 85 {
		score++
	}

	final := clamp(score*stageCoef*(sensitivity/5), 0, 10)
	return Result{Score: roundTenth(final), Level: Classify(final)}
}

func rainfallPoints(mm float64) float64 {
	switch {
	case mm >= 10:
		return 5
	case mm >= 5:
		return 3
	case mm >= 2:
		return 1
	}
	return 0
}

func temperaturePoints(c float64) float64 {
	switch {
	case c >= 20 && c <= 25:
		return 4
	case c >= 15 && c <= 28:
		return 2
	case c >= 10 && c <= 30:
		return 1
	}
	return 0
}
