package risk

import "github.com/lox/vinerisk/internal/models"

// Powdery scores powdery mildew risk over a week of weather. Hot days
// suppress the fungus, warm humid days favour it, heavy rain washes spores.
func Powdery(window []models.DailyWeather, stageCoef float64) Result {
	var total float64
	counted := 0
	for _, d := range window {
		counted++
		total += max(powderyDayScore(d), -2)
	}

	maxPossible := float64(counted * 3)
	if maxPossible == 0 {
		return Result{Score: 0, Level: LevelWeak}
	}

	raw := max(0, total/maxPossible*10)
	final := clamp(raw*(stageCoef/1.5), 0, 10)
	return Result{Score: roundTenth(final), Level: Classify(final)}
}

func powderyDayScore(d models.DailyWeather) float64 {
	var score float64
	if d.TempMax.Valid {
		tmax := d.TempMax.Float64
		hum := d.Humidity.Float64
		switch {
		case tmax >= 33:
			score = -2
		case d.Humidity.Valid && tmax >= 20 && tmax <= 28 && hum >= 60:
			score = 3
		case d.Humidity.Valid && tmax >= 15 && tmax <= 30 && hum >= 50:
			score = 1
		}
	}
	if d.Precipitation.Valid && d.Precipitation.Float64 >= 5 {
		score--
	}
	return score
}
