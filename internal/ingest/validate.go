package ingest

import (
	"database/sql"

	"github.com/lox/vinerisk/internal/models"
)

const (
	FlagTempOutOfRange  = "temp_out_of_range"
	FlagHumidityInvalid = "humidity_invalid"
	FlagPrecipNegative  = "precip_negative"
	FlagET0Negative     = "et0_negative"
)

func ValidateDay(d models.DailyWeather) []string {
	var flags []string

	if outOfRange(d.TempMax, -40, 55) || outOfRange(d.TempMin, -40, 55) {
		flags = append(flags, FlagTempOutOfRange)
	}

	if outOfRange(d.Humidity, 0, 100) {
		flags = append(flags, FlagHumidityInvalid)
	}

	if d.Precipitation.Valid && d.Precipitation.Float64 < 0 {
		flags = append(flags, FlagPrecipNegative)
	}

	if d.ET0.Valid && d.ET0.Float64 < 0 {
		flags = append(flags, FlagET0Negative)
	}

	return flags
}

// SanitizeDay nulls out implausible fields so the merge keeps whatever was
// stored before. It returns the flags raised.
func SanitizeDay(d *models.DailyWeather) []string {
	flags := ValidateDay(*d)
	for _, f := range flags {
		switch f {
		case FlagTempOutOfRange:
			if outOfRange(d.TempMax, -40, 55) {
				d.TempMax = sql.NullFloat64{}
			}
			if outOfRange(d.TempMin, -40, 55) {
				d.TempMin = sql.NullFloat64{}
			}
		case FlagHumidityInvalid:
			d.Humidity = sql.NullFloat64{}
		case FlagPrecipNegative:
			d.Precipitation = sql.NullFloat64{}
		case FlagET0Negative:
			d.ET0 = sql.NullFloat64{}
		}
	}
	return flags
}

func outOfRange(v sql.NullFloat64, lo, hi float64) bool {
	return v.Valid && (v.Float64 < lo || v.Float64 > hi)
}
