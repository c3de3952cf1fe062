package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lox/vinerisk/internal/models"
)

type Store struct {
	db  *sql.DB
	loc *time.Location
}

func New(db *sql.DB, loc *time.Location) *Store {
	return &Store{db: db, loc: loc}
}

// Today returns the current calendar date in the vineyard's timezone.
func (s *Store) Today() time.Time {
	return models.Day(time.Now().In(s.loc))
}

// ReplaceWeatherDays swaps the persisted weather history for days.
func (s *Store) ReplaceWeatherDays(days []models.DailyWeather) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM weather_days`); err != nil {
		return fmt.Errorf("clear weather days: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO weather_days (date, temp_max, temp_min, temp_mean, precipitation, humidity, et0, heat_units)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range days {
		if _, err := stmt.Exec(models.DateKey(d.Date), d.TempMax, d.TempMin, d.TempMean,
			d.Precipitation, d.Humidity, d.ET0, d.HeatUnits); err != nil {
			return fmt.Errorf("insert weather day %s: %w", models.DateKey(d.Date), err)
		}
	}
	return tx.Commit()
}

// LoadWeatherDays returns the persisted history in date order.
func (s *Store) LoadWeatherDays() ([]models.DailyWeather, error) {
	rows, err := s.db.Query(`
		SELECT date, temp_max, temp_min, temp_mean, precipitation, humidity, et0, heat_units
		FROM weather_days
		ORDER BY date
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []models.DailyWeather
	for rows.Next() {
		var d models.DailyWeather
		var date string
		if err := rows.Scan(&date, &d.TempMax, &d.TempMin, &d.TempMean,
			&d.Precipitation, &d.Humidity, &d.ET0, &d.HeatUnits); err != nil {
			return nil, err
		}
		if d.Date, err = models.ParseDate(date); err != nil {
			return nil, fmt.Errorf("parse weather date %q: %w", date, err)
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

// ReplaceHeatUnits swaps the persisted daily heat-unit series.
func (s *Store) ReplaceHeatUnits(units map[string]float64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM heat_units`); err != nil {
		return fmt.Errorf("clear heat units: %w", err)
	}
	for date, v := range units {
		if _, err := tx.Exec(`INSERT INTO heat_units (date, value) VALUES (?, ?)`, date, v); err != nil {
			return fmt.Errorf("insert heat units %s: %w", date, err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetHeatUnits(start, end time.Time) (map[string]float64, error) {
	rows, err := s.db.Query(`
		SELECT date, value FROM heat_units
		WHERE date >= ? AND date <= ?
	`, models.DateKey(start), models.DateKey(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	units := make(map[string]float64)
	for rows.Next() {
		var date string
		var v float64
		if err := rows.Scan(&date, &v); err != nil {
			return nil, err
		}
		units[date] = v
	}
	return units, rows.Err()
}
