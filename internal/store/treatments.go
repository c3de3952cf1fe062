package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lox/vinerisk/internal/models"
)

// InsertTreatment logs an application. The product's characteristics are
// copied so later catalogue edits do not rewrite history.
func (s *Store) InsertTreatment(t models.Treatment) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO treatments (parcel, date, product_id, product_name, product_class,
			persistence_days, leaching_threshold_mm, reference_dose_kg_ha, registration,
			dose_kg_ha, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.Parcel, models.DateKey(t.Date), t.Product.ID, t.Product.Name, string(t.Product.Class),
		t.Product.PersistenceDays, t.Product.LeachingThresholdMM, t.Product.ReferenceDoseKgHa,
		t.Product.Registration, t.DoseKgHa, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const treatmentColumns = `id, parcel, date, product_id, product_name, product_class,
	persistence_days, leaching_threshold_mm, reference_dose_kg_ha, registration, dose_kg_ha`

// TreatmentsForParcel returns every treatment logged for a parcel, oldest
// first.
func (s *Store) TreatmentsForParcel(parcel string) ([]models.Treatment, error) {
	return s.queryTreatments(`SELECT `+treatmentColumns+` FROM treatments
		WHERE parcel = ? ORDER BY date, id`, parcel)
}

// GetTreatments returns treatments across all parcels dated within
// [start, end].
func (s *Store) GetTreatments(start, end time.Time) ([]models.Treatment, error) {
	return s.queryTreatments(`SELECT `+treatmentColumns+` FROM treatments
		WHERE date >= ? AND date <= ? ORDER BY date, id`, models.DateKey(start), models.DateKey(end))
}

// GetLatestTreatment returns nil when the parcel has no treatment.
func (s *Store) GetLatestTreatment(parcel string) (*models.Treatment, error) {
	ts, err := s.queryTreatments(`SELECT `+treatmentColumns+` FROM treatments
		WHERE parcel = ? ORDER BY date DESC, id DESC LIMIT 1`, parcel)
	if err != nil || len(ts) == 0 {
		return nil, err
	}
	return &ts[0], nil
}

func (s *Store) queryTreatments(query string, args ...any) ([]models.Treatment, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Treatment
	for rows.Next() {
		var t models.Treatment
		var date, class string
		var registration sql.NullString
		if err := rows.Scan(&t.ID, &t.Parcel, &date, &t.Product.ID, &t.Product.Name, &class,
			&t.Product.PersistenceDays, &t.Product.LeachingThresholdMM, &t.Product.ReferenceDoseKgHa,
			&registration, &t.DoseKgHa); err != nil {
			return nil, err
		}
		if t.Date, err = models.ParseDate(date); err != nil {
			return nil, fmt.Errorf("parse treatment date %q: %w", date, err)
		}
		t.Product.Class = models.ProductClass(class)
		t.Product.Registration = registration.String
		out = append(out, t)
	}
	return out, rows.Err()
}
