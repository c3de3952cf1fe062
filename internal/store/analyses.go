package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lox/vinerisk/internal/models"
)

// UpsertAnalysis keeps one analysis per parcel and date; a rerun on the same
// day replaces the earlier one.
func (s *Store) UpsertAnalysis(rec models.AnalysisRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO analyses (parcel, date, risk, protection, score, urgency, action,
			powdery_level, reserve_pct, gdd, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(parcel, date) DO UPDATE SET
			risk = excluded.risk,
			protection = excluded.protection,
			score = excluded.score,
			urgency = excluded.urgency,
			action = excluded.action,
			powdery_level = excluded.powdery_level,
			reserve_pct = excluded.reserve_pct,
			gdd = excluded.gdd,
			payload = excluded.payload,
			created_at = excluded.created_at
	`, rec.Parcel, models.DateKey(rec.Date), rec.Risk, rec.Protection, rec.Score, rec.Urgency,
		rec.Action, rec.PowderyLevel, rec.ReservePct, rec.GDD, string(rec.Payload), time.Now().UTC())
	return err
}

// GetAnalyses returns a parcel's analyses, newest first. Zero start or end
// leaves that side of the range open.
func (s *Store) GetAnalyses(parcel string, start, end time.Time) ([]models.AnalysisRecord, error) {
	from, to := "0000-01-01", "9999-12-31"
	if !start.IsZero() {
		from = models.DateKey(start)
	}
	if !end.IsZero() {
		to = models.DateKey(end)
	}
	return s.queryAnalyses(`
		SELECT parcel, date, risk, protection, score, urgency, action,
			powdery_level, reserve_pct, gdd, payload, created_at
		FROM analyses
		WHERE parcel = ? AND date >= ? AND date <= ?
		ORDER BY date DESC
	`, parcel, from, to)
}

// GetUrgentAnalyses returns analyses with the given urgency dated within the
// last n days, newest first.
func (s *Store) GetUrgentAnalyses(urgency string, days int) ([]models.AnalysisRecord, error) {
	since := s.Today().AddDate(0, 0, -days)
	return s.queryAnalyses(`
		SELECT parcel, date, risk, protection, score, urgency, action,
			powdery_level, reserve_pct, gdd, payload, created_at
		FROM analyses
		WHERE urgency = ? AND date >= ?
		ORDER BY date DESC, parcel
	`, urgency, models.DateKey(since))
}

func (s *Store) queryAnalyses(query string, args ...any) ([]models.AnalysisRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AnalysisRecord
	for rows.Next() {
		var rec models.AnalysisRecord
		var date string
		var powdery, payload sql.NullString
		var reserve sql.NullFloat64
		var gdd sql.NullInt64
		if err := rows.Scan(&rec.Parcel, &date, &rec.Risk, &rec.Protection, &rec.Score,
			&rec.Urgency, &rec.Action, &powdery, &reserve, &gdd, &payload, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if rec.Date, err = models.ParseDate(date); err != nil {
			return nil, fmt.Errorf("parse analysis date %q: %w", date, err)
		}
		rec.PowderyLevel = powdery.String
		rec.ReservePct = reserve.Float64
		rec.GDD = int(gdd.Int64)
		if payload.Valid {
			rec.Payload = []byte(payload.String)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
