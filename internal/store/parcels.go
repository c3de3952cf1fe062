package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lox/vinerisk/internal/models"
)

var ErrParcelNotFound = errors.New("parcel not found")

// SeedParcel inserts a parcel from configuration, or refreshes its static
// attributes. The stored stage and biofix are never overwritten.
func (s *Store) SeedParcel(p models.Parcel) error {
	cultivars, err := json.Marshal(p.Cultivars)
	if err != nil {
		return err
	}
	stage := p.Stage
	if stage == "" {
		stage = models.StageDormant
	}
	_, err = s.db.Exec(`
		INSERT INTO parcels (name, area_ha, cultivars, stage, biofix, capacity_mm, yield_target)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			area_ha = excluded.area_ha,
			cultivars = excluded.cultivars,
			capacity_mm = excluded.capacity_mm,
			yield_target = excluded.yield_target
	`, p.Name, p.AreaHa, string(cultivars), string(stage), biofixValue(p.Biofix), p.CapacityMM, p.YieldTarget)
	return err
}

// SaveParcelStage persists the parcel's stage and biofix.
func (s *Store) SaveParcelStage(p models.Parcel) error {
	res, err := s.db.Exec(`UPDATE parcels SET stage = ?, biofix = ? WHERE name = ?`,
		string(p.Stage), biofixValue(p.Biofix), p.Name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrParcelNotFound, p.Name)
	}
	return nil
}

func (s *Store) GetParcel(name string) (*models.Parcel, error) {
	row := s.db.QueryRow(`
		SELECT name, area_ha, cultivars, stage, biofix, capacity_mm, yield_target
		FROM parcels WHERE name = ?
	`, name)
	p, err := scanParcel(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrParcelNotFound, name)
	}
	return p, err
}

func (s *Store) ListParcels() ([]models.Parcel, error) {
	rows, err := s.db.Query(`
		SELECT name, area_ha, cultivars, stage, biofix, capacity_mm, yield_target
		FROM parcels ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parcels []models.Parcel
	for rows.Next() {
		p, err := scanParcel(rows)
		if err != nil {
			return nil, err
		}
		parcels = append(parcels, *p)
	}
	return parcels, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanParcel(row scanner) (*models.Parcel, error) {
	var p models.Parcel
	var cultivars, stage string
	var biofix sql.NullString
	if err := row.Scan(&p.Name, &p.AreaHa, &cultivars, &stage, &biofix, &p.CapacityMM, &p.YieldTarget); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cultivars), &p.Cultivars); err != nil {
		return nil, fmt.Errorf("decode cultivars for %s: %w", p.Name, err)
	}
	p.Stage = models.Stage(stage)
	if biofix.Valid {
		t, err := models.ParseDate(biofix.String)
		if err != nil {
			return nil, fmt.Errorf("parse biofix for %s: %w", p.Name, err)
		}
		p.Biofix = sql.NullTime{Time: t, Valid: true}
	}
	return &p, nil
}

func biofixValue(b sql.NullTime) sql.NullString {
	if !b.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: models.DateKey(b.Time), Valid: true}
}
