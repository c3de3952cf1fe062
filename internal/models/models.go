package models

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

// DateKey formats t as an ISO calendar date.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses an ISO calendar date into midnight UTC.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// Day truncates t to midnight UTC of its calendar date in t's location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DailyWeather is one calendar day of weather history. Raw fields are nullable
// because the upstream source intermittently omits them.
type DailyWeather struct {
	Date          time.Time
	TempMax       sql.NullFloat64
	TempMin       sql.NullFloat64
	TempMean      sql.NullFloat64
	Precipitation sql.NullFloat64 // mm
	Humidity      sql.NullFloat64 // mean relative humidity, %
	ET0           sql.NullFloat64 // reference evapotranspiration, mm
	HeatUnits     float64
}

// Rain returns the precipitation, treating a missing value as zero.
func (d DailyWeather) Rain() float64 {
	if !d.Precipitation.Valid {
		return 0
	}
	return d.Precipitation.Float64
}

var ErrUnknownStage = errors.New("unknown phenological stage")

type Stage string

const (
	StageDormant      Stage = "dormant"
	StageBudBreak     Stage = "bud_break"
	StageShoots10cm   Stage = "shoots_10cm"
	StagePreBloom     Stage = "pre_bloom"
	StageBloom        Stage = "bloom"
	StageFruitSet     Stage = "fruit_set"
	StageBunchClosure Stage = "bunch_closure"
	StageVeraison     Stage = "veraison"
	StageRipening     Stage = "ripening"
)

// Stages lists every phenological stage in seasonal order.
var Stages = []Stage{
	StageDormant,
	StageBudBreak,
	StageShoots10cm,
	StagePreBloom,
	StageBloom,
	StageFruitSet,
	StageBunchClosure,
	StageVeraison,
	StageRipening,
}

func ParseStage(s string) (Stage, error) {
	for _, st := range Stages {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStage, s)
}

type Parcel struct {
	Name        string
	AreaHa      float64
	Cultivars   []string
	Stage       Stage
	Biofix      sql.NullTime
	CapacityMM  float64 // maximum soil reserve
	YieldTarget float64 // hl/ha
}

// SetStage moves the parcel to a new stage. A bud-break transition records
// the biofix date when one is given; returning to dormancy clears it. Unknown
// stages leave the parcel untouched.
func (p *Parcel) SetStage(name string, biofix *time.Time) error {
	stage, err := ParseStage(name)
	if err != nil {
		return err
	}
	p.Stage = stage
	switch {
	case stage == StageBudBreak && biofix != nil:
		p.Biofix = sql.NullTime{Time: Day(*biofix), Valid: true}
	case stage == StageDormant:
		p.Biofix = sql.NullTime{}
	}
	return nil
}

type ProductClass string

const (
	ClassContact   ProductClass = "contact"
	ClassPenetrant ProductClass = "penetrant"
	ClassSystemic  ProductClass = "systemic"
)

// Product describes a fungicide and how its protection decays.
type Product struct {
	ID                  string       `json:"id"`
	Name                string       `json:"name"`
	PersistenceDays     float64      `json:"persistence_days"`
	LeachingThresholdMM float64      `json:"leaching_threshold_mm"`
	Class               ProductClass `json:"class"`
	ReferenceDoseKgHa   float64      `json:"reference_dose_kg_ha"`
	Registration        string       `json:"registration,omitempty"`
}

type Treatment struct {
	ID       int64
	Parcel   string
	Date     time.Time
	Product  Product
	DoseKgHa float64
}

// AnalysisRecord is the persisted summary of one parcel analysis. Payload
// holds the full analysis as JSON.
type AnalysisRecord struct {
	Parcel       string
	Date         time.Time
	Risk         float64
	Protection   float64
	Score        float64
	Urgency      string
	Action       string
	PowderyLevel string
	ReservePct   float64
	GDD          int
	Payload      []byte
	CreatedAt    time.Time
}
