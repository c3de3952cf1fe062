// Package config loads the vineyard file: where the vineyard is, which parcels
// it has and the agronomic parameters the models run with. Keys missing from
// the file keep their defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lox/vinerisk/internal/decision"
	"github.com/lox/vinerisk/internal/models"
	"github.com/lox/vinerisk/internal/protection"
	"github.com/lox/vinerisk/internal/waterbalance"
)

const DefaultYieldTarget = 50.0

type Config struct {
	Location   Location        `json:"location"`
	Parcels    []Parcel        `json:"parcels" validate:"required,min=1,unique=Name,dive"`
	Parameters Parameters      `json:"parameters"`
	Products   []ProductConfig `json:"products" validate:"dive"`
}

type Location struct {
	Name      string  `json:"name,omitempty"`
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
	Timezone  string  `json:"timezone" validate:"required,timezone"`
}

type Parcel struct {
	Name        string   `json:"name" validate:"required"`
	AreaHa      float64  `json:"area_ha" validate:"gte=0"`
	Cultivars   []string `json:"cultivars"`
	Stage       string   `json:"stage" validate:"omitempty,stage"`
	Biofix      string   `json:"biofix,omitempty" validate:"omitempty,datetime=2006-01-02"`
	CapacityMM  float64  `json:"capacity_mm" validate:"gte=0"`
	YieldTarget float64  `json:"yield_target" validate:"gte=0"`
}

type Parameters struct {
	BaseTempGDD       float64            `json:"t_base_gdd" validate:"gte=0,lte=20"`
	RunoffFraction    float64            `json:"runoff_fraction" validate:"gte=0,lte=1"`
	InterceptionMM    float64            `json:"interception_mm" validate:"gte=0"`
	DefaultCapacityMM float64            `json:"default_capacity_mm" validate:"gt=0"`
	CalendarKc        map[string]float64 `json:"calendar_kc" validate:"dive,keys,month,endkeys,gte=0,lte=1.5"`
	EnableIPI         *bool              `json:"enable_ipi"`
}

type ProductConfig struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name" validate:"required"`
	PersistenceDays     float64 `json:"persistence_days" validate:"gt=0"`
	LeachingThresholdMM float64 `json:"leaching_threshold_mm" validate:"gt=0"`
	Class               string  `json:"class" validate:"oneof=contact penetrant systemic"`
	ReferenceDoseKgHa   float64 `json:"reference_dose_kg_ha" validate:"gte=0"`
	Registration        string  `json:"registration,omitempty"`
}

// Default mirrors the file written on first run: a two-parcel vineyard near
// Cassis with every parameter at its default.
func Default() *Config {
	return &Config{
		Location: Location{
			Name:      "Cassis, France",
			Latitude:  43.21,
			Longitude: 5.54,
			Timezone:  "Europe/Paris",
		},
		Parcels: []Parcel{
			{Name: "Parcelle 1", AreaHa: 1.5, Cultivars: []string{"Grenache", "Syrah"}, Stage: string(models.StageDormant), CapacityMM: 100, YieldTarget: DefaultYieldTarget},
			{Name: "Parcelle 2", AreaHa: 1.5, Cultivars: []string{"Mourvèdre"}, Stage: string(models.StageDormant), CapacityMM: 100, YieldTarget: DefaultYieldTarget},
		},
		Parameters: DefaultParameters(),
	}
}

func DefaultParameters() Parameters {
	wb := waterbalance.DefaultParams()
	kc := make(map[string]float64, len(wb.CalendarKc))
	for m, v := range wb.CalendarKc {
		kc[strconv.Itoa(int(m))] = v
	}
	enabled := true
	return Parameters{
		BaseTempGDD:       10,
		RunoffFraction:    wb.RunoffFraction,
		InterceptionMM:    wb.InterceptionMM,
		DefaultCapacityMM: wb.CapacityMM,
		CalendarKc:        kc,
		EnableIPI:         &enabled,
	}
}

// Load reads and validates the vineyard file at path. A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a vineyard file, fills missing keys and validates the result.
func Parse(r io.Reader) (*Config, error) {
	var cfg Config
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	def := DefaultParameters()
	p := &c.Parameters
	if p.BaseTempGDD == 0 {
		p.BaseTempGDD = def.BaseTempGDD
	}
	if p.RunoffFraction == 0 {
		p.RunoffFraction = def.RunoffFraction
	}
	if p.InterceptionMM == 0 {
		p.InterceptionMM = def.InterceptionMM
	}
	if p.DefaultCapacityMM == 0 {
		p.DefaultCapacityMM = def.DefaultCapacityMM
	}
	if p.CalendarKc == nil {
		p.CalendarKc = map[string]float64{}
	}
	for k, v := range def.CalendarKc {
		if _, ok := p.CalendarKc[k]; !ok {
			p.CalendarKc[k] = v
		}
	}
	if p.EnableIPI == nil {
		p.EnableIPI = def.EnableIPI
	}
	if c.Location.Timezone == "" {
		c.Location.Timezone = "Europe/Paris"
	}

	for i := range c.Products {
		if c.Products[i].Class == "" {
			c.Products[i].Class = string(models.ClassContact)
		}
	}

	for i := range c.Parcels {
		parcel := &c.Parcels[i]
		if parcel.Stage == "" {
			parcel.Stage = string(models.StageDormant)
		}
		if parcel.CapacityMM == 0 {
			parcel.CapacityMM = p.DefaultCapacityMM
		}
		if parcel.YieldTarget == 0 {
			parcel.YieldTarget = DefaultYieldTarget
		}
	}
}

// Validate checks struct constraints. Failures wrap validator.ValidationErrors.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.RegisterValidation("stage", validateStage); err != nil {
		return err
	}
	if err := v.RegisterValidation("month", validateMonth); err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func validateStage(fl validator.FieldLevel) bool {
	_, err := models.ParseStage(fl.Field().String())
	return err == nil
}

func validateMonth(fl validator.FieldLevel) bool {
	m, err := strconv.Atoi(fl.Field().String())
	return err == nil && m >= 1 && m <= 12
}

func (c *Config) TimeLocation() (*time.Location, error) {
	return time.LoadLocation(c.Location.Timezone)
}

// WaterParams converts the parameters to the simulator's form.
func (c *Config) WaterParams() waterbalance.Params {
	kc := make(map[time.Month]float64, len(c.Parameters.CalendarKc))
	for k, v := range c.Parameters.CalendarKc {
		if m, err := strconv.Atoi(k); err == nil {
			kc[time.Month(m)] = v
		}
	}
	return waterbalance.Params{
		CapacityMM:     c.Parameters.DefaultCapacityMM,
		RunoffFraction: c.Parameters.RunoffFraction,
		InterceptionMM: c.Parameters.InterceptionMM,
		CalendarKc:     kc,
	}
}

func (c *Config) EngineConfig() decision.Config {
	return decision.Config{
		Water:     c.WaterParams(),
		EnableIPI: c.Parameters.EnableIPI == nil || *c.Parameters.EnableIPI,
	}
}

// ParcelModels returns the configured parcels. Biofix strings were validated.
func (c *Config) ParcelModels() []models.Parcel {
	parcels := make([]models.Parcel, 0, len(c.Parcels))
	for _, p := range c.Parcels {
		stage, _ := models.ParseStage(p.Stage)
		parcel := models.Parcel{
			Name:        p.Name,
			AreaHa:      p.AreaHa,
			Cultivars:   p.Cultivars,
			Stage:       stage,
			CapacityMM:  p.CapacityMM,
			YieldTarget: p.YieldTarget,
		}
		if d, err := models.ParseDate(p.Biofix); err == nil {
			parcel.Biofix.Time = d
			parcel.Biofix.Valid = true
		}
		parcels = append(parcels, parcel)
	}
	return parcels
}

// Catalog returns the built-in products overlaid with any configured ones.
func (c *Config) Catalog() *protection.Catalog {
	products := protection.DefaultProducts()
	for _, p := range c.Products {
		products = append(products, models.Product{
			ID:                  p.ID,
			Name:                p.Name,
			PersistenceDays:     p.PersistenceDays,
			LeachingThresholdMM: p.LeachingThresholdMM,
			Class:               models.ProductClass(p.Class),
			ReferenceDoseKgHa:   p.ReferenceDoseKgHa,
			Registration:        p.Registration,
		})
	}
	return protection.NewCatalog(products)
}
