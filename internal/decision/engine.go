package decision

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lox/vinerisk/internal/metrics"
	"github.com/lox/vinerisk/internal/models"
	"github.com/lox/vinerisk/internal/phenology"
	"github.com/lox/vinerisk/internal/protection"
	"github.com/lox/vinerisk/internal/risk"
	"github.com/lox/vinerisk/internal/waterbalance"
)

// Window lengths, in calendar days ending on the analysis date.
const (
	DownyWindowDays   = 3
	PowderyWindowDays = 7
)

// WeatherReader is the read side of the weather history.
type WeatherReader interface {
	Days() []models.DailyWeather
	Window(end time.Time, n int) []models.DailyWeather
	After(date time.Time, limit int) []models.DailyWeather
	Get(date time.Time) (models.DailyWeather, bool)
	BaseTemp() float64
}

type TreatmentProvider interface {
	TreatmentsForParcel(parcel string) ([]models.Treatment, error)
}

type Recorder interface {
	UpsertAnalysis(rec models.AnalysisRecord) error
}

type Config struct {
	Water     waterbalance.Params
	EnableIPI bool
}

type Engine struct {
	weather    WeatherReader
	treatments TreatmentProvider
	recorder   Recorder
	cfg        Config
	logger     *slog.Logger
}

// NewEngine builds an engine. treatments and recorder may be nil.
func NewEngine(weather WeatherReader, treatments TreatmentProvider, recorder Recorder, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		weather:    weather,
		treatments: treatments,
		recorder:   recorder,
		cfg:        cfg,
		logger:     logger,
	}
}

type TreatmentSummary struct {
	Date     string  `json:"date"`
	Product  string  `json:"product"`
	Class    string  `json:"class"`
	DoseKgHa float64 `json:"dose_kg_ha"`
}

type Forecast struct {
	RainMM float64  `json:"rain_mm"`
	Dates  []string `json:"dates"`
}

type CurrentWeather struct {
	TempMax       *float64 `json:"temp_max,omitempty"`
	TempMin       *float64 `json:"temp_min,omitempty"`
	TempMean      *float64 `json:"temp_mean,omitempty"`
	Precipitation *float64 `json:"precipitation,omitempty"`
	Humidity      *float64 `json:"humidity,omitempty"`
	ET0           *float64 `json:"et0,omitempty"`
}

// Analysis is the full snapshot produced for one parcel on one date.
type Analysis struct {
	Parcel      string                 `json:"parcel"`
	Date        string                 `json:"date"`
	Cultivars   []string               `json:"cultivars"`
	Stage       models.Stage           `json:"stage"`
	Sensitivity float64                `json:"sensitivity"`
	Current     *CurrentWeather        `json:"current,omitempty"`
	Phenology   phenology.Accumulation `json:"phenology"`
	Prediction  phenology.Prediction   `json:"prediction"`
	Water       waterbalance.Result    `json:"water_balance"`
	Downy       risk.Result            `json:"downy"`
	IPI         *risk.IPIResult        `json:"ipi,omitempty"`
	Powdery     risk.Result            `json:"powdery"`
	Protection  protection.Result      `json:"protection"`
	Treatment   *TreatmentSummary      `json:"last_treatment,omitempty"`
	Forecast    Forecast               `json:"forecast"`
	Verdict     Verdict                `json:"verdict"`
	Diagnostics []string               `json:"diagnostics,omitempty"`
}

// Analyze runs every model for the parcel as of asOf and fuses them. It never
// fails: missing weather, treatments or persistence degrade to sentinel
// values and a diagnostic. The weather history is expected to be refreshed
// already.
func (e *Engine) Analyze(parcel models.Parcel, asOf time.Time) Analysis {
	asOf = models.Day(asOf)
	a := Analysis{
		Parcel:      parcel.Name,
		Date:        models.DateKey(asOf),
		Cultivars:   parcel.Cultivars,
		Stage:       parcel.Stage,
		Sensitivity: risk.MeanSensitivity(parcel.Cultivars),
	}

	days := e.weather.Days()
	if len(days) == 0 {
		a.Diagnostics = append(a.Diagnostics, "weather history is empty")
	}
	if today, ok := e.weather.Get(asOf); ok {
		a.Current = currentWeather(today)
	}

	stageCoef := risk.StageCoefficient(parcel.Stage)

	a.Downy = risk.Simple(e.weather.Window(asOf, DownyWindowDays), stageCoef, a.Sensitivity)
	if e.cfg.EnableIPI {
		ipi := risk.EvaluateIPI(e.weather.Window(asOf, DownyWindowDays), stageCoef)
		a.IPI = &ipi
	}
	a.Powdery = risk.Powdery(e.weather.Window(asOf, PowderyWindowDays), stageCoef)

	a.Phenology = phenology.Accumulate(parcel, days, asOf)
	a.Prediction = phenology.PredictArrival(a.Phenology, days, asOf, e.weather.BaseTemp(), parcel.Stage)

	params := e.cfg.Water
	if parcel.CapacityMM > 0 {
		params.CapacityMM = parcel.CapacityMM
	}
	a.Water = waterbalance.Simulate(days, parcel.Stage, float64(a.Phenology.Cumulative), params, asOf)
	if a.Water.Level == waterbalance.LevelInsufficient {
		a.Diagnostics = append(a.Diagnostics, "water balance: insufficient data since cycle start")
	}

	latest := e.latestTreatment(parcel.Name, &a)
	a.Protection = protection.Evaluate(latest, asOf, parcel.Stage, days)
	if latest != nil {
		a.Treatment = &TreatmentSummary{
			Date:     models.DateKey(latest.Date),
			Product:  latest.Product.Name,
			Class:    string(latest.Product.Class),
			DoseKgHa: latest.DoseKgHa,
		}
	}

	for _, d := range e.weather.After(asOf, ForecastDays) {
		a.Forecast.RainMM += d.Rain()
		a.Forecast.Dates = append(a.Forecast.Dates, models.DateKey(d.Date))
	}

	a.Verdict = Fuse(Signals{
		Downy:          a.Downy,
		Protection:     a.Protection,
		Powdery:        a.Powdery,
		Water:          a.Water,
		ForecastRainMM: a.Forecast.RainMM,
	})
	metrics.AnalysesTotal.WithLabelValues(string(a.Verdict.Urgency)).Inc()

	e.record(a)
	return a
}

func (e *Engine) latestTreatment(parcel string, a *Analysis) *models.Treatment {
	if e.treatments == nil {
		return nil
	}
	treatments, err := e.treatments.TreatmentsForParcel(parcel)
	if err != nil {
		e.logger.Warn("load treatments", "parcel", parcel, "err", err)
		a.Diagnostics = append(a.Diagnostics, "treatment history unavailable, assuming no treatment")
		return nil
	}
	return protection.Latest(treatments)
}

func (e *Engine) record(a Analysis) {
	if e.recorder == nil {
		return
	}
	rec, err := a.Record()
	if err != nil {
		e.logger.Error("encode analysis", "parcel", a.Parcel, "err", err)
		return
	}
	if err := e.recorder.UpsertAnalysis(rec); err != nil {
		e.logger.Error("record analysis", "parcel", a.Parcel, "err", err)
	}
}

// Record summarises the analysis for persistence.
func (a Analysis) Record() (models.AnalysisRecord, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return models.AnalysisRecord{}, err
	}
	date, err := models.ParseDate(a.Date)
	if err != nil {
		return models.AnalysisRecord{}, err
	}
	return models.AnalysisRecord{
		Parcel:       a.Parcel,
		Date:         date,
		Risk:         a.Downy.Score,
		Protection:   a.Protection.Score,
		Score:        a.Verdict.Score,
		Urgency:      string(a.Verdict.Urgency),
		Action:       string(a.Verdict.Action),
		PowderyLevel: string(a.Powdery.Level),
		ReservePct:   a.Water.ReservePct,
		GDD:          a.Phenology.Cumulative,
		Payload:      payload,
	}, nil
}

func currentWeather(d models.DailyWeather) *CurrentWeather {
	return &CurrentWeather{
		TempMax:       floatPtr(d.TempMax),
		TempMin:       floatPtr(d.TempMin),
		TempMean:      floatPtr(d.TempMean),
		Precipitation: floatPtr(d.Precipitation),
		Humidity:      floatPtr(d.Humidity),
		ET0:           floatPtr(d.ET0),
	}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}
