package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lox/vinerisk/internal/decision"
	"github.com/lox/vinerisk/internal/models"
	"github.com/lox/vinerisk/internal/store"
)

// HistoryStaleAfter is how old the newest observed day may get before
// /health reports the weather as stale.
const HistoryStaleAfter = 2 * 24 * time.Hour

type HealthStatus struct {
	Status        string     `json:"status"`
	SchemaVersion int        `json:"schema_version"`
	WeatherDays   int        `json:"weather_days"`
	LatestDay     string     `json:"latest_day,omitempty"`
	LastFetch     *FetchInfo `json:"last_fetch,omitempty"`
}

type FetchInfo struct {
	StartedAt time.Time `json:"started_at"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

type ParcelView struct {
	Name        string       `json:"name"`
	AreaHa      float64      `json:"area_ha"`
	Cultivars   []string     `json:"cultivars"`
	Stage       models.Stage `json:"stage"`
	Biofix      string       `json:"biofix,omitempty"`
	CapacityMM  float64      `json:"capacity_mm"`
	YieldTarget float64      `json:"yield_target"`
}

type AnalysisView struct {
	Parcel       string          `json:"parcel,omitempty"`
	Date         string          `json:"date"`
	Risk         float64         `json:"risk"`
	Protection   float64         `json:"protection"`
	Score        float64         `json:"score"`
	Urgency      string          `json:"urgency"`
	Action       string          `json:"action"`
	PowderyLevel string          `json:"powdery_level"`
	ReservePct   float64         `json:"reserve_pct"`
	GDD          int             `json:"gdd"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

type TreatmentView struct {
	ID       int64          `json:"id"`
	Date     string         `json:"date"`
	Product  models.Product `json:"product"`
	DoseKgHa float64        `json:"dose_kg_ha"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{Status: "ok"}
	if s.weather != nil {
		health.WeatherDays = s.weather.Len()
		latest := s.latestObserved()
		if latest.IsZero() {
			health.Status = "degraded"
		} else {
			health.LatestDay = models.DateKey(latest)
			if s.today().Sub(latest) > HistoryStaleAfter {
				health.Status = "degraded"
			}
		}
	}

	version, err := s.store.MigrationVersion()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	health.SchemaVersion = version

	runs, err := s.store.GetRecentIngestRuns(1)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	if len(runs) > 0 {
		health.LastFetch = &FetchInfo{StartedAt: runs[0].StartedAt, Success: runs[0].Success}
		if runs[0].ErrorMessage.Valid {
			health.LastFetch.Error = runs[0].ErrorMessage.String
		}
	}
	writeJSON(w, http.StatusOK, health)
}

// latestObserved is the newest cached day not in the future.
func (s *Server) latestObserved() time.Time {
	today := s.today()
	var latest time.Time
	for _, d := range s.weather.Days() {
		if d.Date.After(today) {
			break
		}
		latest = d.Date
	}
	return latest
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.products)
}

func (s *Server) handleParcels(w http.ResponseWriter, r *http.Request) {
	parcels, err := s.store.ListParcels()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	views := make([]ParcelView, 0, len(parcels))
	for _, p := range parcels {
		views = append(views, parcelView(p))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	parcel, ok := s.parcel(w, r)
	if !ok {
		return
	}
	asOf := s.today()
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := models.ParseDate(v)
		if err != nil {
			http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		asOf = d
	}
	writeJSON(w, http.StatusOK, s.engine.Analyze(*parcel, asOf))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	parcel, ok := s.parcel(w, r)
	if !ok {
		return
	}
	from, to, ok := dateRange(w, r)
	if !ok {
		return
	}
	records, err := s.store.GetAnalyses(parcel.Name, from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	withPayload := r.URL.Query().Get("full") == "1"
	views := make([]AnalysisView, 0, len(records))
	for _, rec := range records {
		v := analysisView(rec)
		if withPayload && json.Valid(rec.Payload) {
			v.Payload = rec.Payload
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

// handleAlerts lists recent analyses at a given urgency across all parcels.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	urgency := r.URL.Query().Get("urgency")
	if urgency == "" {
		urgency = string(decision.UrgencyHigh)
	}
	switch decision.Urgency(urgency) {
	case decision.UrgencyHigh, decision.UrgencyModerate, decision.UrgencyLow:
	default:
		http.Error(w, "urgency must be high, moderate or low", http.StatusBadRequest)
		return
	}
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 366 {
			http.Error(w, "days must be between 1 and 366", http.StatusBadRequest)
			return
		}
		days = n
	}
	records, err := s.store.GetUrgentAnalyses(urgency, days)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	views := make([]AnalysisView, 0, len(records))
	for _, rec := range records {
		v := analysisView(rec)
		v.Parcel = rec.Parcel
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

type WeatherDayView struct {
	Date          string   `json:"date"`
	TempMax       *float64 `json:"temp_max"`
	TempMin       *float64 `json:"temp_min"`
	TempMean      *float64 `json:"temp_mean"`
	Precipitation *float64 `json:"precipitation"`
	Humidity      *float64 `json:"humidity"`
	ET0           *float64 `json:"et0"`
	HeatUnits     float64  `json:"heat_units"`
}

// handleWeather returns cached days in [from, to], defaulting to the last 30
// days through the forecast horizon. Heat units come from the persisted series.
func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	from, to, ok := dateRange(w, r)
	if !ok {
		return
	}
	if from.IsZero() {
		from = s.today().AddDate(0, 0, -30)
	}
	if to.IsZero() {
		to = s.today().AddDate(0, 0, 7)
	}
	if from.After(to) {
		http.Error(w, "from is after to", http.StatusBadRequest)
		return
	}

	units, err := s.store.GetHeatUnits(from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	days := s.weather.Range(from, to)
	views := make([]WeatherDayView, 0, len(days))
	for _, d := range days {
		key := models.DateKey(d.Date)
		hu, ok := units[key]
		if !ok {
			hu = d.HeatUnits
		}
		views = append(views, WeatherDayView{
			Date:          key,
			TempMax:       floatPtr(d.TempMax),
			TempMin:       floatPtr(d.TempMin),
			TempMean:      floatPtr(d.TempMean),
			Precipitation: floatPtr(d.Precipitation),
			Humidity:      floatPtr(d.Humidity),
			ET0:           floatPtr(d.ET0),
			HeatUnits:     hu,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleTreatments(w http.ResponseWriter, r *http.Request) {
	parcel, ok := s.parcel(w, r)
	if !ok {
		return
	}
	treatments, err := s.store.TreatmentsForParcel(parcel.Name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	views := make([]TreatmentView, 0, len(treatments))
	for _, t := range treatments {
		views = append(views, TreatmentView{
			ID:       t.ID,
			Date:     models.DateKey(t.Date),
			Product:  t.Product,
			DoseKgHa: t.DoseKgHa,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) parcel(w http.ResponseWriter, r *http.Request) (*models.Parcel, bool) {
	name := chi.URLParam(r, "name")
	p, err := s.store.GetParcel(name)
	if errors.Is(err, store.ErrParcelNotFound) {
		http.Error(w, "parcel not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return p, true
}

func dateRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	var from, to time.Time
	for key, dst := range map[string]*time.Time{"from": &from, "to": &to} {
		v := r.URL.Query().Get(key)
		if v == "" {
			continue
		}
		d, err := models.ParseDate(v)
		if err != nil {
			http.Error(w, key+" must be YYYY-MM-DD", http.StatusBadRequest)
			return time.Time{}, time.Time{}, false
		}
		*dst = d
	}
	return from, to, true
}

func analysisView(rec models.AnalysisRecord) AnalysisView {
	return AnalysisView{
		Date:         models.DateKey(rec.Date),
		Risk:         rec.Risk,
		Protection:   rec.Protection,
		Score:        rec.Score,
		Urgency:      rec.Urgency,
		Action:       rec.Action,
		PowderyLevel: rec.PowderyLevel,
		ReservePct:   rec.ReservePct,
		GDD:          rec.GDD,
	}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func parcelView(p models.Parcel) ParcelView {
	v := ParcelView{
		Name:        p.Name,
		AreaHa:      p.AreaHa,
		Cultivars:   p.Cultivars,
		Stage:       p.Stage,
		CapacityMM:  p.CapacityMM,
		YieldTarget: p.YieldTarget,
	}
	if p.Biofix.Valid {
		v.Biofix = models.DateKey(p.Biofix.Time)
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
