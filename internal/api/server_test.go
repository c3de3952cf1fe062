package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/lox/vinerisk/internal/decision"
	"github.com/lox/vinerisk/internal/models"
	"github.com/lox/vinerisk/internal/protection"
	"github.com/lox/vinerisk/internal/store"
	"github.com/lox/vinerisk/internal/waterbalance"
	"github.com/lox/vinerisk/internal/weather"
)

func nf(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

func date(s string) time.Time {
	d, err := models.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fixture struct {
	store   *store.Store
	history *weather.History
	server  *Server
}

func setupServer(t *testing.T) *fixture {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	st := store.New(db, time.UTC)
	require.NoError(t, st.Migrate())

	require.NoError(t, st.SeedParcel(models.Parcel{
		Name:       "north",
		AreaHa:     1.2,
		Cultivars:  []string{"Grenache"},
		Stage:      models.StageBloom,
		Biofix:     sql.NullTime{Time: date("2026-04-01"), Valid: true},
		CapacityMM: 100,
	}))

	h := weather.NewHistory(10, nil, nil)
	var days []models.DailyWeather
	for d := date("2026-05-01"); !d.After(date("2026-05-18")); d = d.AddDate(0, 0, 1) {
		days = append(days, models.DailyWeather{
			Date: d, TempMax: nf(26), TempMin: nf(16), Precipitation: nf(6), Humidity: nf(88), ET0: nf(3),
		})
	}
	h.Merge(days, date("2026-05-14"))

	engine := decision.NewEngine(h, st, nil, decision.Config{Water: waterbalance.DefaultParams(), EnableIPI: true}, nil)
	today := func() time.Time { return date("2026-05-14") }
	srv := NewServer(st, engine, h, protection.DefaultProducts(), "0", today, nil)
	return &fixture{store: st, history: h, server: srv}
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := setupServer(t)
	rec := f.get(t, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 18, health.WeatherDays)
	assert.Equal(t, "2026-05-14", health.LatestDay)
	assert.Positive(t, health.SchemaVersion)
	assert.Nil(t, health.LastFetch)
}

func TestHealth_StaleHistory(t *testing.T) {
	f := setupServer(t)
	f.server.today = func() time.Time { return date("2026-06-30") }
	run, err := f.store.StartIngestRun("open-meteo", "v1/forecast")
	require.NoError(t, err)
	run.ErrorMessage = sql.NullString{String: "timeout", Valid: true}
	require.NoError(t, f.store.CompleteIngestRun(run))

	rec := f.get(t, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "degraded", health.Status)
	require.NotNil(t, health.LastFetch)
	assert.False(t, health.LastFetch.Success)
	assert.Equal(t, "timeout", health.LastFetch.Error)
}

func TestParcels(t *testing.T) {
	f := setupServer(t)
	rec := f.get(t, "/api/parcels")
	require.Equal(t, http.StatusOK, rec.Code)

	var parcels []ParcelView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parcels))
	require.Len(t, parcels, 1)
	assert.Equal(t, "north", parcels[0].Name)
	assert.Equal(t, models.StageBloom, parcels[0].Stage)
	assert.Equal(t, "2026-04-01", parcels[0].Biofix)
}

func TestAnalysis(t *testing.T) {
	f := setupServer(t)
	rec := f.get(t, "/api/parcels/north/analysis")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var a decision.Analysis
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	assert.Equal(t, "north", a.Parcel)
	assert.Equal(t, "2026-05-14", a.Date)
	assert.NotEmpty(t, a.Verdict.Urgency)

	records, err := f.store.GetAnalyses("north", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, records, "GET does not write analyses")
}

func TestAnalysis_Date(t *testing.T) {
	f := setupServer(t)
	rec := f.get(t, "/api/parcels/north/analysis?date=2026-05-10")
	require.Equal(t, http.StatusOK, rec.Code)

	var a decision.Analysis
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	assert.Equal(t, "2026-05-10", a.Date)

	rec = f.get(t, "/api/parcels/north/analysis?date=10-05-2026")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalysis_UnknownParcel(t *testing.T) {
	f := setupServer(t)
	rec := f.get(t, "/api/parcels/south/analysis")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistory(t *testing.T) {
	f := setupServer(t)
	for _, d := range []string{"2026-05-12", "2026-05-13"} {
		require.NoError(t, f.store.UpsertAnalysis(models.AnalysisRecord{
			Parcel: "north", Date: date(d), Score: 3, Urgency: "moderate", Action: "monitor",
			Payload: []byte(`{"parcel":"north"}`),
		}))
	}

	rec := f.get(t, "/api/parcels/north/history?from=2026-05-13")
	require.Equal(t, http.StatusOK, rec.Code)
	var views []AnalysisView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "2026-05-13", views[0].Date)
	assert.Empty(t, views[0].Payload)

	rec = f.get(t, "/api/parcels/north/history?full=1")
	var full []AnalysisView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &full))
	require.Len(t, full, 2)
	assert.NotEmpty(t, full[0].Payload)

	rec = f.get(t, "/api/parcels/north/history?to=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTreatments(t *testing.T) {
	f := setupServer(t)
	product, _ := protection.NewCatalog(protection.DefaultProducts()).Resolve("cymoxanil")
	_, err := f.store.InsertTreatment(models.Treatment{Parcel: "north", Date: date("2026-05-08"), Product: product, DoseKgHa: 0.5})
	require.NoError(t, err)

	rec := f.get(t, "/api/parcels/north/treatments")
	require.Equal(t, http.StatusOK, rec.Code)
	var views []TreatmentView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "2026-05-08", views[0].Date)
	assert.Equal(t, "cymoxanil", views[0].Product.ID)
}

func TestProducts(t *testing.T) {
	f := setupServer(t)
	rec := f.get(t, "/api/products")
	require.Equal(t, http.StatusOK, rec.Code)
	var products []models.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &products))
	assert.Len(t, products, len(protection.DefaultProducts()))
}

func TestAlerts(t *testing.T) {
	f := setupServer(t)
	today := f.store.Today()
	for _, rec := range []models.AnalysisRecord{
		{Parcel: "north", Date: today, Score: 7.5, Urgency: "high", Action: "treat_now", Payload: []byte(`{}`)},
		{Parcel: "north", Date: today.AddDate(0, 0, -1), Score: 4, Urgency: "moderate", Action: "monitor", Payload: []byte(`{}`)},
		{Parcel: "north", Date: today.AddDate(0, 0, -20), Score: 8, Urgency: "high", Action: "treat_now", Payload: []byte(`{}`)},
	} {
		require.NoError(t, f.store.UpsertAnalysis(rec))
	}

	rec := f.get(t, "/api/alerts")
	require.Equal(t, http.StatusOK, rec.Code)
	var views []AnalysisView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "north", views[0].Parcel)
	assert.Equal(t, 7.5, views[0].Score)

	rec = f.get(t, "/api/alerts?urgency=high&days=30")
	var month []AnalysisView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &month))
	assert.Len(t, month, 2)

	rec = f.get(t, "/api/alerts?urgency=moderate")
	var moderate []AnalysisView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &moderate))
	assert.Len(t, moderate, 1)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/alerts?urgency=severe").Code)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/alerts?days=0").Code)
}

func TestWeather(t *testing.T) {
	f := setupServer(t)
	rec := f.get(t, "/api/weather?from=2026-05-10&to=2026-05-12")
	require.Equal(t, http.StatusOK, rec.Code)

	var views []WeatherDayView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 3)
	assert.Equal(t, "2026-05-10", views[0].Date)
	require.NotNil(t, views[0].TempMax)
	assert.Equal(t, 26.0, *views[0].TempMax)
	assert.InDelta(t, 11.0, views[0].HeatUnits, 0.001)

	rec = f.get(t, "/api/weather")
	var recent []WeatherDayView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recent))
	assert.Len(t, recent, 18)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/weather?from=2026-05-12&to=2026-05-10").Code)
}

func TestMetrics(t *testing.T) {
	f := setupServer(t)
	f.get(t, "/api/parcels/north/analysis")
	rec := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vinerisk_analyses_total")
}
