package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/vinerisk/internal/decision"
	"github.com/lox/vinerisk/internal/models"
	"github.com/lox/vinerisk/internal/store"
)

// Store is the read side of persistence the API needs. *store.Store
// satisfies it.
type Store interface {
	ListParcels() ([]models.Parcel, error)
	GetParcel(name string) (*models.Parcel, error)
	GetAnalyses(parcel string, start, end time.Time) ([]models.AnalysisRecord, error)
	TreatmentsForParcel(parcel string) ([]models.Treatment, error)
	GetRecentIngestRuns(limit int) ([]store.IngestRun, error)
	GetUrgentAnalyses(urgency string, days int) ([]models.AnalysisRecord, error)
	GetHeatUnits(start, end time.Time) (map[string]float64, error)
	MigrationVersion() (int, error)
}

// Analyzer computes an analysis on demand. The server expects an
// implementation that does not persist results, since GET must not write.
type Analyzer interface {
	Analyze(parcel models.Parcel, asOf time.Time) decision.Analysis
}

// WeatherStatus reports how much history is cached.
type WeatherStatus interface {
	Len() int
	Days() []models.DailyWeather
	Range(from, to time.Time) []models.DailyWeather
}

type Server struct {
	store    Store
	engine   Analyzer
	weather  WeatherStatus
	products []models.Product
	port     string
	today    func() time.Time
	logger   *slog.Logger
}

func NewServer(st Store, engine Analyzer, weather WeatherStatus, products []models.Product, port string, today func() time.Time, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if today == nil {
		today = func() time.Time { return models.Day(time.Now()) }
	}
	return &Server{
		store:    st,
		engine:   engine,
		weather:  weather,
		products: products,
		port:     port,
		today:    today,
		logger:   logger,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", s.handleProducts)
		r.Get("/alerts", s.handleAlerts)
		r.Get("/weather", s.handleWeather)
		r.Get("/parcels", s.handleParcels)
		r.Route("/parcels/{name}", func(r chi.Router) {
			r.Get("/analysis", s.handleAnalysis)
			r.Get("/history", s.handleHistory)
			r.Get("/treatments", s.handleTreatments)
		})
	})
	return r
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "port", s.port)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
