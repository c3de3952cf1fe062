package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/lox/vinerisk/internal/config"
	"github.com/lox/vinerisk/internal/decision"
	"github.com/lox/vinerisk/internal/ingest"
	"github.com/lox/vinerisk/internal/logging"
	"github.com/lox/vinerisk/internal/models"
	"github.com/lox/vinerisk/internal/protection"
	"github.com/lox/vinerisk/internal/store"
	"github.com/lox/vinerisk/internal/weather"
)

type CLI struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file.'"`

	DB           string        `help:"Path to SQLite database." default:"data/vinerisk.db" env:"VINERISK_DB" type:"path"`
	Config       string        `help:"Vineyard configuration file (JSON)." default:"vineyard.json" env:"VINERISK_CONFIG" type:"path"`
	LogLevel     string        `help:"Log level (debug, info, warn, error)." default:"info" env:"LOG_LEVEL"`
	Dev          bool          `help:"Human-readable coloured logs." env:"VINERISK_DEV"`
	OpenMeteoURL string        `help:"Open-Meteo base URL." env:"OPEN_METEO_URL"`
	FetchTimeout time.Duration `help:"Timeout for each weather request." default:"10s" env:"VINERISK_FETCH_TIMEOUT"`

	Refresh  RefreshCmd  `cmd:"" help:"Fetch weather and merge it into the history."`
	Analyze  AnalyzeCmd  `cmd:"" help:"Analyse mildew risk, protection and water balance."`
	Stage    StageCmd    `cmd:"" help:"Record a parcel's phenological stage."`
	Treat    TreatCmd    `cmd:"" help:"Log a fungicide treatment."`
	Products ProductsCmd `cmd:"" help:"List the product catalogue."`
	IFT      IFTCmd      `cmd:"" name:"ift" help:"Treatment frequency index over a period."`
	History  HistoryCmd  `cmd:"" help:"Show stored analyses for a parcel."`
	Runs     RunsCmd     `cmd:"" help:"Show recent weather fetches or dump a raw payload."`
	Serve    ServeCmd    `cmd:"" help:"Run the refresh scheduler and HTTP API."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("vinerisk"),
		kong.Description("Vineyard downy and powdery mildew risk with water balance and treatment decisions."),
		kong.UsageOnError(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.FatalIfErrorf(kctx.Run(&cli))
}

// app holds everything a command needs once the database and vineyard file
// are open.
type app struct {
	db        *sql.DB
	store     *store.Store
	cfg       *config.Config
	history   *weather.History
	engine    *decision.Engine
	refresher *ingest.Refresher
	catalog   *protection.Catalog
	logger    *slog.Logger
}

func (c *CLI) open() (*app, error) {
	logger := logging.New(c.LogLevel, c.Dev)
	slog.SetDefault(logger)

	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.TimeLocation()
	if err != nil {
		logger.Warn("could not load timezone, using UTC", "timezone", cfg.Location.Timezone, "err", err)
		loc = time.UTC
	}

	if dir := filepath.Dir(c.DB); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", c.DB)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	_, _ = db.Exec("PRAGMA journal_mode=WAL")
	_, _ = db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db, loc)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	for _, p := range cfg.ParcelModels() {
		if err := st.SeedParcel(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("seed parcel %s: %w", p.Name, err)
		}
	}

	history := weather.NewHistory(cfg.Parameters.BaseTempGDD, st, logger)
	days, err := st.LoadWeatherDays()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load weather history: %w", err)
	}
	history.Load(days)
	pruned := history.Prune(st.Today())
	logger.Debug("weather history loaded", "days", len(days), "pruned", pruned)

	client := ingest.NewOpenMeteoClient(c.OpenMeteoURL, cfg.Location.Latitude, cfg.Location.Longitude, cfg.Location.Timezone, c.FetchTimeout)
	refresher := ingest.NewRefresher(client, history, st, st.Today, logger)

	return &app{
		db:        db,
		store:     st,
		cfg:       cfg,
		history:   history,
		engine:    decision.NewEngine(history, st, st, cfg.EngineConfig(), logger),
		refresher: refresher,
		catalog:   cfg.Catalog(),
		logger:    logger,
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// parseDay parses an optional YYYY-MM-DD flag, defaulting to today.
func (a *app) parseDay(s string) (time.Time, error) {
	if s == "" {
		return a.store.Today(), nil
	}
	d, err := models.ParseDate(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return d, nil
}
