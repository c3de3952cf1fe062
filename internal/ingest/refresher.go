package ingest

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lox/vinerisk/internal/metrics"
	"github.com/lox/vinerisk/internal/store"
	"github.com/lox/vinerisk/internal/weather"
)

// Fetcher returns daily weather around today.
type Fetcher interface {
	FetchDaily(ctx context.Context, pastDays, futureDays int) (*FetchResult, error)
}

// RunRecorder audits each fetch. *store.Store satisfies it.
type RunRecorder interface {
	StartIngestRun(source, endpoint string) (*store.IngestRun, error)
	CompleteIngestRun(run *store.IngestRun) error
	StoreRawPayload(runID *int64, source, endpoint string, payload []byte) (int64, error)
}

type Refresher struct {
	fetcher    Fetcher
	history    *weather.History
	runs       RunRecorder
	group      singleflight.Group
	pastDays   int
	futureDays int
	today      func() time.Time
	logger     *slog.Logger
}

func NewRefresher(fetcher Fetcher, history *weather.History, runs RunRecorder, today func() time.Time, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	if today == nil {
		today = time.Now
	}
	return &Refresher{
		fetcher:    fetcher,
		history:    history,
		runs:       runs,
		pastDays:   MaxPastDays,
		futureDays: DefaultForecastDays,
		today:      today,
		logger:     logger,
	}
}

// SetWindow changes how many past and future days each refresh requests.
func (r *Refresher) SetWindow(pastDays, futureDays int) {
	r.pastDays = pastDays
	r.futureDays = futureDays
}

// Refresh fetches the latest days and merges them into the history. Callers
// arriving while a refresh is running share its result. On failure the
// history is left as it was and the error is returned for reporting only.
func (r *Refresher) Refresh(ctx context.Context) (weather.MergeStats, error) {
	v, err, _ := r.group.Do("refresh", func() (any, error) {
		return r.refresh(ctx)
	})
	stats, _ := v.(weather.MergeStats)
	return stats, err
}

func (r *Refresher) refresh(ctx context.Context) (weather.MergeStats, error) {
	var run *store.IngestRun
	if r.runs != nil {
		var err error
		run, err = r.runs.StartIngestRun(OpenMeteoSource, OpenMeteoEndpoint)
		if err != nil {
			r.logger.Warn("start ingest run", "err", err)
		}
	}

	result, err := r.fetcher.FetchDaily(ctx, r.pastDays, r.futureDays)
	r.audit(run, result, err)
	if err != nil {
		metrics.RefreshFallbacksTotal.Inc()
		r.logger.Warn("weather fetch failed, using cached history", "err", err, "cached_days", r.history.Len())
		return weather.MergeStats{}, err
	}

	stats := r.history.Merge(result.Days, r.today())
	metrics.WeatherDaysMerged.WithLabelValues("added").Add(float64(stats.Added))
	metrics.WeatherDaysMerged.WithLabelValues("updated").Add(float64(stats.Updated))
	metrics.WeatherDaysMerged.WithLabelValues("skipped").Add(float64(stats.Skipped))
	r.logger.Info("weather refreshed",
		"fetched", len(result.Days),
		"added", stats.Added,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
		"pruned", stats.Pruned,
		"invalid", result.InvalidCount,
	)

	if run != nil {
		run.RecordsStored = sql.NullInt64{Int64: int64(stats.Added + stats.Updated), Valid: true}
		if err := r.runs.CompleteIngestRun(run); err != nil {
			r.logger.Warn("complete ingest run", "err", err)
		}
	}
	return stats, nil
}

func (r *Refresher) audit(run *store.IngestRun, result *FetchResult, err error) {
	if run == nil {
		return
	}
	run.Success = err == nil
	if result != nil {
		run.HTTPStatus = sql.NullInt64{Int64: int64(result.HTTPStatus), Valid: result.HTTPStatus > 0}
		run.ResponseSizeBytes = sql.NullInt64{Int64: int64(len(result.Raw)), Valid: len(result.Raw) > 0}
		run.RecordsParsed = sql.NullInt64{Int64: int64(result.RecordCount), Valid: true}
		if len(result.Raw) > 0 {
			if _, perr := r.runs.StoreRawPayload(&run.ID, OpenMeteoSource, OpenMeteoEndpoint, result.Raw); perr != nil {
				r.logger.Warn("store raw payload", "err", perr)
			}
		}
	}
	if err != nil {
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		if cerr := r.runs.CompleteIngestRun(run); cerr != nil {
			r.logger.Warn("complete ingest run", "err", cerr)
		}
	}
}
