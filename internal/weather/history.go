// Package weather holds the in-process daily weather history that every model
// reads from. The history is merged from upstream fetches field by field so
// that a partial fetch can fill gaps but never erase values already stored.
package weather

import (
	"database/sql"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/lox/vinerisk/internal/models"
)

// Fallbacks used when neither the incoming nor the stored record has a value.
const (
	FallbackPrecipitation = 0.0
	FallbackHumidity      = 60.0
	FallbackET0           = 3.5
)

// RetentionDays is the rolling window kept outside the current calendar year.
const RetentionDays = 366

// Persister receives the full history after every merge.
type Persister interface {
	ReplaceWeatherDays(days []models.DailyWeather) error
	ReplaceHeatUnits(units map[string]float64) error
}

type MergeStats struct {
	Added   int
	Updated int
	Skipped int
	Pruned  int
}

type History struct {
	mu       sync.RWMutex
	days     map[string]models.DailyWeather
	baseTemp float64
	persist  Persister
	logger   *slog.Logger
}

func NewHistory(baseTemp float64, persist Persister, logger *slog.Logger) *History {
	if logger == nil {
		logger = slog.Default()
	}
	return &History{
		days:     make(map[string]models.DailyWeather),
		baseTemp: baseTemp,
		persist:  persist,
		logger:   logger,
	}
}

// BaseTemp is the heat-unit base temperature the history was built with.
func (h *History) BaseTemp() float64 {
	return h.baseTemp
}

// Load replaces the in-memory history with previously persisted days.
func (h *History) Load(days []models.DailyWeather) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.days = make(map[string]models.DailyWeather, len(days))
	for _, d := range days {
		d.Date = models.Day(d.Date)
		h.days[models.DateKey(d.Date)] = d
	}
}

// Merge folds a freshly fetched batch into the history, prunes expired days
// and persists the result. An empty batch leaves everything untouched.
func (h *History) Merge(batch []models.DailyWeather, today time.Time) MergeStats {
	var stats MergeStats
	if len(batch) == 0 {
		return stats
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, incoming := range batch {
		if isEmpty(incoming) {
			stats.Skipped++
			continue
		}
		key := models.DateKey(incoming.Date)
		existing, ok := h.days[key]
		h.days[key] = MergeDay(existing, ok, incoming, h.baseTemp)
		if ok {
			stats.Updated++
		} else {
			stats.Added++
		}
	}

	stats.Pruned = h.pruneLocked(today)
	h.persistLocked()
	return stats
}

// Prune drops days older than the retention window unless they fall in the
// current calendar year.
func (h *History) Prune(today time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pruneLocked(today)
}

func (h *History) pruneLocked(today time.Time) int {
	today = models.Day(today)
	pruned := 0
	for key, d := range h.days {
		age := int(today.Sub(d.Date).Hours() / 24)
		if age <= RetentionDays || d.Date.Year() == today.Year() {
			continue
		}
		delete(h.days, key)
		pruned++
	}
	return pruned
}

func (h *History) persistLocked() {
	if h.persist == nil {
		return
	}
	days := h.sortedLocked()
	if err := h.persist.ReplaceWeatherDays(days); err != nil {
		h.logger.Error("persist weather history", "err", err)
		return
	}
	units := make(map[string]float64, len(days))
	for _, d := range days {
		units[models.DateKey(d.Date)] = d.HeatUnits
	}
	if err := h.persist.ReplaceHeatUnits(units); err != nil {
		h.logger.Error("persist heat units", "err", err)
	}
}

// MergeDay combines a stored record with an incoming one. Each field takes the
// incoming value when present, else the stored value, else a fallback.
// Mean temperature and heat units are derived from the merged extremes.
func MergeDay(existing models.DailyWeather, ok bool, incoming models.DailyWeather, baseTemp float64) models.DailyWeather {
	if !ok {
		existing = models.DailyWeather{}
	}
	out := models.DailyWeather{
		Date:          models.Day(incoming.Date),
		TempMax:       prefer(incoming.TempMax, existing.TempMax),
		TempMin:       prefer(incoming.TempMin, existing.TempMin),
		Precipitation: withFallback(prefer(incoming.Precipitation, existing.Precipitation), FallbackPrecipitation),
		Humidity:      withFallback(prefer(incoming.Humidity, existing.Humidity), FallbackHumidity),
		ET0:           withFallback(prefer(incoming.ET0, existing.ET0), FallbackET0),
	}
	out.TempMean = meanTemp(out.TempMax, out.TempMin)
	if out.TempMean.Valid {
		out.HeatUnits = HeatUnits(out.TempMean.Float64, baseTemp)
	}
	return out
}

// HeatUnits is the daily growing-degree contribution, floored at zero.
func HeatUnits(mean, base float64) float64 {
	return max(0, mean-base)
}

func meanTemp(tmax, tmin sql.NullFloat64) sql.NullFloat64 {
	switch {
	case tmax.Valid && tmin.Valid:
		return sql.NullFloat64{Float64: (tmax.Float64 + tmin.Float64) / 2, Valid: true}
	case tmax.Valid:
		return tmax
	case tmin.Valid:
		return tmin
	}
	return sql.NullFloat64{}
}

func prefer(incoming, stored sql.NullFloat64) sql.NullFloat64 {
	if incoming.Valid {
		return incoming
	}
	return stored
}

func withFallback(v sql.NullFloat64, fallback float64) sql.NullFloat64 {
	if v.Valid {
		return v
	}
	return sql.NullFloat64{Float64: fallback, Valid: true}
}

func isEmpty(d models.DailyWeather) bool {
	return !d.TempMax.Valid && !d.TempMin.Valid && !d.Precipitation.Valid && !d.ET0.Valid
}

func (h *History) Get(date time.Time) (models.DailyWeather, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	d, ok := h.days[models.DateKey(date)]
	return d, ok
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.days)
}

// Days returns the full history in date order.
func (h *History) Days() []models.DailyWeather {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sortedLocked()
}

// Range returns stored days within [from, to], in date order.
func (h *History) Range(from, to time.Time) []models.DailyWeather {
	from, to = models.Day(from), models.Day(to)
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []models.DailyWeather
	for _, d := range h.days {
		if d.Date.Before(from) || d.Date.After(to) {
			continue
		}
		out = append(out, d)
	}
	sortDays(out)
	return out
}

// Window returns the stored days among the n calendar days ending at end.
func (h *History) Window(end time.Time, n int) []models.DailyWeather {
	if n <= 0 {
		return nil
	}
	end = models.Day(end)
	return h.Range(end.AddDate(0, 0, -(n - 1)), end)
}

// After returns up to limit stored days strictly after date, in date order.
func (h *History) After(date time.Time, limit int) []models.DailyWeather {
	date = models.Day(date)
	h.mu.RLock()
	var out []models.DailyWeather
	for _, d := range h.days {
		if d.Date.After(date) {
			out = append(out, d)
		}
	}
	h.mu.RUnlock()
	sortDays(out)
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (h *History) sortedLocked() []models.DailyWeather {
	out := make([]models.DailyWeather, 0, len(h.days))
	for _, d := range h.days {
		out = append(out, d)
	}
	sortDays(out)
	return out
}

func sortDays(days []models.DailyWeather) {
	sort.Slice(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })
}
