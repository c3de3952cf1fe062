package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/lox/vinerisk/internal/httputil"
	"github.com/lox/vinerisk/internal/metrics"
	"github.com/lox/vinerisk/internal/models"
)

const (
	OpenMeteoSource   = "open-meteo"
	OpenMeteoEndpoint = "v1/forecast"
	DefaultOpenMeteo  = "https://api.open-meteo.com"

	MaxPastDays         = 90
	DefaultForecastDays = 7
	DefaultFetchTimeout = 10 * time.Second
)

const dailyFields = "temperature_2m_max,temperature_2m_min,precipitation_sum,relative_humidity_2m_mean,et0_fao_evapotranspiration"

type OpenMeteoClient struct {
	baseURL    string
	lat, lon   float64
	timezone   string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	maxElapsed time.Duration
}

// NewOpenMeteoClient returns a daily-weather client for a single location.
// An empty baseURL uses the public API.
func NewOpenMeteoClient(baseURL string, lat, lon float64, timezone string, timeout time.Duration) *OpenMeteoClient {
	if baseURL == "" {
		baseURL = DefaultOpenMeteo
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &OpenMeteoClient{
		baseURL:  baseURL,
		lat:      lat,
		lon:      lon,
		timezone: timezone,
		client:   httputil.NewClientWithTimeout(timeout),
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        OpenMeteoSource,
			MaxRequests: 1,
			Interval:    10 * time.Minute,
			Timeout:     5 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		maxElapsed: time.Minute,
	}
}

// FetchResult carries the parsed days and what is needed to audit the fetch.
type FetchResult struct {
	Days         []models.DailyWeather
	Raw          []byte
	HTTPStatus   int
	RecordCount  int
	InvalidCount int
}

type dailyResponse struct {
	Daily struct {
		Time          []string   `json:"time"`
		TempMax       []*float64 `json:"temperature_2m_max"`
		TempMin       []*float64 `json:"temperature_2m_min"`
		Precipitation []*float64 `json:"precipitation_sum"`
		Humidity      []*float64 `json:"relative_humidity_2m_mean"`
		ET0           []*float64 `json:"et0_fao_evapotranspiration"`
	} `json:"daily"`
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

// FetchDaily fetches pastDays of history and futureDays of forecast. Missing
// values stay null. pastDays is capped at MaxPastDays.
func (c *OpenMeteoClient) FetchDaily(ctx context.Context, pastDays, futureDays int) (*FetchResult, error) {
	pastDays = min(max(pastDays, 0), MaxPastDays)
	if futureDays <= 0 {
		futureDays = DefaultForecastDays
	}

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(c.lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(c.lon, 'f', 4, 64))
	q.Set("daily", dailyFields)
	q.Set("timezone", c.timezone)
	q.Set("past_days", strconv.Itoa(pastDays))
	q.Set("forecast_days", strconv.Itoa(futureDays))
	endpoint := c.baseURL + "/" + OpenMeteoEndpoint + "?" + q.Encode()

	result := &FetchResult{}
	start := time.Now()
	operation := func() error {
		body, err := c.breaker.Execute(func() ([]byte, error) {
			return c.get(ctx, endpoint, result)
		})
		if err == nil {
			result.Raw = body
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(fmt.Errorf("open-meteo unavailable: %w", err))
		}
		var se *statusError
		if errors.As(err, &se) && se.code != http.StatusTooManyRequests && se.code < 500 {
			return backoff.Permanent(fmt.Errorf("fetch daily: %w", err))
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return fmt.Errorf("fetch daily: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxElapsed
	err := backoff.Retry(operation, backoff.WithContext(bo, ctx))
	metrics.WeatherAPILatency.WithLabelValues(OpenMeteoSource).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.WeatherAPICallsTotal.WithLabelValues(OpenMeteoSource, "error").Inc()
		return result, err
	}
	metrics.WeatherAPICallsTotal.WithLabelValues(OpenMeteoSource, "ok").Inc()

	days, invalid, err := parseDaily(result.Raw)
	if err != nil {
		return result, err
	}
	result.Days = days
	result.RecordCount = len(days)
	result.InvalidCount = invalid
	return result, nil
}

func (c *OpenMeteoClient) get(ctx context.Context, endpoint string, result *FetchResult) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	result.HTTPStatus = resp.StatusCode
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, body: truncate(string(body), 200)}
	}
	return body, nil
}

func parseDaily(body []byte) ([]models.DailyWeather, int, error) {
	var data dailyResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, 0, fmt.Errorf("unmarshal: %w", err)
	}

	d := data.Daily
	days := make([]models.DailyWeather, 0, len(d.Time))
	invalid := 0
	for i, ts := range d.Time {
		date, err := models.ParseDate(ts)
		if err != nil {
			return nil, 0, fmt.Errorf("parse date %q: %w", ts, err)
		}
		day := models.DailyWeather{
			Date:          date,
			TempMax:       at(d.TempMax, i),
			TempMin:       at(d.TempMin, i),
			Precipitation: at(d.Precipitation, i),
			Humidity:      at(d.Humidity, i),
			ET0:           at(d.ET0, i),
		}
		if flags := SanitizeDay(&day); len(flags) > 0 {
			invalid++
		}
		days = append(days, day)
	}
	return days, invalid, nil
}

func at(values []*float64, i int) sql.NullFloat64 {
	if i >= len(values) || values[i] == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *values[i], Valid: true}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
