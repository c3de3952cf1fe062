package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WeatherAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vinerisk_weather_api_calls_total",
			Help: "Total weather provider API calls",
		},
		[]string{"provider", "status"},
	)

	WeatherAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vinerisk_weather_api_latency_seconds",
			Help:    "Weather provider API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	WeatherDaysMerged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vinerisk_weather_days_merged_total",
			Help: "Daily weather records merged into the history",
		},
		[]string{"result"},
	)

	RefreshFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vinerisk_refresh_fallbacks_total",
			Help: "Refreshes that failed upstream and kept the cached history",
		},
	)

	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vinerisk_analyses_total",
			Help: "Parcel analyses run, by decision urgency",
		},
		[]string{"urgency"},
	)
)
