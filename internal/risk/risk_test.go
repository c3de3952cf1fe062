package risk

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/vinerisk/internal/models"
)

func nf(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

func wx(date string, rain, mean, humidity float64) models.DailyWeather {
	d, err := models.ParseDate(date)
	if err != nil {
		panic(err)
	}
	return models.DailyWeather{
		Date:          d,
		Precipitation: nf(rain),
		TempMean:      nf(mean),
		TempMax:       nf(mean + 5),
		TempMin:       nf(mean - 5),
		Humidity:      nf(humidity),
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		score float64
		want  Level
	}{
		{10, LevelStrong},
		{7, LevelStrong},
		{6.9, LevelModerate},
		{4, LevelModerate},
		{3.9, LevelWeak},
		{0, LevelWeak},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.score), "score %v", tt.score)
	}
}

func TestStageCoefficient(t *testing.T) {
	assert.Equal(t, 0.0, StageCoefficient(models.StageDormant))
	assert.Equal(t, 2.0, StageCoefficient(models.StageBloom))
	assert.Equal(t, 1.0, StageCoefficient(models.Stage("unknown")))
}

func TestMeanSensitivity(t *testing.T) {
	assert.Equal(t, 7.5, MeanSensitivity([]string{"Pinot Noir", "Merlot"}))
	assert.Equal(t, DefaultSensitivity, MeanSensitivity([]string{"Unlisted"}))
	assert.Equal(t, DefaultSensitivity, MeanSensitivity(nil))
}

func TestSimple_WetWarmWindowIsStrong(t *testing.T) {
	window := []models.DailyWeather{
		wx("2026-05-10", 12, 22, 90),
		wx("2026-05-11", 0, 22, 90),
		wx("2026-05-12", 0, 22, 90),
	}

	got := Simple(window, 1.0, 5)

	assert.Equal(t, 10.0, got.Score)
	assert.Equal(t, LevelStrong, got.Level)
}

func TestSimple(t *testing.T) {
	tests := []struct {
		name        string
		window      []models.DailyWeather
		stageCoef   float64
		sensitivity float64
		want        Result
	}{
		{
			name:      "empty window",
			stageCoef: 1, sensitivity: 5,
			want: Result{0, LevelWeak},
		},
		{
			name:      "dormant stage zeroes score",
			window:    []models.DailyWeather{wx("2026-05-10", 12, 22, 90)},
			stageCoef: 0, sensitivity: 5,
			want: Result{0, LevelWeak},
		},
		{
			name: "dry cool window",
			window: []models.DailyWeather{
				wx("2026-05-10", 0, 12, 60),
				wx("2026-05-11", 0, 12, 60),
			},
			stageCoef: 1, sensitivity: 5,
			want: Result{1, LevelWeak},
		},
		{
			name: "moderate rain scaled by sensitivity",
			window: []models.DailyWeather{
				wx("2026-05-10", 3, 18, 70),
				wx("2026-05-11", 3, 18, 70),
			},
			stageCoef: 1, sensitivity: 8,
			want: Result{8, LevelStrong},
		},
		{
			name: "capped at ten",
			window: []models.DailyWeather{
				wx("2026-05-10", 15, 21, 95),
			},
			stageCoef: 2, sensitivity: 8,
			want: Result{10, LevelStrong},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Simple(tt.window, tt.stageCoef, tt.sensitivity))
		})
	}
}

func TestSimple_ClassifiesBeforeRounding(t *testing.T) {
	dry := []models.DailyWeather{
		wx("2026-04-20", 0, 17, 70),
		wx("2026-04-21", 0, 17, 70),
		wx("2026-04-22", 0, 17, 70),
	}
	got := Simple(dry, 1.8, 5.5)
	assert.Equal(t, 4.0, got.Score)
	assert.Equal(t, LevelWeak, got.Level, "3.96 is below the moderate threshold")

	wet := []models.DailyWeather{wx("2026-04-20", 10, 17, 90)}
	got = Simple(wet, 0.87, 5)
	assert.Equal(t, 7.0, got.Score)
	assert.Equal(t, LevelModerate, got.Level, "6.96 is below the strong threshold")
}

func TestSimple_NoHumidityIsWeak(t *testing.T) {
	d := wx("2026-05-10", 12, 22, 0)
	d.Humidity = sql.NullFloat64{}
	assert.Equal(t, Result{0, LevelWeak}, Simple([]models.DailyWeather{d}, 1, 5))
}

func TestPowdery(t *testing.T) {
	warmHumid := func(date string) models.DailyWeather {
		d := wx(date, 0, 20, 70)
		d.TempMax = nf(25)
		return d
	}

	var week []models.DailyWeather
	for i := 10; i <= 16; i++ {
		week = append(week, warmHumid(time.Date(2026, 6, i, 0, 0, 0, 0, time.UTC).Format(models.DateLayout)))
	}

	got := Powdery(week, 1.5)
	assert.Equal(t, Result{10, LevelStrong}, got)

	got = Powdery(week, 0.75)
	assert.Equal(t, Result{5, LevelModerate}, got)

	assert.Equal(t, Result{0, LevelWeak}, Powdery(nil, 1.5))
}

func TestPowdery_ClassifiesBeforeRounding(t *testing.T) {
	day := wx("2026-06-10", 0, 20, 70)
	day.TempMax = nf(25)
	week := []models.DailyWeather{day}

	got := Powdery(week, 0.594)
	assert.Equal(t, 4.0, got.Score)
	assert.Equal(t, LevelWeak, got.Level)

	got = Powdery(week, 1.044)
	assert.Equal(t, 7.0, got.Score)
	assert.Equal(t, LevelModerate, got.Level)
}

func TestPowdery_HeatAndRainSuppress(t *testing.T) {
	hot := wx("2026-07-10", 0, 28, 40)
	hot.TempMax = nf(35)
	stormy := wx("2026-07-11", 8, 20, 70)
	stormy.TempMax = nf(35)

	assert.Equal(t, -2.0, powderyDayScore(hot))
	assert.Equal(t, -3.0, powderyDayScore(stormy))

	got := Powdery([]models.DailyWeather{hot, stormy}, 2.0)
	assert.Equal(t, Result{0, LevelWeak}, got)
}

func TestBoundingKeys(t *testing.T) {
	keys := []float64{3, 5, 7}
	tests := []struct {
		v      float64
		lo, hi float64
	}{
		{1, 3, 3},
		{3, 3, 3},
		{4, 3, 5},
		{5, 5, 7},
		{6.5, 5, 7},
		{7, 7, 7},
		{12, 7, 7},
	}
	for _, tt := range tests {
		lo, hi := boundingKeys(keys, tt.v)
		assert.Equal(t, tt.lo, lo, "lo for %v", tt.v)
		assert.Equal(t, tt.hi, hi, "hi for %v", tt.v)
	}
}

func TestIPI_ExactKey(t *testing.T) {
	assert.Equal(t, 20, IPI(16, 6))
}

func TestIPI_ReproducesEveryTableCell(t *testing.T) {
	for temp, durations := range infectionPotential {
		for hours, want := range durations {
			assert.Equal(t, int(want), IPI(temp, hours), "temp %v wetness %v", temp, hours)
		}
	}
}

func TestIPI_OutsideTemperatureDomain(t *testing.T) {
	for _, temp := range []float64{-5, 9.99, 27.01, 35} {
		assert.Equal(t, 0, IPI(temp, 10), "temp %v", temp)
	}
}

func TestIPI_Interpolation(t *testing.T) {
	// Between wetness keys inside one band: 16°C, 7h sits midway 20..30.
	assert.Equal(t, 25, IPI(16, 7))
	// Wetness clamps at the band edges.
	assert.Equal(t, 10, IPI(10, 2))
	assert.Equal(t, 50, IPI(10, 24))
	// Between temperature bands: 17.5°C at 6h is midway between
	// 16°C (20) and 19°C (5h..7h -> 30).
	assert.Equal(t, 25, IPI(17.5, 6))
}

func TestWetnessDuration(t *testing.T) {
	tests := []struct {
		rain, humidity float64
		want           float64
	}{
		{1.9, 95, 0},
		{2, 70, 1.6},
		{4, 85, 3.52},
		{10, 70, 12},
		{10, 95, 15.6},
		{30, 95, 24},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, WetnessDuration(tt.rain, tt.humidity), 1e-9, "rain %v humidity %v", tt.rain, tt.humidity)
	}
}

func TestClassifyIPI(t *testing.T) {
	assert.Equal(t, LevelStrong, ClassifyIPI(60))
	assert.Equal(t, LevelModerate, ClassifyIPI(59))
	assert.Equal(t, LevelModerate, ClassifyIPI(30))
	assert.Equal(t, LevelWeak, ClassifyIPI(29))
}

func TestEvaluateIPI(t *testing.T) {
	window := []models.DailyWeather{
		wx("2026-05-10", 1, 16, 70),
		wx("2026-05-11", 10, 19, 95),
		wx("2026-05-12", 3, 22, 95),
	}

	got := EvaluateIPI(window, 1.5)

	require.Empty(t, got.Reason)
	assert.Equal(t, "2026-05-11", got.Date)
	assert.InDelta(t, 15.6, got.Wetness, 1e-9)
	assert.Equal(t, 100, got.Value)
	assert.Equal(t, LevelStrong, got.Level)
}

func TestEvaluateIPI_ZeroResults(t *testing.T) {
	wet := []models.DailyWeather{wx("2026-05-10", 10, 19, 95)}
	dry := []models.DailyWeather{wx("2026-05-10", 1.5, 19, 95)}

	assert.Equal(t, IPIReasonDormant, EvaluateIPI(wet, 0).Reason)
	assert.Equal(t, IPIReasonInsufficient, EvaluateIPI(nil, 1).Reason)

	got := EvaluateIPI(dry, 1)
	assert.Equal(t, 0, got.Value)
	assert.Equal(t, IPIReasonRainfall, got.Reason)
}
