package waterbalance

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/vinerisk/internal/models"
)

func date(s string) time.Time {
	t, err := models.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func nf(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

func series(start string, n int, rain, et0 float64) []models.DailyWeather {
	first := date(start)
	days := make([]models.DailyWeather, n)
	for i := range days {
		days[i] = models.DailyWeather{
			Date:          first.AddDate(0, 0, i),
			Precipitation: nf(rain),
			ET0:           nf(et0),
		}
	}
	return days
}

func TestStep_DryDayDrawsDownReserve(t *testing.T) {
	p := DefaultParams()

	next, trace := Step(Full(100), Input{Date: date("2026-06-01"), Rain: 0, ET0: 5, Kc: 0.5}, p)

	assert.Equal(t, 97.5, next.ReserveMM)
	assert.Equal(t, 1.0, next.Ks)
	assert.Equal(t, 2.5, trace.ETc)
	assert.Equal(t, 97.5, trace.ReservePct)
}

func TestStep_ClampsToCapacityAndZero(t *testing.T) {
	p := DefaultParams()

	next, _ := Step(Full(100), Input{Rain: 80, ET0: 1, Kc: 0.1}, p)
	assert.Equal(t, 100.0, next.ReserveMM)

	next, _ = Step(State{ReserveMM: 51, Ks: 1}, Input{Rain: 0, ET0: 200, Kc: 0.8}, p)
	assert.Equal(t, 0.0, next.ReserveMM)
}

func TestStep_StressUsesPreviousReserve(t *testing.T) {
	p := DefaultParams()

	next, trace := Step(State{ReserveMM: 25, Ks: 1}, Input{Rain: 0, ET0: 4, Kc: 0.5}, p)

	assert.Equal(t, 0.5, trace.Ks)
	assert.Equal(t, 1.0, trace.ETc)
	assert.Equal(t, 24.0, next.ReserveMM)
	assert.Equal(t, 0.5, next.Ks)
}

func TestStressCoefficient(t *testing.T) {
	assert.Equal(t, 1.0, StressCoefficient(100))
	assert.Equal(t, 1.0, StressCoefficient(50.1))
	assert.Equal(t, 1.0, StressCoefficient(50))
	assert.Equal(t, 0.5, StressCoefficient(25))
	assert.Equal(t, 0.0, StressCoefficient(0))
}

func TestEffectiveRain(t *testing.T) {
	assert.Equal(t, 0.0, EffectiveRain(0.8, 1, 0.1))
	assert.Equal(t, 0.0, EffectiveRain(1, 1, 0.1))
	assert.InDelta(t, 9.0, EffectiveRain(11, 1, 0.1), 1e-9)
}

func TestCropCoefficient(t *testing.T) {
	tests := []struct {
		gdd  float64
		want float64
	}{
		{0, 0.1},
		{199, 0.1},
		{200, 0.1},
		{400, 0.4},
		{600, 0.7},
		{900, 0.75},
		{1200, 0.8},
		{1350, 0.6},
		{1500, 0.4},
		{1800, 0.3},
		{3000, 0.3},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, CropCoefficient(tt.gdd), 1e-9, "gdd %v", tt.gdd)
	}
}

func TestCycleStart(t *testing.T) {
	assert.Equal(t, date("2025-11-01"), CycleStart(date("2026-06-15")))
	assert.Equal(t, date("2025-11-01"), CycleStart(date("2026-10-31")))
	assert.Equal(t, date("2026-11-01"), CycleStart(date("2026-11-01")))
	assert.Equal(t, date("2026-11-01"), CycleStart(date("2026-12-20")))
}

func TestSimulate_InsufficientData(t *testing.T) {
	p := DefaultParams()
	got := Simulate(series("2025-06-01", 30, 0, 5), models.StageBloom, 700, p, date("2026-06-15"))

	assert.Equal(t, LevelInsufficient, got.Level)
	assert.Equal(t, 100.0, got.ReservePct)
	assert.Equal(t, 100.0, got.ReserveMM)
	assert.Empty(t, got.Trace)
}

func TestSimulate_WinterUsesCalendarKc(t *testing.T) {
	p := DefaultParams()
	// December Kc 0.1, so 10 dry days at ET0 2 remove 2 mm.
	got := Simulate(series("2025-12-01", 10, 0, 2), models.StageDormant, 0, p, date("2025-12-10"))

	require.Len(t, got.Trace, 10)
	assert.Equal(t, 98.0, got.ReserveMM)
	assert.Equal(t, LevelComfortable, got.Level)
	assert.True(t, got.Dormant)
	assert.Equal(t, "comfortable (dormant)", got.Label())
	assert.False(t, got.SevereStress())
}

func TestSimulate_IgnoresDaysOutsideCycle(t *testing.T) {
	p := DefaultParams()
	days := append(series("2025-10-20", 12, 0, 50), series("2025-11-01", 5, 0, 0)...)
	days = append(days, series("2025-11-06", 5, 0, 50)...)

	got := Simulate(days, models.StageDormant, 0, p, date("2025-11-05"))

	require.Len(t, got.Trace, 5)
	assert.Equal(t, "2025-11-01", got.Trace[0].Date)
	assert.Equal(t, 100.0, got.ReserveMM)
}

func TestSimulate_SummerDrought(t *testing.T) {
	p := DefaultParams()
	p.CapacityMM = 60
	got := Simulate(series("2026-06-01", 60, 0, 6), models.StageVeraison, 1300, p, date("2026-07-30"))

	assert.Equal(t, LevelSevere, got.Level)
	assert.True(t, got.SevereStress())
	assert.Less(t, got.Ks, 1.0)
	for _, d := range got.Trace {
		assert.GreaterOrEqual(t, d.ReservePct, 0.0)
		assert.LessOrEqual(t, d.ReservePct, 100.0)
	}
}

func TestSimulate_GrowingSeasonKcFollowsScaledGDD(t *testing.T) {
	p := DefaultParams()
	got := Simulate(series("2026-05-01", 4, 0, 1), models.StageBloom, 800, p, date("2026-05-04"))

	// Day i is evaluated at 800*i/4 GDD: 0, 200, 400 and 600.
	require.Len(t, got.Trace, 4)
	want := []float64{0.1, 0.1, 0.4, 0.7}
	for i, kc := range want {
		assert.InDelta(t, kc, got.Trace[i].Kc, 1e-9, "day %d", i)
	}
}

func TestSimulate_DormantSevereStress(t *testing.T) {
	p := DefaultParams()
	p.CapacityMM = 10
	got := Simulate(series("2025-12-01", 30, 0, 5), models.StageDormant, 0, p, date("2025-12-30"))

	assert.Equal(t, LevelSevere, got.Level)
	assert.Equal(t, "severe_stress (dormant)", got.Label())
	assert.True(t, got.SevereStress())
}

func TestSimulate_ZeroCapacity(t *testing.T) {
	p := DefaultParams()
	p.CapacityMM = 0
	got := Simulate(series("2026-06-01", 3, 10, 5), models.StageBloom, 700, p, date("2026-06-03"))

	assert.Equal(t, 0.0, got.ReservePct)
	assert.Equal(t, 0.0, got.ReserveMM)
	assert.Equal(t, LevelSevere, got.Level)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, LevelSevere, Classify(30))
	assert.Equal(t, LevelMonitor, Classify(30.1))
	assert.Equal(t, LevelMonitor, Classify(60))
	assert.Equal(t, LevelComfortable, Classify(60.1))
}
