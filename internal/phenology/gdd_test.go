package phenology

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lox/vinerisk/internal/models"
)

func date(s string) time.Time {
	t, err := models.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

// season builds consecutive days from start, each worth the given heat units.
func season(start string, n int, units float64) []models.DailyWeather {
	first := date(start)
	days := make([]models.DailyWeather, n)
	for i := range days {
		days[i] = models.DailyWeather{
			Date:      first.AddDate(0, 0, i),
			TempMean:  sql.NullFloat64{Float64: 10 + units, Valid: true},
			HeatUnits: units,
		}
	}
	return days
}

func TestAccumulate_Dormant(t *testing.T) {
	p := models.Parcel{Stage: models.StageDormant}
	got := Accumulate(p, season("2026-03-01", 60, 8), date("2026-04-29"))

	assert.Equal(t, 0, got.Cumulative)
	assert.Equal(t, models.StageDormant, got.EstimatedStage)
	assert.Equal(t, 180, got.NextThreshold)
	assert.Equal(t, models.StageBudBreak, got.NextStage)
	assert.Equal(t, ModeDormant, got.Mode)
}

func TestAccumulate_FromMarchFirst(t *testing.T) {
	p := models.Parcel{Stage: models.StageBloom}
	days := append(season("2026-02-01", 28, 5), season("2026-03-01", 40, 7.5)...)

	got := Accumulate(p, days, date("2026-04-09"))

	assert.Equal(t, ModeMarch1, got.Mode)
	assert.Equal(t, date("2026-03-01"), got.Start)
	// 40 days * 7.5, February excluded.
	assert.Equal(t, 300, got.Cumulative)
	assert.Equal(t, models.StageShoots10cm, got.EstimatedStage)
	assert.Equal(t, models.StagePreBloom, got.NextStage)
	assert.Equal(t, 500, got.NextThreshold)
}

func TestAccumulate_TruncatesAndStopsAtAsOf(t *testing.T) {
	p := models.Parcel{Stage: models.StageBudBreak}
	got := Accumulate(p, season("2026-03-01", 30, 6.15), date("2026-03-29"))
	// 29 days * 6.15 = 178.35
	assert.Equal(t, 178, got.Cumulative)
	assert.Equal(t, models.StageDormant, got.EstimatedStage)
	assert.Equal(t, 180, got.NextThreshold)
}

func TestAccumulate_Biofix(t *testing.T) {
	tests := []struct {
		name      string
		biofix    string
		wantMode  string
		wantStart string
		wantGDD   int
	}{
		{"same season", "2026-04-01", ModeBiofix, "2026-04-01", 245},
		{"previous year", "2025-04-01", ModeMarch1, "2026-03-01", 400},
		{"in the future", "2026-06-01", ModeMarch1, "2026-03-01", 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := models.Parcel{
				Stage:  models.StageBudBreak,
				Biofix: sql.NullTime{Time: date(tt.biofix), Valid: true},
			}
			got := Accumulate(p, season("2026-03-01", 80, 5), date("2026-05-19"))
			assert.Equal(t, tt.wantMode, got.Mode)
			assert.Equal(t, date(tt.wantStart), got.Start)
			assert.Equal(t, tt.wantGDD, got.Cumulative)
		})
	}
}

func TestAccumulate_CycleComplete(t *testing.T) {
	p := models.Parcel{Stage: models.StageRipening}
	got := Accumulate(p, season("2026-03-01", 200, 10), date("2026-09-16"))

	assert.Equal(t, models.StageDormant, got.EstimatedStage)
	assert.False(t, got.HasNext())
}

func TestPredictArrival(t *testing.T) {
	asOf := date("2026-04-09")
	acc := Accumulation{Cumulative: 290, NextStage: models.StageShoots10cm, NextThreshold: 300}

	tests := []struct {
		name  string
		acc   Accumulation
		days  []models.DailyWeather
		stage models.Stage
		want  Prediction
	}{
		{
			name:  "dormant",
			acc:   acc,
			stage: models.StageDormant,
			want:  Prediction{Status: PredictionInactive, Days: -1},
		},
		{
			name:  "no next stage",
			acc:   Accumulation{Cumulative: 1900},
			stage: models.StageRipening,
			want:  Prediction{Status: PredictionComplete, Days: -1},
		},
		{
			name:  "already reached",
			acc:   Accumulation{Cumulative: 300, NextStage: models.StageShoots10cm, NextThreshold: 300},
			stage: models.StageBudBreak,
			want:  Prediction{Status: PredictionReached, Stage: models.StageShoots10cm, Days: 0},
		},
		{
			name:  "reached on third future day",
			acc:   acc,
			days:  season("2026-04-07", 10, 4),
			stage: models.StageBudBreak,
			want:  Prediction{Status: PredictionForecast, Stage: models.StageShoots10cm, Days: 3},
		},
		{
			name:  "beyond horizon",
			acc:   acc,
			days:  season("2026-04-10", 10, 1),
			stage: models.StageBudBreak,
			want:  Prediction{Status: PredictionNotWithin, Stage: models.StageShoots10cm, Days: -1},
		},
		{
			name:  "no forecast stored",
			acc:   acc,
			stage: models.StageBudBreak,
			want:  Prediction{Status: PredictionNotWithin, Stage: models.StageShoots10cm, Days: -1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PredictArrival(tt.acc, tt.days, asOf, 10, tt.stage))
		})
	}
}

func TestPrediction_String(t *testing.T) {
	p := Prediction{Status: PredictionForecast, Stage: models.StageBloom, Days: 4}
	assert.Equal(t, "bloom in ~4 days", p.String())
}
