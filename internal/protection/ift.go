package protection

import (
	"math"
	"time"

	"github.com/lox/vinerisk/internal/models"
)

type FrequencyEntry struct {
	Date    string  `json:"date"`
	Parcel  string  `json:"parcel"`
	Product string  `json:"product"`
	Index   float64 `json:"index"`
}

// FrequencyReport is the treatment frequency index over a period: each
// application counts as its applied dose over the product's reference dose.
type FrequencyReport struct {
	From    string           `json:"from"`
	To      string           `json:"to"`
	Total   float64          `json:"total"`
	Count   int              `json:"count"`
	Entries []FrequencyEntry `json:"entries"`
}

// FrequencyIndex computes the index for treatments dated within [from, to].
func FrequencyIndex(treatments []models.Treatment, from, to time.Time) FrequencyReport {
	from, to = models.Day(from), models.Day(to)
	report := FrequencyReport{
		From:    models.DateKey(from),
		To:      models.DateKey(to),
		Entries: []FrequencyEntry{},
	}
	for _, t := range treatments {
		day := models.Day(t.Date)
		if day.Before(from) || day.After(to) {
			continue
		}
		ref := t.Product.ReferenceDoseKgHa
		if ref <= 0 {
			ref = 1.0
		}
		idx := t.DoseKgHa / ref
		report.Total += idx
		report.Count++
		report.Entries = append(report.Entries, FrequencyEntry{
			Date:    models.DateKey(day),
			Parcel:  t.Parcel,
			Product: t.Product.Name,
			Index:   round2(idx),
		})
	}
	report.Total = round2(report.Total)
	return report
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
