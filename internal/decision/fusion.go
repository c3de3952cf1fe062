// Package decision fuses the risk, protection and water-balance signals into
// a spray verdict and orchestrates a full parcel analysis.
package decision

import (
	"fmt"
	"math"

	"github.com/lox/vinerisk/internal/protection"
	"github.com/lox/vinerisk/internal/risk"
	"github.com/lox/vinerisk/internal/waterbalance"
)

type Urgency string

const (
	UrgencyHigh     Urgency = "high"
	UrgencyModerate Urgency = "moderate"
	UrgencyLow      Urgency = "low"
)

type Action string

const (
	ActionTreatNow Action = "treat_now"
	ActionMonitor  Action = "monitor"
	ActionNone     Action = "no_action"
)

// Score thresholds are inclusive.
const (
	HighThreshold     = 5.0
	ModerateThreshold = 2.0
)

// A preventive spray is suggested when more than PreventiveRainMM is
// forecast over ForecastDays while protection is below LowProtection.
const (
	ForecastDays     = 3
	PreventiveRainMM = 10.0
	LowProtection    = 5.0
)

// Signals are the model outputs a verdict is built from.
type Signals struct {
	Downy          risk.Result
	Protection     protection.Result
	Powdery        risk.Result
	Water          waterbalance.Result
	ForecastRainMM float64
}

type Verdict struct {
	Score           float64    `json:"score"`
	Urgency         Urgency    `json:"urgency"`
	Action          Action     `json:"action"`
	PreventiveAlert bool       `json:"preventive_alert"`
	PowderyAlert    risk.Level `json:"powdery_alert,omitempty"`
	HydricStress    bool       `json:"hydric_stress"`
	Alerts          []string   `json:"alerts,omitempty"`
}

// Classify maps a decision score to its urgency and action.
func Classify(score float64) (Urgency, Action) {
	switch {
	case score >= HighThreshold:
		return UrgencyHigh, ActionTreatNow
	case score >= ModerateThreshold:
		return UrgencyModerate, ActionMonitor
	default:
		return UrgencyLow, ActionNone
	}
}

// Fuse subtracts protection from the downy mildew risk and classifies the
// result. The overlays never change the urgency tier.
func Fuse(s Signals) Verdict {
	// Both inputs are in tenths; compare in tenths so 7.0-2.0 lands on 5.
	score := math.Round((s.Downy.Score-s.Protection.Score)*10) / 10
	v := Verdict{Score: score}
	v.Urgency, v.Action = Classify(score)

	if s.ForecastRainMM > PreventiveRainMM && s.Protection.Score < LowProtection {
		v.PreventiveAlert = true
		v.Alerts = append(v.Alerts, fmt.Sprintf("%.1f mm of rain forecast, preventive downy mildew spray recommended", s.ForecastRainMM))
	}

	switch s.Powdery.Level {
	case risk.LevelStrong:
		v.PowderyAlert = risk.LevelStrong
		v.Alerts = append(v.Alerts, "strong powdery mildew risk, check protection")
	case risk.LevelModerate:
		v.PowderyAlert = risk.LevelModerate
		v.Alerts = append(v.Alerts, "moderate powdery mildew risk, monitor")
	}

	if s.Water.SevereStress() {
		v.HydricStress = true
		msg := fmt.Sprintf("severe hydric stress, soil reserve at %.1f%%", s.Water.ReservePct)
		if s.Water.Dormant {
			msg += " (dormant)"
		}
		v.Alerts = append(v.Alerts, msg)
	}
	return v
}
