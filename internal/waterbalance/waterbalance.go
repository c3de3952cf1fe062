// Package waterbalance simulates the soil water reserve over the
// hydrological cycle. Each day's evapotranspiration is throttled by a stress
// coefficient derived from the previous day's reserve.
package waterbalance

import (
	"math"
	"sort"
	"time"

	"github.com/lox/vinerisk/internal/models"
)

// StressThresholdPct is the reserve percentage below which the vine starts
// limiting transpiration.
const StressThresholdPct = 50.0

type Params struct {
	CapacityMM     float64
	RunoffFraction float64
	InterceptionMM float64
	// CalendarKc is the crop coefficient per month, used November to February.
	CalendarKc map[time.Month]float64
}

// DefaultCalendarKc is the monthly crop coefficient table.
var DefaultCalendarKc = map[time.Month]float64{
	time.January:   0.1,
	time.February:  0.1,
	time.March:     0.2,
	time.April:     0.4,
	time.May:       0.7,
	time.June:      0.8,
	time.July:      0.8,
	time.August:    0.7,
	time.September: 0.6,
	time.October:   0.4,
	time.November:  0.2,
	time.December:  0.1,
}

func DefaultParams() Params {
	return Params{
		CapacityMM:     100,
		RunoffFraction: 0.1,
		InterceptionMM: 1.0,
		CalendarKc:     DefaultCalendarKc,
	}
}

func (p Params) calendarKc(m time.Month) float64 {
	if kc, ok := p.CalendarKc[m]; ok {
		return kc
	}
	return 0.1
}

// State is carried from one simulated day to the next.
type State struct {
	ReserveMM float64
	Ks        float64
}

// Full returns the state at the start of a cycle: reserve at capacity, no
// stress.
func Full(capacity float64) State {
	return State{ReserveMM: capacity, Ks: 1}
}

// Input is one day of forcing for the simulation.
type Input struct {
	Date time.Time
	Rain float64
	ET0  float64
	Kc   float64
}

// TraceDay records what happened on one simulated day.
type TraceDay struct {
	Date          string  `json:"date"`
	Rain          float64 `json:"rain_mm"`
	EffectiveRain float64 `json:"effective_rain_mm"`
	ET0           float64 `json:"et0_mm"`
	Kc            float64 `json:"kc"`
	Ks            float64 `json:"ks"`
	ETc           float64 `json:"etc_mm"`
	ReserveMM     float64 `json:"reserve_mm"`
	ReservePct    float64 `json:"reserve_pct"`
}

// Step advances the reserve by one day.
func Step(prev State, in Input, p Params) (State, TraceDay) {
	ks := StressCoefficient(percent(prev.ReserveMM, p.CapacityMM))
	eff := EffectiveRain(in.Rain, p.InterceptionMM, p.RunoffFraction)
	etc := in.Kc * in.ET0 * ks

	reserve := math.Max(0, math.Min(p.CapacityMM, prev.ReserveMM+eff-etc))
	next := State{ReserveMM: reserve, Ks: ks}

	return next, TraceDay{
		Date:          models.DateKey(in.Date),
		Rain:          in.Rain,
		EffectiveRain: eff,
		ET0:           in.ET0,
		Kc:            in.Kc,
		Ks:            ks,
		ETc:           etc,
		ReserveMM:     reserve,
		ReservePct:    round(percent(reserve, p.CapacityMM), 1),
	}
}

// StressCoefficient is 1 while the reserve stays above the stress threshold,
// then falls linearly to 0 at an empty reserve.
func StressCoefficient(reservePct float64) float64 {
	if reservePct > StressThresholdPct {
		return 1
	}
	return math.Max(0, reservePct/StressThresholdPct)
}

// EffectiveRain is the share of rainfall reaching the soil once canopy
// interception and runoff are removed.
func EffectiveRain(rain, interception, runoff float64) float64 {
	if rain <= interception {
		return 0
	}
	return (rain - interception) * (1 - runoff)
}

// CropCoefficient follows the canopy development curve over cumulative GDD.
func CropCoefficient(gdd float64) float64 {
	switch {
	case gdd < 200:
		return 0.1
	case gdd < 600:
		return 0.1 + 0.6*(gdd-200)/400
	case gdd < 1200:
		return 0.7 + 0.1*(gdd-600)/600
	case gdd < 1500:
		return 0.8 - 0.4*(gdd-1200)/300
	default:
		return math.Max(0.3, 0.4-0.1*(gdd-1500)/300)
	}
}

type Level string

const (
	LevelSevere       Level = "severe_stress"
	LevelMonitor      Level = "monitor"
	LevelComfortable  Level = "comfortable"
	LevelInsufficient Level = "insufficient_data"
)

func Classify(reservePct float64) Level {
	switch {
	case reservePct <= 30:
		return LevelSevere
	case reservePct <= 60:
		return LevelMonitor
	default:
		return LevelComfortable
	}
}

type Result struct {
	ReserveMM  float64    `json:"reserve_mm"`
	ReservePct float64    `json:"reserve_pct"`
	CapacityMM float64    `json:"capacity_mm"`
	Ks         float64    `json:"ks"`
	Level      Level      `json:"level"`
	Dormant    bool       `json:"dormant"`
	Trace      []TraceDay `json:"trace,omitempty"`
}

// Label is the level with a dormancy suffix when the parcel is dormant.
func (r Result) Label() string {
	if r.Dormant {
		return string(r.Level) + " (dormant)"
	}
	return string(r.Level)
}

// SevereStress reports whether the reserve sits in the severe tier. Dormancy
// only changes the label.
func (r Result) SevereStress() bool {
	return r.Level == LevelSevere
}

// CycleStart returns 1 November of the hydrological year containing today.
func CycleStart(today time.Time) time.Time {
	year := today.Year()
	if today.Month() < time.November {
		year--
	}
	return time.Date(year, time.November, 1, 0, 0, 0, 0, time.UTC)
}

// Simulate runs the reserve from full capacity at the start of the
// hydrological cycle through today, over the stored days only.
//
// Between March and October Kc comes from the GDD curve evaluated at
// gddCumulative scaled by the day's position in the simulated range. This
// approximates same-day cumulative GDD rather than tracking it per day.
func Simulate(days []models.DailyWeather, stage models.Stage, gddCumulative float64, p Params, today time.Time) Result {
	today = models.Day(today)
	start := CycleStart(today)

	var usable []models.DailyWeather
	for _, d := range days {
		if d.Date.Before(start) || d.Date.After(today) {
			continue
		}
		usable = append(usable, d)
	}
	sort.Slice(usable, func(i, j int) bool { return usable[i].Date.Before(usable[j].Date) })

	res := Result{
		CapacityMM: p.CapacityMM,
		Dormant:    stage == models.StageDormant,
	}
	if len(usable) == 0 {
		res.ReserveMM = p.CapacityMM
		res.ReservePct = 100
		res.Ks = 1
		res.Level = LevelInsufficient
		return res
	}

	state := Full(p.CapacityMM)
	res.Trace = make([]TraceDay, 0, len(usable))
	for i, d := range usable {
		var kc float64
		if m := d.Date.Month(); m >= time.March && m <= time.October {
			kc = CropCoefficient(gddCumulative * float64(i) / float64(len(usable)))
		} else {
			kc = p.calendarKc(m)
		}
		et0 := 0.0
		if d.ET0.Valid {
			et0 = d.ET0.Float64
		}

		var td TraceDay
		state, td = Step(state, Input{Date: d.Date, Rain: d.Rain(), ET0: et0, Kc: kc}, p)
		res.Trace = append(res.Trace, td)
	}

	pct := percent(state.ReserveMM, p.CapacityMM)
	res.ReserveMM = round(state.ReserveMM, 1)
	res.ReservePct = round(pct, 1)
	res.Ks = round(state.Ks, 2)
	res.Level = Classify(pct)
	return res
}

func percent(reserve, capacity float64) float64 {
	if capacity <= 0 {
		return 0
	}
	return reserve / capacity * 100
}

func round(v float64, places int) float64 {
	f := math.Pow(10, float64(places))
	return math.Round(v*f) / f
}
