// Package risk maps weather readings to per-disease outbreak risk. The
// formulas are deterministic weighted scores over temperature, humidity and
// rainfall, each tuned to the conditions a pathogen favors.
package risk

import (
	"math"
	"time"

	"github.com/samber/lo"

	"github.com/cropconsult/backend/internal/weather"
)

// Level buckets a risk score for display.
type Level string

const (
	LevelLow      Level = "low"
	LevelModerate Level = "moderate"
	LevelHigh     Level = "high"
	LevelSevere   Level = "severe"
)

// Score bucket boundaries.
const (
	moderateFrom = 0.25
	highFrom     = 0.5
	severeFrom   = 0.75
)

// Assessment is the scored risk for one disease.
type Assessment struct {
	Disease string  `json:"disease"`
	Score   float64 `json:"score"`
	Level   Level   `json:"level"`
	Advice  string  `json:"advice"`
}

// Report is the full per-disease breakdown for a set of readings.
type Report struct {
	AssessedAt  time.Time    `json:"assessed_at"`
	Timezone    string       `json:"timezone"`
	Readings    int          `json:"readings"`
	Assessments []Assessment `json:"assessments"`
}

var advice = map[string]map[Level]string{
	"late_blight": {
		LevelLow:      "no action needed, keep monitoring",
		LevelModerate: "inspect lower leaves for dark lesions",
		LevelHigh:     "apply preventive fungicide within 48 hours",
		LevelSevere:   "immediate fungicide application, remove infected plants",
	},
	"powdery_mildew": {
		LevelLow:      "no action needed, keep monitoring",
		LevelModerate: "improve airflow, avoid overhead irrigation",
		LevelHigh:     "apply sulfur or potassium bicarbonate spray",
		LevelSevere:   "treat now and prune dense canopy",
	},
	"rust": {
		LevelLow:      "no action needed, keep monitoring",
		LevelModerate: "check leaf undersides for pustules",
		LevelHigh:     "apply protectant fungicide before the next rain",
		LevelSevere:   "systemic fungicide required, destroy heavily infected foliage",
	},
}

// LevelFor buckets a score.
func LevelFor(score float64) Level {
	switch {
	case score >= severeFrom:
		return LevelSevere
	case score >= highFrom:
		return LevelHigh
	case score >= moderateFrom:
		return LevelModerate
	default:
		return LevelLow
	}
}

// LateBlightScore favors cool wet conditions: the pathogen peaks around 17C
// with saturated air and standing moisture.
func LateBlightScore(r weather.Reading) float64 {
	temp := clamp01(1 - math.Abs(17-r.Temperature)/17)
	hum := clamp01((r.Humidity - 70) / 30)
	rain := clamp01(r.RainfallMM / 10)
	return round3(0.4*temp + 0.4*hum + 0.2*rain)
}

// PowderyMildewScore favors warm moderately-humid weather; rain washes
// spores off and lowers the risk.
func PowderyMildewScore(r weather.Reading) float64 {
	temp := clamp01(1 - math.Abs(24-r.Temperature)/12)
	hum := clamp01(1 - math.Abs(60-r.Humidity)/40)
	dry := clamp01(1 - r.RainfallMM/5)
	return round3(0.45*temp + 0.35*hum + 0.2*dry)
}

// RustScore favors mild temperatures with long leaf wetness.
func RustScore(r weather.Reading) float64 {
	temp := clamp01(1 - math.Abs(20-r.Temperature)/10)
	hum := clamp01((r.Humidity - 60) / 40)
	rain := clamp01(r.RainfallMM / 8)
	return round3(0.35*temp + 0.35*hum + 0.3*rain)
}

// Assess validates the readings, normalizes the report clock to the given
// timezone and averages each disease score across all readings.
func Assess(readings []weather.Reading, timezone string, now time.Time) (Report, error) {
	for _, r := range readings {
		if err := weather.Validate(r); err != nil {
			return Report{}, err
		}
	}
	assessedAt, err := weather.Normalize(now, timezone)
	if err != nil {
		return Report{}, err
	}
	if timezone == "" {
		timezone = "UTC"
	}

	scores := map[string]float64{
		"late_blight":    lo.SumBy(readings, LateBlightScore),
		"powdery_mildew": lo.SumBy(readings, PowderyMildewScore),
		"rust":           lo.SumBy(readings, RustScore),
	}

	assessments := make([]Assessment, 0, len(scores))
	for _, disease := range []string{"late_blight", "powdery_mildew", "rust"} {
		score := 0.0
		if len(readings) > 0 {
			score = round3(scores[disease] / float64(len(readings)))
		}
		level := LevelFor(score)
		assessments = append(assessments, Assessment{
			Disease: disease,
			Score:   score,
			Level:   level,
			Advice:  advice[disease][level],
		})
	}
	return Report{
		AssessedAt:  assessedAt,
		Timezone:    timezone,
		Readings:    len(readings),
		Assessments: assessments,
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
