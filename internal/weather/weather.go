// Package weather validates field observations and normalizes their
// timestamps. Readings feed the disease risk formulas, so out-of-range
// values are rejected before they can skew a score.
package weather

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrOutOfRange      = errors.New("reading out of range")
	ErrUnknownTimezone = errors.New("unknown timezone")
)

// Plausible bounds for field readings. Values outside these are sensor
// faults, not weather.
const (
	MinTemperature = -50.0
	MaxTemperature = 60.0
	MaxRainfallMM  = 500.0
	MaxWindKPH     = 300.0
)

// Reading is a single field observation.
type Reading struct {
	Temperature float64   `json:"temperature"` // celsius
	Humidity    float64   `json:"humidity"`    // percent
	RainfallMM  float64   `json:"rainfall_mm"`
	WindKPH     float64   `json:"wind_kph"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Validate checks a reading against plausible physical bounds.
func Validate(r Reading) error {
	if r.Temperature < MinTemperature || r.Temperature > MaxTemperature {
		return fmt.Errorf("%w: temperature %.1f", ErrOutOfRange, r.Temperature)
	}
	if r.Humidity < 0 || r.Humidity > 100 {
		return fmt.Errorf("%w: humidity %.1f", ErrOutOfRange, r.Humidity)
	}
	if r.RainfallMM < 0 || r.RainfallMM > MaxRainfallMM {
		return fmt.Errorf("%w: rainfall %.1f", ErrOutOfRange, r.RainfallMM)
	}
	if r.WindKPH < 0 || r.WindKPH > MaxWindKPH {
		return fmt.Errorf("%w: wind %.1f", ErrOutOfRange, r.WindKPH)
	}
	return nil
}

// Normalize returns the timestamp in the named IANA timezone. An empty name
// means UTC.
func Normalize(ts time.Time, timezone string) (time.Time, error) {
	if timezone == "" {
		return ts.UTC(), nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnknownTimezone, timezone)
	}
	return ts.In(loc), nil
}
