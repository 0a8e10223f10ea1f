package weather

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidate_AcceptsPlausibleReadings(t *testing.T) {
	req := require.New(t)

	req.NoError(Validate(Reading{Temperature: 22.5, Humidity: 78, RainfallMM: 4.2, WindKPH: 12}))
	// Boundary values are still plausible
	req.NoError(Validate(Reading{Temperature: MinTemperature, Humidity: 0, RainfallMM: 0, WindKPH: 0}))
	req.NoError(Validate(Reading{Temperature: MaxTemperature, Humidity: 100, RainfallMM: MaxRainfallMM, WindKPH: MaxWindKPH}))
}

func TestValidate_RejectsSensorFaults(t *testing.T) {
	req := require.New(t)

	cases := []Reading{
		{Temperature: -60, Humidity: 50},
		{Temperature: 70, Humidity: 50},
		{Temperature: 20, Humidity: -1},
		{Temperature: 20, Humidity: 101},
		{Temperature: 20, Humidity: 50, RainfallMM: -0.1},
		{Temperature: 20, Humidity: 50, RainfallMM: 600},
		{Temperature: 20, Humidity: 50, WindKPH: -5},
		{Temperature: 20, Humidity: 50, WindKPH: 400},
	}
	for _, r := range cases {
		req.ErrorIs(Validate(r), ErrOutOfRange)
	}
}

func TestNormalize_ConvertsToNamedTimezone(t *testing.T) {
	req := require.New(t)
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// When normalized to an IANA zone
	got, err := Normalize(ts, "Asia/Kolkata")
	req.NoError(err)

	// Then the instant is unchanged, only the wall clock moves
	req.True(got.Equal(ts))
	req.Equal("Asia/Kolkata", got.Location().String())
	req.Equal(17, got.Hour())
	req.Equal(30, got.Minute())
}

func TestNormalize_EmptyZoneMeansUTC(t *testing.T) {
	req := require.New(t)
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))

	got, err := Normalize(ts, "")
	req.NoError(err)
	req.Equal(time.UTC, got.Location())
	req.True(got.Equal(ts))
}

func TestNormalize_RejectsUnknownZones(t *testing.T) {
	req := require.New(t)

	_, err := Normalize(time.Now(), "Mars/Olympus_Mons")
	req.ErrorIs(err, ErrUnknownTimezone)
}
