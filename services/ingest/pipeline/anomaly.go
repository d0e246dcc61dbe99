package pipeline

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/osvatech/bus-telemetry/services/ingest/models"
)

// DefaultMaxSpeedKMH is the implied-speed ceiling for an urban bus.
const DefaultMaxSpeedKMH = 120

const earthRadiusMeters = 6371000

// Sub-second gaps between reports are judged as if a full second had
// elapsed, which guards the speed division and makes a near-simultaneous
// report anomalous only when the jump exceeds what the ceiling allows
// per second.
const minElapsedSeconds = 1.0

// LastLocator reads the most recent stored position for a line.
type LastLocator interface {
	LastLocation(ctx context.Context, line string) (*models.LastFix, error)
}

// Detector flags physically implausible movement by comparing a candidate
// position against the last stored fix for the same line.
type Detector struct {
	Last        LastLocator
	MaxSpeedKMH float64
	Now         func() time.Time
	Log         *slog.Logger
}

func (d *Detector) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

func (d *Detector) maxSpeed() float64 {
	if d.MaxSpeedKMH > 0 {
		return d.MaxSpeedKMH
	}
	return DefaultMaxSpeedKMH
}

// Check reports whether the candidate position implies impossible speed.
// The first sighting of a line is never anomalous. A storage read failure
// is surfaced, never swallowed as "no anomaly".
func (d *Detector) Check(ctx context.Context, line string, lat, lon float64) (bool, error) {
	fix, err := d.Last.LastLocation(ctx, line)
	if err != nil {
		return false, &Error{
			Code:    CodeStorageUnavailable,
			Message: "last location lookup failed",
			Err:     err,
		}
	}
	if fix == nil {
		return false, nil
	}

	elapsed := d.now().Sub(fix.ObservedAt).Seconds()
	if elapsed < minElapsedSeconds {
		elapsed = minElapsedSeconds
	}

	distance := haversineMeters(fix.Latitude, fix.Longitude, lat, lon)
	speedKMH := distance / elapsed * 3.6

	if speedKMH > d.maxSpeed() {
		log := d.Log
		if log == nil {
			log = slog.Default()
		}
		log.Warn("movement anomaly detected",
			"bus_line", line,
			"speed_kmh", speedKMH,
			"distance_m", distance,
			"elapsed_s", elapsed,
		)
		return true, nil
	}

	return false, nil
}

// haversineMeters returns the great-circle distance between two points.
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}
