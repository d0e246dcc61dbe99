package pipeline

import (
	"encoding/base64"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/osvatech/bus-telemetry/services/ingest/models"
)

// DefaultMaxImageBytes caps decoded image payloads at 5 MiB.
const DefaultMaxImageBytes = 5 * 1024 * 1024

const maxLineLength = 30

var (
	base64Pattern  = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)
	numericPattern = regexp.MustCompile(`^[0-9]+$`)
)

// Calendar layouts accepted from device clocks. Anything else falls back
// to server time.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Validator checks and normalizes inbound reports. It performs no I/O;
// Now is injectable for deterministic tests.
type Validator struct {
	MaxImageBytes int64
	Now           func() time.Time
	Log           *slog.Logger
}

func (v *Validator) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now().UTC()
}

func (v *Validator) log() *slog.Logger {
	if v.Log != nil {
		return v.Log
	}
	return slog.Default()
}

// Validate normalizes a raw report into an Observation. A malformed or
// oversized image never fails the report; it is dropped with a warning.
func (v *Validator) Validate(report models.Report) (models.Observation, error) {
	if report.BusLine == nil {
		return models.Observation{}, missingField("bus_line")
	}
	if report.Latitude == nil {
		return models.Observation{}, missingField("latitude")
	}
	if report.Longitude == nil {
		return models.Observation{}, missingField("longitude")
	}

	line := strings.ToUpper(strings.TrimSpace(*report.BusLine))
	if line == "" || len(line) > maxLineLength {
		return models.Observation{}, invalidLine(*report.BusLine)
	}

	lat, lon := *report.Latitude, *report.Longitude
	if !validGPS(lat, lon) {
		return models.Observation{}, invalidCoordinates(lat, lon)
	}

	obs := models.Observation{
		BusLine:    line,
		Latitude:   lat,
		Longitude:  lon,
		ObservedAt: v.normalizeTimestamp(report.Timestamp),
	}

	if report.ImageBase64 != nil {
		obs.Image = v.decodeImage(line, *report.ImageBase64)
	}

	return obs, nil
}

func validGPS(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// normalizeTimestamp resolves the device-supplied timestamp. Numeric
// values are uptime tick counts from the device, not calendar time, so
// they are replaced by server time. Unparseable values fall back the
// same way.
func (v *Validator) normalizeTimestamp(raw any) time.Time {
	switch ts := raw.(type) {
	case string:
		s := strings.TrimSpace(ts)
		if s == "" || numericPattern.MatchString(s) {
			return v.now()
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
		return v.now()
	default:
		// nil, JSON numbers, and anything exotic.
		return v.now()
	}
}

func (v *Validator) decodeImage(line, encoded string) []byte {
	maxBytes := v.MaxImageBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}

	if len(encoded)%4 != 0 || !base64Pattern.MatchString(encoded) {
		v.log().Warn("dropping malformed base64 image", "bus_line", line)
		return nil
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		v.log().Warn("dropping undecodable image", "bus_line", line, "error", err)
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	if int64(len(data)) > maxBytes {
		v.log().Warn("dropping oversized image", "bus_line", line, "bytes", len(data), "limit", maxBytes)
		return nil
	}

	return data
}
