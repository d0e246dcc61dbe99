package models

import "time"

// Report is the raw JSON payload pushed by a field device. Optional and
// required fields are pointers so that "absent" and "zero" stay
// distinguishable after decoding. Timestamp may arrive as a string or a
// number depending on the device firmware.
type Report struct {
	BusLine     *string  `json:"bus_line"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Timestamp   any      `json:"timestamp,omitempty"`
	ImageBase64 *string  `json:"image_base64,omitempty"`
}

// Observation is a report that passed validation: line normalized,
// coordinates checked, timestamp resolved to server or device calendar
// time, image decoded (nil when absent or dropped).
type Observation struct {
	BusLine    string
	Latitude   float64
	Longitude  float64
	ObservedAt time.Time
	Image      []byte
}

// LastFix is the most recent stored position for a bus line.
type LastFix struct {
	Latitude   float64
	Longitude  float64
	ObservedAt time.Time
}

// Stats aggregates stored telemetry counts.
type Stats struct {
	TotalLocations int64    `json:"total_locations"`
	TotalImages    int64    `json:"total_images"`
	ActiveLines    []string `json:"active_lines"`
}

// LocationAccepted is the event announced after a location commits.
type LocationAccepted struct {
	EventID    string    `json:"event_id,omitempty"`
	BusLine    string    `json:"bus_line"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	ObservedAt time.Time `json:"observed_at"`
	LocationID int64     `json:"location_id"`
}
