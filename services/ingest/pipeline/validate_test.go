package pipeline

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/osvatech/bus-telemetry/services/ingest/models"
)

func strPtr(s string) *string { return &s }

func f64Ptr(f float64) *float64 { return &f }

func fixedClock() func() time.Time {
	fixed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return fixed }
}

func TestValidateRequiredFields(t *testing.T) {
	tests := []struct {
		name   string
		report models.Report
		field  string
	}{
		{
			name:   "missing bus_line",
			report: models.Report{Latitude: f64Ptr(-8.05), Longitude: f64Ptr(-34.95)},
			field:  "bus_line",
		},
		{
			name:   "missing latitude",
			report: models.Report{BusLine: strPtr("L1"), Longitude: f64Ptr(-34.95)},
			field:  "latitude",
		},
		{
			name:   "missing longitude",
			report: models.Report{BusLine: strPtr("L1"), Latitude: f64Ptr(-8.05)},
			field:  "longitude",
		},
	}

	v := &Validator{Now: fixedClock()}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.report)
			if err == nil {
				t.Fatalf("expected error for %s", tt.field)
			}
			var ingErr *Error
			if !errors.As(err, &ingErr) {
				t.Fatalf("expected pipeline error, got %T", err)
			}
			if ingErr.Code != CodeMissingField {
				t.Fatalf("expected missing_field, got %s", ingErr.Code)
			}
			if ingErr.Field != tt.field {
				t.Fatalf("expected field %s, got %s", tt.field, ingErr.Field)
			}
		})
	}
}

func TestValidateNormalizesLine(t *testing.T) {
	v := &Validator{Now: fixedClock()}

	for _, raw := range []string{"  l1 ", "L1", "l1"} {
		obs, err := v.Validate(models.Report{
			BusLine:   strPtr(raw),
			Latitude:  f64Ptr(-8.05),
			Longitude: f64Ptr(-34.95),
		})
		if err != nil {
			t.Fatalf("validate %q: %v", raw, err)
		}
		if obs.BusLine != "L1" {
			t.Fatalf("expected L1 for %q, got %q", raw, obs.BusLine)
		}
	}
}

func TestValidateRejectsBadLines(t *testing.T) {
	v := &Validator{Now: fixedClock()}

	long := make([]byte, 31)
	for i := range long {
		long[i] = 'A'
	}

	for _, raw := range []string{"", "   ", string(long)} {
		_, err := v.Validate(models.Report{
			BusLine:   strPtr(raw),
			Latitude:  f64Ptr(-8.05),
			Longitude: f64Ptr(-34.95),
		})
		if CodeOf(err) != CodeInvalidLine {
			t.Fatalf("expected invalid_line for %q, got %v", raw, err)
		}
	}
}

func TestValidateRejectsOutOfRangeCoordinates(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
	}{
		{"latitude too high", 90.01, 0},
		{"latitude too low", -90.01, 0},
		{"longitude too high", 0, 180.5},
		{"longitude too low", 0, -180.5},
	}

	v := &Validator{Now: fixedClock()}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(models.Report{
				BusLine:   strPtr("L1"),
				Latitude:  f64Ptr(tt.lat),
				Longitude: f64Ptr(tt.lon),
			})
			if CodeOf(err) != CodeInvalidCoordinates {
				t.Fatalf("expected invalid_coordinates, got %v", err)
			}
		})
	}
}

func TestValidateAcceptsBoundaryCoordinates(t *testing.T) {
	v := &Validator{Now: fixedClock()}

	obs, err := v.Validate(models.Report{
		BusLine:   strPtr("L1"),
		Latitude:  f64Ptr(-90),
		Longitude: f64Ptr(180),
	})
	if err != nil {
		t.Fatalf("boundary coordinates rejected: %v", err)
	}
	if obs.Latitude != -90 || obs.Longitude != 180 {
		t.Fatalf("coordinates mangled: [%v, %v]", obs.Latitude, obs.Longitude)
	}
}

func TestValidateTimestampNormalization(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	device := time.Date(2026, 8, 30, 11, 58, 30, 0, time.UTC)

	tests := []struct {
		name string
		raw  any
		want time.Time
	}{
		{"absent", nil, now},
		{"device tick count number", float64(184930), now},
		{"numeric string", "1714583520", now},
		{"rfc3339", device.Format(time.RFC3339), device},
		{"space separated", "2026-08-30 11:58:30", device},
		{"garbage", "not-a-date", now},
		{"empty string", "   ", now},
	}

	v := &Validator{Now: func() time.Time { return now }}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs, err := v.Validate(models.Report{
				BusLine:   strPtr("L1"),
				Latitude:  f64Ptr(-8.05),
				Longitude: f64Ptr(-34.95),
				Timestamp: tt.raw,
			})
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if !obs.ObservedAt.Equal(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, obs.ObservedAt)
			}
		})
	}
}

func TestValidateKeepsWellFormedImage(t *testing.T) {
	raw := bytes.Repeat([]byte{0xAB}, 1024)
	encoded := base64.StdEncoding.EncodeToString(raw)

	v := &Validator{Now: fixedClock()}
	obs, err := v.Validate(models.Report{
		BusLine:     strPtr("L1"),
		Latitude:    f64Ptr(-8.05),
		Longitude:   f64Ptr(-34.95),
		ImageBase64: strPtr(encoded),
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !bytes.Equal(obs.Image, raw) {
		t.Fatalf("decoded image does not match original (%d bytes)", len(obs.Image))
	}
}

func TestValidateDropsBadImagesWithoutFailing(t *testing.T) {
	oversized := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x01}, 6*1024*1024))

	tests := []struct {
		name    string
		encoded string
	}{
		{"not base64", "!!!not-base64!!!"},
		{"bad length", "abcde"},
		{"padding in middle gets charset-rejected", "ab=cdef="},
		{"oversized", oversized},
		{"empty", ""},
	}

	v := &Validator{Now: fixedClock()}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs, err := v.Validate(models.Report{
				BusLine:     strPtr("L1"),
				Latitude:    f64Ptr(-8.05),
				Longitude:   f64Ptr(-34.95),
				ImageBase64: strPtr(tt.encoded),
			})
			if err != nil {
				t.Fatalf("image problems must not fail the report: %v", err)
			}
			if obs.Image != nil {
				t.Fatalf("expected image to be dropped, kept %d bytes", len(obs.Image))
			}
		})
	}
}

func TestValidateImageAtLimitKept(t *testing.T) {
	limit := int64(2048)
	raw := bytes.Repeat([]byte{0x7F}, int(limit))
	encoded := base64.StdEncoding.EncodeToString(raw)

	v := &Validator{MaxImageBytes: limit, Now: fixedClock()}
	obs, err := v.Validate(models.Report{
		BusLine:     strPtr("L1"),
		Latitude:    f64Ptr(-8.05),
		Longitude:   f64Ptr(-34.95),
		ImageBase64: strPtr(encoded),
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if int64(len(obs.Image)) != limit {
		t.Fatalf("image exactly at the limit must be kept, got %d bytes", len(obs.Image))
	}
}
