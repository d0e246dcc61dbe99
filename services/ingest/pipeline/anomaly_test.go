package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/osvatech/bus-telemetry/services/ingest/models"
)

type fakeLocator struct {
	fix   *models.LastFix
	err   error
	calls int
	line  string
}

func (f *fakeLocator) LastLocation(_ context.Context, line string) (*models.LastFix, error) {
	f.calls++
	f.line = line
	return f.fix, f.err
}

func TestCheckFirstSightingNotAnomalous(t *testing.T) {
	locator := &fakeLocator{}
	d := &Detector{Last: locator, Now: fixedClock()}

	anomalous, err := d.Check(context.Background(), "L1", -8.05, -34.95)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if anomalous {
		t.Fatal("first sighting must never be anomalous")
	}
	if locator.line != "L1" {
		t.Fatalf("expected lookup for L1, got %q", locator.line)
	}
}

func TestCheckFlagsTeleport(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	// Roughly 50 km north of the last fix, one second later.
	locator := &fakeLocator{fix: &models.LastFix{
		Latitude:   -8.05,
		Longitude:  -34.95,
		ObservedAt: now.Add(-1 * time.Second),
	}}
	d := &Detector{Last: locator, Now: func() time.Time { return now }}

	anomalous, err := d.Check(context.Background(), "L1", -7.60, -34.95)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !anomalous {
		t.Fatal("50 km in one second must be flagged")
	}
}

func TestCheckAcceptsPlausibleMovement(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	// About 550 m in one minute, ~33 km/h.
	locator := &fakeLocator{fix: &models.LastFix{
		Latitude:   -8.05,
		Longitude:  -34.95,
		ObservedAt: now.Add(-1 * time.Minute),
	}}
	d := &Detector{Last: locator, Now: func() time.Time { return now }}

	anomalous, err := d.Check(context.Background(), "L1", -8.045, -34.95)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if anomalous {
		t.Fatal("normal bus speed flagged as anomaly")
	}
}

func TestCheckZeroElapsedGuard(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	fix := &models.LastFix{Latitude: -8.05, Longitude: -34.95, ObservedAt: now}
	d := &Detector{Last: &fakeLocator{fix: fix}, Now: func() time.Time { return now }}

	// Same spot, zero elapsed: no division blowup, not anomalous.
	anomalous, err := d.Check(context.Background(), "L1", -8.05, -34.95)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if anomalous {
		t.Fatal("stationary report flagged at zero elapsed time")
	}

	// Large jump at zero elapsed is judged against the one-second floor.
	anomalous, err = d.Check(context.Background(), "L1", -7.60, -34.95)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !anomalous {
		t.Fatal("teleport at zero elapsed time must be flagged")
	}
}

func TestCheckSurfacesStorageError(t *testing.T) {
	locator := &fakeLocator{err: errors.New("connection refused")}
	d := &Detector{Last: locator, Now: fixedClock()}

	_, err := d.Check(context.Background(), "L1", -8.05, -34.95)
	if CodeOf(err) != CodeStorageUnavailable {
		t.Fatalf("expected storage_unavailable, got %v", err)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// One degree of latitude is close to 111.2 km.
	got := haversineMeters(0, 0, 1, 0)
	if got < 111_000 || got > 111_400 {
		t.Fatalf("expected ~111.2 km, got %.0f m", got)
	}

	if d := haversineMeters(-8.05, -34.95, -8.05, -34.95); d != 0 {
		t.Fatalf("distance to self must be zero, got %v", d)
	}
}
