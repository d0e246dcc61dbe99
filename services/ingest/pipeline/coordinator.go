package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/osvatech/bus-telemetry/services/ingest/models"
)

// Tx is the transactional slice of the persistence gateway. Both writes
// happen inside one transaction: either both records become visible or
// neither does.
type Tx interface {
	InsertLocation(ctx context.Context, line string, observedAt time.Time, lat, lon float64) (int64, error)
	InsertImage(ctx context.Context, locationID int64, data []byte, observedAt time.Time) error
}

// Gateway is the persistence backend consumed by the pipeline. WithTx
// commits when fn returns nil and rolls back otherwise; the transaction
// handle is released on every exit path.
type Gateway interface {
	LastLocator
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Publisher announces committed locations to interested downstream
// consumers. Failures are logged, never surfaced to the device.
type Publisher interface {
	Publish(ctx context.Context, event models.LocationAccepted) error
}

// Receipt confirms a stored report.
type Receipt struct {
	LocationID int64
	ObservedAt time.Time
}

// Settings tunes the pipeline limits. Zero values fall back to defaults.
type Settings struct {
	MaxImageBytes int64
	MaxSpeedKMH   float64
}

// Coordinator runs one report through validate, anomaly check and
// transactional persist. One call, one transaction, no retries.
type Coordinator struct {
	validator *Validator
	detector  *Detector
	gateway   Gateway
	publisher Publisher
	log       *slog.Logger
}

// NewCoordinator wires the pipeline stages over a gateway. publisher may
// be nil when event fanout is disabled.
func NewCoordinator(gateway Gateway, publisher Publisher, settings Settings, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		validator: &Validator{MaxImageBytes: settings.MaxImageBytes, Log: log},
		detector:  &Detector{Last: gateway, MaxSpeedKMH: settings.MaxSpeedKMH, Log: log},
		gateway:   gateway,
		publisher: publisher,
		log:       log,
	}
}

// Ingest processes a single report. On any failure path zero rows are
// written; on success exactly one location row and at most one image row
// exist.
func (c *Coordinator) Ingest(ctx context.Context, report models.Report) (Receipt, error) {
	obs, err := c.validator.Validate(report)
	if err != nil {
		return Receipt{}, err
	}

	anomalous, err := c.detector.Check(ctx, obs.BusLine, obs.Latitude, obs.Longitude)
	if err != nil {
		return Receipt{}, err
	}
	if anomalous {
		return Receipt{}, &Error{
			Code:    CodeAnomalyRejected,
			Message: "movement anomaly detected: report rejected",
		}
	}

	var locationID int64
	err = c.gateway.WithTx(ctx, func(tx Tx) error {
		id, err := tx.InsertLocation(ctx, obs.BusLine, obs.ObservedAt, obs.Latitude, obs.Longitude)
		if err != nil {
			return err
		}
		locationID = id

		if len(obs.Image) > 0 {
			if err := tx.InsertImage(ctx, id, obs.Image, obs.ObservedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Receipt{}, &Error{
			Code:    CodeTransactionFailed,
			Message: "telemetry write failed",
			Err:     err,
		}
	}

	c.log.Info("location stored",
		"bus_line", obs.BusLine,
		"location_id", locationID,
		"image", len(obs.Image) > 0,
	)

	if c.publisher != nil {
		event := models.LocationAccepted{
			BusLine:    obs.BusLine,
			Latitude:   obs.Latitude,
			Longitude:  obs.Longitude,
			ObservedAt: obs.ObservedAt,
			LocationID: locationID,
		}
		if err := c.publisher.Publish(ctx, event); err != nil {
			c.log.Warn("location event publish failed", "location_id", locationID, "error", err)
		}
	}

	return Receipt{LocationID: locationID, ObservedAt: obs.ObservedAt}, nil
}
