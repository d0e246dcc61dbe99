package queues

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/osvatech/bus-telemetry/services/ingest/models"
)

// Publish marshals a location-accepted event and pushes it onto the
// telemetry exchange, assigning the event its identifier.
func (c *Client) Publish(ctx context.Context, event models.LocationAccepted) error {
	event.EventID = uuid.NewString()

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return c.push(ctx, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   event.EventID,
		Body:        body,
	}, telemetryExchange, locationAcceptedKey)
}

// NoopPublisher discards events. Wired when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, models.LocationAccepted) error {
	return nil
}
