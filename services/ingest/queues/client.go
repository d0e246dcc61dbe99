package queues

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	telemetryExchange   = "telemetry"
	locationAcceptedQ   = "telemetryLocationAccepted"
	locationAcceptedKey = "telemetry.location.accepted"

	reconnectDelay = 5 * time.Second
	reInitDelay    = 2 * time.Second
)

var (
	errNotConnected  = errors.New("not connected to the broker")
	errAlreadyClosed = errors.New("already closed: not connected to the broker")
)

// Client is a self-healing AMQP publisher. It reconnects after broker
// failures and reopens the channel after channel exceptions; while
// disconnected, Publish fails fast so the request path never blocks on
// the broker.
type Client struct {
	m               sync.Mutex
	connection      *amqp.Connection
	channel         *amqp.Channel
	done            chan struct{}
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	isReady         bool
}

// New creates a publisher connected to addr. Connection management runs
// in the background; the client is usable immediately and degrades to
// errors until the broker is reachable.
func New(addr string) *Client {
	client := &Client{
		done: make(chan struct{}),
	}
	go client.handleReconnect(addr)
	return client
}

func (c *Client) handleReconnect(addr string) {
	for {
		c.setReady(false)

		conn, err := amqp.Dial(addr)
		if err != nil {
			slog.Warn("broker connect failed, retrying", "error", err)
			select {
			case <-c.done:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		c.m.Lock()
		c.connection = conn
		c.notifyConnClose = make(chan *amqp.Error, 1)
		conn.NotifyClose(c.notifyConnClose)
		c.m.Unlock()

		slog.Info("connected to broker")

		if done := c.handleReInit(conn); done {
			return
		}
	}
}

func (c *Client) handleReInit(conn *amqp.Connection) bool {
	for {
		c.setReady(false)

		if err := c.init(conn); err != nil {
			slog.Warn("channel init failed, retrying", "error", err)
			select {
			case <-c.done:
				return true
			case <-c.notifyConnClose:
				return false
			case <-time.After(reInitDelay):
			}
			continue
		}

		select {
		case <-c.done:
			return true
		case <-c.notifyConnClose:
			slog.Warn("broker connection closed, reconnecting")
			return false
		case <-c.notifyChanClose:
			slog.Warn("channel closed, reopening")
		}
	}
}

// init opens a confirm-mode channel and declares the telemetry topology.
func (c *Client) init(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	if err := ch.Confirm(false); err != nil {
		return err
	}

	if err := declareTelemetryEvents(ch); err != nil {
		return err
	}

	c.m.Lock()
	c.channel = ch
	c.notifyChanClose = make(chan *amqp.Error, 1)
	c.notifyConfirm = make(chan amqp.Confirmation, 1)
	ch.NotifyClose(c.notifyChanClose)
	ch.NotifyPublish(c.notifyConfirm)
	c.isReady = true
	c.m.Unlock()

	return nil
}

func (c *Client) setReady(ready bool) {
	c.m.Lock()
	c.isReady = ready
	c.m.Unlock()
}

// push publishes one message and waits for broker confirmation, bounded
// by ctx. Unlike a consumer-side client there is no resend loop: the
// caller treats a failed publish as a dropped event.
func (c *Client) push(ctx context.Context, data amqp.Publishing, exchange, routingKey string) error {
	c.m.Lock()
	if !c.isReady {
		c.m.Unlock()
		return errNotConnected
	}
	ch := c.channel
	confirm := c.notifyConfirm
	c.m.Unlock()

	if err := ch.PublishWithContext(ctx, exchange, routingKey, false, false, data); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case conf := <-confirm:
		if !conf.Ack {
			return errors.New("broker rejected publish")
		}
		slog.Debug("publish confirmed", "deliveryTag", conf.DeliveryTag)
		return nil
	}
}

// Close shuts down the channel and connection.
func (c *Client) Close() error {
	c.m.Lock()
	defer c.m.Unlock()

	if !c.isReady {
		return errAlreadyClosed
	}
	close(c.done)

	if err := c.channel.Close(); err != nil {
		return err
	}
	if err := c.connection.Close(); err != nil {
		return err
	}

	c.isReady = false
	return nil
}

func declareTelemetryEvents(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		telemetryExchange, // name
		"fanout",          // type
		true,              // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		return err
	}

	q, err := ch.QueueDeclare(
		locationAcceptedQ, // name
		false,             // durable
		false,             // delete when unused
		false,             // exclusive
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		return err
	}

	return ch.QueueBind(
		q.Name,
		locationAcceptedKey,
		telemetryExchange,
		false,
		nil,
	)
}
