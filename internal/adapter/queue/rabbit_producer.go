package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aq2208/storefront-api/internal/usecase"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultExchange   = "order.events"
	DefaultRoutingKey = "order.created"
	DefaultQueue      = "order.created.q"
)

var errNacked = errors.New("broker nacked publish")

type Topology struct {
	Exchange   string
	RoutingKey string
	Queue      string
}

func (t Topology) withDefaults() Topology {
	if t.Exchange == "" {
		t.Exchange = DefaultExchange
	}
	if t.RoutingKey == "" {
		t.RoutingKey = DefaultRoutingKey
	}
	if t.Queue == "" {
		t.Queue = DefaultQueue
	}
	return t
}

// RabbitProducer implements usecase.EventPublisher
type RabbitProducer struct {
	ch   *amqp.Channel
	topo Topology
}

// NewRabbitProducer sets up the exchange, queue, and binding once at startup.
func NewRabbitProducer(ch *amqp.Channel, topo Topology) (*RabbitProducer, error) {
	topo = topo.withDefaults()
	if err := Declare(ch, topo); err != nil {
		return nil, err
	}

	// enable publisher confirms
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirm mode: %w", err)
	}

	return &RabbitProducer{ch: ch, topo: topo}, nil
}

// Declare creates the exchange, queue and binding. Safe to call repeatedly.
func Declare(ch *amqp.Channel, topo Topology) error {
	topo = topo.withDefaults()
	// 1. declare exchange (topic type, durable)
	if err := ch.ExchangeDeclare(
		topo.Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	// 2. declare queue
	q, err := ch.QueueDeclare(
		topo.Queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// 3. bind queue → exchange
	if err := ch.QueueBind(
		q.Name,
		topo.RoutingKey,
		topo.Exchange,
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	return nil
}

// PublishCreated sends an "order.created" event and waits for the broker
// confirm or ctx, whichever comes first.
func (p *RabbitProducer) PublishCreated(ctx context.Context, msg usecase.CreatedMsg) error {
	pub, err := createdPublishing(msg)
	if err != nil {
		return err
	}

	conf, err := p.ch.PublishWithDeferredConfirmWithContext(
		ctx,
		p.topo.Exchange,   // exchange
		p.topo.RoutingKey, // routing key
		false,             // mandatory
		false,             // immediate
		pub,
	)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if conf == nil {
		return nil
	}
	ok, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("publish confirm: %w", err)
	}
	if !ok {
		return errNacked
	}
	return nil
}

func createdPublishing(msg usecase.CreatedMsg) (amqp.Publishing, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal message: %w", err)
	}
	ts := msg.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // survive broker restarts
		MessageId:    msg.EventID,
		Timestamp:    ts,
		Type:         DefaultRoutingKey,
		Body:         body,
	}, nil
}

var _ usecase.EventPublisher = (*RabbitProducer)(nil)
