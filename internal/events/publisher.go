package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"verabot/config"
)

// Publisher mirrors conversation events to RabbitMQ so downstream
// consumers (analytics, CRM sync jobs) can follow the traffic. A
// broken or absent broker never blocks message handling: every failure
// just disables publishing.
type Publisher struct {
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
	queue   string
	enabled bool
}

// Event is the envelope every published message uses.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Phone     string      `json:"phone,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// NewPublisher connects to the broker. An empty URL or a failed
// connection returns a disabled publisher, not an error.
func NewPublisher(cfg *config.Config) *Publisher {
	p := &Publisher{queue: cfg.AMQPQueue}
	if cfg.AMQPURL == "" {
		log.Info().Msg("AMQP_URL is not set. Event publishing disabled.")
		return p
	}
	conn, err := amqp091.Dial(cfg.AMQPURL)
	if err != nil {
		log.Error().Err(err).Msg("Could not connect to RabbitMQ")
		return p
	}
	channel, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("Could not open RabbitMQ channel")
		_ = conn.Close()
		return p
	}
	p.conn = conn
	p.channel = channel
	p.enabled = true
	log.Info().Str("queue", p.queue).Msg("RabbitMQ connection established")
	return p
}

// Enabled reports whether events are actually being mirrored.
func (p *Publisher) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Publish sends one event. Errors are logged and swallowed; a failing
// broker disables the publisher until restart.
func (p *Publisher) Publish(eventType, phone string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled {
		return
	}

	data, err := json.Marshal(Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Phone:     phone,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		log.Error().Err(err).Str("eventType", eventType).Msg("Could not marshal event")
		return
	}

	// Declare queue (idempotent)
	if _, err := p.channel.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		log.Error().Err(err).Str("queue", p.queue).Msg("Could not declare RabbitMQ queue")
		p.enabled = false
		return
	}
	err = p.channel.Publish("", p.queue, false, false, amqp091.Publishing{
		ContentType: "application/json",
		Body:        data,
	})
	if err != nil {
		log.Error().Err(err).Str("queue", p.queue).Str("eventType", eventType).Msg("Could not publish to RabbitMQ")
		p.enabled = false
		return
	}
	log.Debug().Str("queue", p.queue).Str("eventType", eventType).Msg("Published event")
}

// Close shuts the channel and connection down.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.enabled = false
}
