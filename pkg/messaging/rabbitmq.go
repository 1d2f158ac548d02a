package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/grigta/hotspot/pkg/logger"
)

var ErrClosed = errors.New("rabbitmq connection closed")

// Publisher is what services depend on; RabbitMQ implements it.
type Publisher interface {
	PublishEvent(eventType string, data interface{}) error
}

type RabbitMQ struct {
	mu       sync.RWMutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	url      string
	exchange string
	stopCh   chan struct{}
	closed   bool
}

func NewRabbitMQ(url, exchange string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	logger.Info("Connected to RabbitMQ", logger.Field{Key: "exchange", Value: exchange})

	rabbitmq := &RabbitMQ{
		conn:     conn,
		channel:  ch,
		url:      url,
		exchange: exchange,
		stopCh:   make(chan struct{}),
	}

	if err := rabbitmq.SetupTopology(); err != nil {
		rabbitmq.Close()
		return nil, err
	}

	go rabbitmq.monitorConnection()

	return rabbitmq, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	close(r.stopCh)

	if err := r.channel.Close(); err != nil {
		return fmt.Errorf("failed to close channel: %w", err)
	}
	if err := r.conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

func (r *RabbitMQ) SetupTopology() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.channel.ExchangeDeclare(r.exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare %s exchange: %w", r.exchange, err)
	}
	return nil
}

func (r *RabbitMQ) Publish(exchange, routingKey string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrClosed
	}

	return r.channel.Publish(
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

// PublishEvent wraps data in a Message and routes it by event type.
func (r *RabbitMQ) PublishEvent(eventType string, data interface{}) error {
	return r.Publish(r.exchange, eventType, NewMessage(eventType, data))
}

func (r *RabbitMQ) reconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil && !r.conn.IsClosed() {
		r.conn.Close()
	}

	conn, err := amqp.Dial(r.url)
	if err != nil {
		return fmt.Errorf("failed to reconnect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to reopen channel: %w", err)
	}

	r.conn = conn
	r.channel = ch

	logger.Info("Reconnected to RabbitMQ")
	return nil
}

func (r *RabbitMQ) monitorConnection() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.mu.RLock()
			lost := r.conn != nil && r.conn.IsClosed() && !r.closed
			r.mu.RUnlock()
			if !lost {
				continue
			}

			logger.Warn("RabbitMQ connection lost, attempting to reconnect...")
			for i := 0; i < 5; i++ {
				if err := r.reconnect(); err != nil {
					logger.Error("Failed to reconnect to RabbitMQ",
						logger.Field{Key: "attempt", Value: i + 1},
						logger.Err(err),
					)
					time.Sleep(time.Duration(i+1) * time.Second)
					continue
				}
				if err := r.SetupTopology(); err != nil {
					logger.Error("Failed to setup topology after reconnect", logger.Err(err))
				}
				break
			}
		}
	}
}

type Message struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      interface{}            `json:"data"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func NewMessage(msgType string, data interface{}) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
		Metadata:  make(map[string]interface{}),
	}
}

// NopPublisher drops every event. Used when RabbitMQ is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishEvent(string, interface{}) error { return nil }
