package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"oracle-service/internal/config"

	amqp "github.com/rabbitmq/amqp091-go"
)

// claimQueues are declared durable on connect.
var claimQueues = []string{ClaimEventsQueue, PushNotiQueue}

type RabbitMQConnection struct {
	Connection *amqp.Connection
	Channel    *amqp.Channel
}

// ConnectRabbitMQ dials the broker and declares the durable claim queues.
func ConnectRabbitMQ(cfg config.RabbitMQConfig) (*RabbitMQConnection, error) {
	uri, err := brokerURI(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(uri.String())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareClaimQueues(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	slog.Info("Connected to RabbitMQ", "host", cfg.Host, "port", uri.Port, "vhost", cfg.VHost, "queues", claimQueues)

	return &RabbitMQConnection{
		Connection: conn,
		Channel:    ch,
	}, nil
}

func brokerURI(cfg config.RabbitMQConfig) (amqp.URI, error) {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		return amqp.URI{}, fmt.Errorf("invalid RabbitMQ port %q: %w", cfg.Port, err)
	}
	return amqp.URI{
		Scheme:   "amqp",
		Host:     cfg.Host,
		Port:     port,
		Username: cfg.Username,
		Password: cfg.Password,
		Vhost:    cfg.VHost,
	}, nil
}

func declareClaimQueues(ch amqpChannel) error {
	for _, queue := range claimQueues {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", queue, err)
		}
	}
	return nil
}

// Ping reports a dropped broker connection to the health check.
func (r *RabbitMQConnection) Ping(context.Context) error {
	if r == nil || r.Connection == nil || r.Connection.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	if r.Channel == nil || r.Channel.IsClosed() {
		return errors.New("rabbitmq channel closed")
	}
	return nil
}

func (r *RabbitMQConnection) Close() error {
	if r.Channel != nil {
		if err := r.Channel.Close(); err != nil {
			slog.Error("failed to close RabbitMQ channel", "error", err)
		}
	}
	if r.Connection != nil {
		if err := r.Connection.Close(); err != nil {
			slog.Error("failed to close RabbitMQ connection", "error", err)
			return err
		}
	}
	slog.Info("RabbitMQ connection closed")
	return nil
}
