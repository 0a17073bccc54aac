package rabbitmq

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mini-maxit/grader/internal/config"
	"github.com/mini-maxit/grader/internal/logger"
	"github.com/mini-maxit/grader/internal/rabbitmq/channel"
	"github.com/mini-maxit/grader/pkg/constants"
	"github.com/mini-maxit/grader/pkg/errors"
)

// NewRabbitMqConnection dials the broker, retrying with a growing delay while it
// is still starting up.
func NewRabbitMqConnection(cfg *config.Config) *amqp.Connection {
	logger := logger.NewNamedLogger("rabbitmq")

	var conn *amqp.Connection
	var err error
	delay := time.Second
	for attempt := 1; attempt <= constants.RabbitMQReconnectTries; attempt++ {
		conn, err = amqp.Dial(cfg.RabbitMQURL)
		if err == nil {
			logger.Info("Connected to RabbitMQ")
			return conn
		}
		logger.Warnf("Failed to connect to RabbitMQ (attempt %d/%d): %s",
			attempt, constants.RabbitMQReconnectTries, err)
		time.Sleep(delay)
		if delay < 10*time.Second {
			delay *= 2
		}
	}

	logger.Fatalf("Failed to connect to RabbitMQ after %d attempts: %s", constants.RabbitMQReconnectTries, err)
	return nil
}

// NewRabbitMQChannel opens a channel that receives at most RabbitMQPrefetchCount
// unacknowledged grading requests per worker slot.
func NewRabbitMQChannel(conn *amqp.Connection, maxWorkers int) channel.Channel {
	logger := logger.NewNamedLogger("rabbitmq")

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatalf("Failed to open RabbitMQ channel: %s", err)
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if err := ch.Qos(constants.RabbitMQPrefetchCount*maxWorkers, 0, false); err != nil {
		logger.Fatalf("Failed to set channel QoS: %s", err)
	}
	return channel.NewAmqpChannel(ch)
}

// WatchConnection blocks until ctx is done or the broker closes conn. A closed
// connection is reported as an error so the process can be restarted.
func WatchConnection(ctx context.Context, conn *amqp.Connection) error {
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	select {
	case <-ctx.Done():
		return nil
	case amqpErr, ok := <-closed:
		if ok && amqpErr != nil {
			return amqpErr
		}
		return errors.ErrDeliveryChannelClosed
	}
}
