// Package queue carries append notifications from the ingest server to
// the consolidation worker. Notifications are a wake-up hint only: every
// stage still polls its checkpoint on a timer, so a lost message delays
// processing by at most one poll interval and never loses data.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/driftline/ledger/internal/util"
	"github.com/driftline/ledger/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	// AppendExchange is the topic exchange append notifications flow over.
	AppendExchange = "ledger_events"

	// AppendRoutingKey marks new-record notifications.
	AppendRoutingKey = "records.appended"
)

func Init() *amqp091.Connection {
	user := util.GetEnv("RABBITMQ_USER")
	pass := util.GetEnv("RABBITMQ_PASSWORD")
	host := util.GetEnv("RABBITMQ_HOST")
	port := util.GetEnv("RABBITMQ_PORT")

	connURL := fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		user,
		pass,
		host,
		port,
	)

	// the broker often comes up after us in compose setups
	var conn *amqp091.Connection
	err := util.RetryBackoff(context.Background(), 5, time.Second, func(context.Context) error {
		var dialErr error
		conn, dialErr = amqp091.Dial(connURL)
		return dialErr
	})
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}

	return conn
}

// Setup declares the append exchange. Idempotent; both server and worker
// call it on startup.
func Setup(ch *amqp091.Channel) error {
	err := ch.ExchangeDeclare(
		AppendExchange,
		"topic",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", AppendExchange, err)
	}
	return nil
}
