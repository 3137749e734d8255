package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/driftline/ledger/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// AppendNotice announces that records landed in the ledger up to Position.
type AppendNotice struct {
	Position int64 `json:"position"`
	Count    int   `json:"count"`
}

// PublishAppendNotice is best-effort: the ingest transaction already
// committed, so a publish failure is logged and swallowed.
func PublishAppendNotice(ch *amqp091.Channel, notice AppendNotice) {
	body, err := json.Marshal(notice)
	if err != nil {
		logger.Error("[Queue] Failed to marshal append notice", "err", err)
		return
	}

	err = ch.Publish(
		AppendExchange,
		AppendRoutingKey,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Transient,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		logger.Error("[Queue] Failed to publish append notice", "err", err)
	}
}

// SubscribeAppends binds a private queue to the append exchange and
// forwards decoded notices. The returned channel closes when ctx ends or
// the AMQP channel dies; consumers fall back to their poll timer either way.
func SubscribeAppends(ctx context.Context, conn *amqp091.Connection) (<-chan AppendNotice, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	if err := Setup(ch); err != nil {
		ch.Close()
		return nil, err
	}

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // autoDelete
		true,  // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, err
	}

	if err := ch.QueueBind(q.Name, AppendRoutingKey, AppendExchange, false, nil); err != nil {
		ch.Close()
		return nil, err
	}

	msgs, err := ch.Consume(
		q.Name,
		"",
		true,  // autoAck, notices are disposable
		true,  // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, err
	}

	out := make(chan AppendNotice, 16)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var notice AppendNotice
				if err := json.Unmarshal(msg.Body, &notice); err != nil {
					logger.Warn("[Queue] Dropping malformed append notice", "err", err)
					continue
				}
				select {
				case out <- notice:
				default:
					// a pending notice already wakes the consumer
				}
			}
		}
	}()

	return out, nil
}
