package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/account-service/internal/model"
)

// Applier is the index the consumer writes into.
type Applier interface {
	Add(ctx context.Context, c model.ClientContact) error
	RemoveToken(ctx context.Context, token []byte) error
}

// Consumer applies directory events from RabbitMQ to an index.
type Consumer struct {
	url   string
	index Applier
	log   *zap.Logger
}

func NewConsumer(url string, index Applier, log *zap.Logger) *Consumer {
	return &Consumer{url: url, index: index, log: log}
}

// Run connects, declares the queue and consumes until ctx is done,
// reconnecting with exponential back-off whenever the broker goes away.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn("directory-consumer: failed to dial broker",
				zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("directory-consumer: consume loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warn("directory-consumer: set QoS failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(DirectoryQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, DirectoryQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := c.handle(ctx, d.Body); err != nil {
			c.log.Error("directory-consumer: handle message failed", zap.Error(err))
			// Malformed events are dropped; index failures go back on the queue.
			_ = d.Nack(false, !errors.Is(err, errMalformed))
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

var errMalformed = errors.New("malformed directory event")

func (c *Consumer) handle(ctx context.Context, body []byte) error {
	ev, err := decodeEvent(body)
	if err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	switch ev.Action {
	case ActionAdd:
		return c.index.Add(ctx, ev.Contact())
	default:
		return c.index.RemoveToken(ctx, ev.Token)
	}
}
