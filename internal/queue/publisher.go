package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/account-service/internal/model"
)

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// DialTimeout bounds the TCP connect and AMQP handshake of a publisher
// connection.
const DialTimeout = 5 * time.Second

// Publisher is a discovery index that forwards every change to RabbitMQ.
// One connection and channel are shared by all callers and reopened after
// a failed publish.  The mutex only guards the shared fields; dialing and
// publishing happen outside it.
type Publisher struct {
	log     *zap.Logger
	connect func() (publishChannel, io.Closer, error)

	mu     sync.Mutex
	ch     publishChannel
	closer io.Closer
}

// NewPublisher returns a Publisher that dials url on first use.
func NewPublisher(url string, log *zap.Logger) *Publisher {
	return &Publisher{
		log: log,
		connect: func() (publishChannel, io.Closer, error) {
			return dial(url)
		},
	}
}

func dial(url string) (publishChannel, io.Closer, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(DialTimeout),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("channel open: %w", err)
	}
	// Durable so events survive broker restarts.
	if _, err := ch.QueueDeclare(DirectoryQueueName, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("queue declare: %w", err)
	}
	return ch, conn, nil
}

// Add publishes an add event for c.
func (p *Publisher) Add(ctx context.Context, c model.ClientContact) error {
	return p.publish(ctx, DirectoryEvent{
		Action: ActionAdd,
		Token:  c.Token,
		Relay:  c.Relay,
		Voice:  c.Voice,
		Video:  c.Video,
	})
}

// Remove publishes a remove event for the token derived from number.
func (p *Publisher) Remove(ctx context.Context, number string) error {
	return p.publish(ctx, DirectoryEvent{Action: ActionRemove, Token: model.ContactToken(number)})
}

func (p *Publisher) publish(ctx context.Context, ev DirectoryEvent) error {
	ev.At = time.Now().UTC().Format(time.RFC3339Nano)
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrSerialization, err)
	}

	ch, err := p.channel(ctx)
	if err != nil {
		p.log.Error("directory publisher: connect failed", zap.Error(err))
		return err
	}

	err = ch.PublishWithContext(ctx, "", DirectoryQueueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		p.log.Error("directory publisher: publish failed", zap.String("action", ev.Action), zap.Error(err))
		p.mu.Lock()
		if p.ch == ch {
			p.resetLocked()
		}
		p.mu.Unlock()
		return err
	}
	return nil
}

// channel returns the shared channel, dialing when there is none.  A
// caller whose ctx ends during the dial gets ctx.Err(); the connection, if
// it arrives later, is closed.  When two dials race, the loser closes its
// connection and uses the winner's.
func (p *Publisher) channel(ctx context.Context) (publishChannel, error) {
	p.mu.Lock()
	ch := p.ch
	p.mu.Unlock()
	if ch != nil {
		return ch, nil
	}

	type dialed struct {
		ch     publishChannel
		closer io.Closer
		err    error
	}
	res := make(chan dialed, 1)
	go func() {
		ch, closer, err := p.connect()
		res <- dialed{ch: ch, closer: closer, err: err}
	}()

	select {
	case d := <-res:
		if d.err != nil {
			return nil, d.err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.ch != nil {
			_ = d.closer.Close()
			return p.ch, nil
		}
		p.ch, p.closer = d.ch, d.closer
		return d.ch, nil
	case <-ctx.Done():
		go func() {
			if d := <-res; d.err == nil {
				_ = d.closer.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func (p *Publisher) resetLocked() {
	if p.closer != nil {
		_ = p.closer.Close()
	}
	p.ch, p.closer = nil, nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}
