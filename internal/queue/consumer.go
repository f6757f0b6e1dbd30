package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/facegate/internal/models"
)

// MessageHandler processes one message. A nil error acks it; an error naks it
// for redelivery up to the consumer's MaxDeliver.
type MessageHandler func(ctx context.Context, msg jetstream.Msg) error

// DecodeAuthEvent parses the payload of an AUTH_EVENTS message.
func DecodeAuthEvent(data []byte) (models.AuthEvent, error) {
	var ev models.AuthEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("decode auth event: %w", err)
	}
	return ev, nil
}

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeAuthEvents attaches the durable consumer named consumerName to the
// auth event stream and processes messages on workerCount goroutines. The audit
// worker uses it; every event is delivered to exactly one worker replica.
func (c *Consumer) ConsumeAuthEvents(ctx context.Context, consumerName string, handler MessageHandler, workerCount int) error {
	workerCount = max(workerCount, 1)

	cons, err := c.consumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		FilterSubject: AuthEventsSubjectBase + ".>",
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)
	go func() {
		defer close(msgCh)
		fetchLoop(ctx, cons, workerCount, func(msg jetstream.Msg) bool {
			select {
			case msgCh <- msg:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()

	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				settle(ctx, msg, handler, "worker", workerID)
			}
		}(i)
	}

	slog.Info("auth event consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

// WatchAuthEvents delivers events published from now on to handler through an
// ephemeral consumer that the server drops once the watcher goes away. Each API
// replica gets its own copy, which is what the WebSocket fan-out needs.
func (c *Consumer) WatchAuthEvents(ctx context.Context, handler MessageHandler) error {
	cons, err := c.consumer(ctx, jetstream.ConsumerConfig{
		AckPolicy:         jetstream.AckExplicitPolicy,
		AckWait:           10 * time.Second,
		MaxDeliver:        3,
		FilterSubject:     AuthEventsSubjectBase + ".>",
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		InactiveThreshold: time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create watch consumer: %w", err)
	}

	go fetchLoop(ctx, cons, 10, func(msg jetstream.Msg) bool {
		settle(ctx, msg, handler, "consumer", "watch")
		return true
	})

	slog.Info("auth event watcher started")
	return nil
}

func (c *Consumer) consumer(ctx context.Context, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error) {
	stream, err := c.js.Stream(ctx, AuthEventsStreamName)
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", AuthEventsStreamName, err)
	}
	if cfg.Durable != "" {
		return stream.CreateOrUpdateConsumer(ctx, cfg)
	}
	return stream.CreateConsumer(ctx, cfg)
}

// fetchLoop pulls batches until ctx ends or deliver returns false.
func fetchLoop(ctx context.Context, cons jetstream.Consumer, batchSize int, deliver func(jetstream.Msg) bool) {
	for ctx.Err() == nil {
		batch, err := cons.Fetch(batchSize, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("fetch auth events", "error", err)
			time.Sleep(time.Second)
			continue
		}
		for msg := range batch.Messages() {
			if !deliver(msg) {
				return
			}
		}
	}
}

func settle(ctx context.Context, msg jetstream.Msg, handler MessageHandler, logAttrs ...any) {
	if err := handler(ctx, msg); err != nil {
		slog.Error("process auth event", append(logAttrs, "subject", msg.Subject(), "error", err)...)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

// Pending returns how many auth events the durable consumer has yet to process,
// counting both undelivered and unacknowledged messages.
func (c *Consumer) Pending(ctx context.Context, consumerName string) (uint64, error) {
	cons, err := c.js.Consumer(ctx, AuthEventsStreamName, consumerName)
	if err != nil {
		return 0, err
	}
	info, err := cons.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.NumPending + uint64(info.NumAckPending), nil
}

func (c *Consumer) Ping() error {
	if !c.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
