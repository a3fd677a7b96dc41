package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/eventface/internal/models"
)

type IngestHandler func(ctx context.Context, task models.IngestTask) error

type StatusHandler func(ctx context.Context, n models.StatusNotification) error

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

// ConsumeIngest starts consuming ingest tasks from the INGEST stream.
// workerCount determines how many goroutines process messages concurrently.
func (c *Consumer) ConsumeIngest(ctx context.Context, consumerName string, handler IngestHandler, workerCount int) error {
	stream, err := c.js.Stream(ctx, IngestStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", IngestStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       time.Minute,
		MaxDeliver:    3,
		FilterSubject: IngestSubjectBase + ".>",
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)

	go func() {
		defer close(msgCh)
		for {
			if ctx.Err() != nil {
				return
			}

			batch, err := cons.Fetch(workerCount, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch ingest tasks error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				select {
				case msgCh <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				var task models.IngestTask
				if err := json.Unmarshal(msg.Data(), &task); err != nil {
					slog.Error("unmarshal ingest task", "error", err, "subject", msg.Subject())
					_ = msg.Term()
					continue
				}
				if err := handler(ctx, task); err != nil {
					slog.Error("process ingest task error", "worker", workerID, "error", err, "photo_id", task.PhotoID)
					_ = msg.NakWithDelay(5 * time.Second)
				} else {
					_ = msg.Ack()
				}
			}
		}(i)
	}

	slog.Info("ingest consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

// ConsumeStatus delivers new status notifications to handler. Each API
// replica should use its own consumer name so every replica sees every
// notification.
func (c *Consumer) ConsumeStatus(ctx context.Context, consumerName string, handler StatusHandler) error {
	stream, err := c.js.Stream(ctx, StatusStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", StatusStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:              consumerName,
		AckPolicy:         jetstream.AckExplicitPolicy,
		AckWait:           10 * time.Second,
		MaxDeliver:        3,
		FilterSubject:     StatusSubjectBase + ".>",
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		InactiveThreshold: 5 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			if ctx.Err() != nil {
				return
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				var n models.StatusNotification
				if err := json.Unmarshal(msg.Data(), &n); err != nil {
					slog.Error("unmarshal status", "error", err)
					_ = msg.Term()
					continue
				}
				if err := handler(ctx, n); err != nil {
					slog.Error("process status error", "error", err)
					_ = msg.Nak()
				} else {
					_ = msg.Ack()
				}
			}
		}
	}()

	slog.Info("status consumer started", "consumer", consumerName)
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
