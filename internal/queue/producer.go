package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/eventface/internal/models"
)

const (
	IngestStreamName  = "INGEST"
	IngestSubjectBase = "ingest"
	StatusStreamName  = "STATUS"
	StatusSubjectBase = "status"
)

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:        IngestStreamName,
			Subjects:    []string{IngestSubjectBase + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      time.Hour,
			MaxMsgs:     100000,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Duplicates:  2 * time.Minute,
			Description: "Photos waiting for face extraction",
		},
		{
			Name:        StatusStreamName,
			Subjects:    []string{StatusSubjectBase + ".>"},
			Retention:   jetstream.InterestPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Description: "Terminal photo status notifications",
		},
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streams {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// PublishIngest queues a photo for the worker. The photo ID doubles as the
// JetStream message ID, so a retried publish inside the duplicate window is
// dropped by the server.
func (p *Producer) PublishIngest(ctx context.Context, task models.IngestTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal ingest task: %w", err)
	}

	subject := IngestSubject(task.EventCode)
	if _, err := p.js.Publish(ctx, subject, payload, jetstream.WithMsgID(task.EventCode+"/"+task.PhotoID)); err != nil {
		return fmt.Errorf("publish ingest task: %w", err)
	}
	return nil
}

// NotifyStatus publishes a terminal photo status.
func (p *Producer) NotifyStatus(ctx context.Context, n models.StatusNotification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	if _, err := p.js.Publish(ctx, StatusSubject(n.EventCode), payload); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}
	return nil
}

// QueueDepth returns the number of pending messages in the INGEST stream.
func (p *Producer) QueueDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, IngestStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Ping(context.Context) error {
	if !p.nc.IsConnected() {
		return errors.New("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}

func IngestSubject(eventCode string) string {
	return IngestSubjectBase + "." + eventCode
}

func StatusSubject(eventCode string) string {
	return StatusSubjectBase + "." + eventCode
}
