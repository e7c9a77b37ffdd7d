package ingest

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/forgesight/forgesight/pkg/config"
	"github.com/forgesight/forgesight/pkg/models"
)

// Consumer reads event envelopes from the streaming broker and feeds
// them into the pipeline. Delivery is at-least-once: an offset is
// committed only after the event has reached a terminal pipeline state,
// and the deterministic event_id makes re-delivery idempotent.
type Consumer struct {
	cfg      config.BrokerConfig
	pipeline *Pipeline
	logger   *slog.Logger

	newReader func(topic string) messageReader

	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// messageReader is the slice of kafka.Reader the consumer needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewConsumer(cfg config.BrokerConfig, pipeline *Pipeline, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Consumer{
		cfg:      cfg,
		pipeline: pipeline,
		logger:   logger.With("component", "broker-consumer"),
	}
	c.newReader = func(topic string) messageReader {
		rc := kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			GroupID:        cfg.GroupID,
			Topic:          topic,
			MinBytes:       1,
			MaxBytes:       10 << 20,
			CommitInterval: 0, // explicit commits only
		}
		if cfg.TLS {
			rc.Dialer = &kafka.Dialer{
				Timeout:   10 * time.Second,
				DualStack: true,
				TLS:       &tls.Config{MinVersion: tls.VersionTLS12},
			}
		}
		return kafka.NewReader(rc)
	}
	return c
}

// Start launches one fetch loop per topic.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	for _, topic := range c.cfg.Topics {
		reader := c.newReader(topic)
		c.wg.Add(1)
		go c.consume(ctx, topic, reader)
	}
	c.logger.Info("broker consumer started",
		"brokers", c.cfg.Brokers, "topics", c.cfg.Topics, "group", c.cfg.GroupID)
}

// Stop cancels the fetch loops and waits for them to finish.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
		c.logger.Info("broker consumer stopped")
	})
}

func (c *Consumer) consume(ctx context.Context, topic string, reader messageReader) {
	defer c.wg.Done()
	defer func() {
		if err := reader.Close(); err != nil {
			c.logger.Warn("failed to close reader", "topic", topic, "error", err)
		}
	}()

	logger := c.logger.With("topic", topic)
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return
			}
			logger.Error("failed to fetch message", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		job, err := c.decode(msg)
		if err != nil {
			// A malformed envelope can never succeed; commit past it.
			logger.Warn("skipping malformed envelope",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
			c.commit(ctx, reader, msg, logger)
			continue
		}

		// Enqueue blocks when the queue is full: backpressure pauses the
		// fetch loop, and the uncommitted offset keeps the event safe.
		msgCopy := msg
		job.Ack = func() { c.commit(ctx, reader, msgCopy, logger) }
		if err := c.pipeline.Enqueue(ctx, job); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to enqueue event", "offset", msg.Offset, "error", err)
			return
		}
	}
}

// decode unwraps the base64 JSON envelope into a pipeline job. The raw
// payload goes through the same normaliser as the webhook path, with
// the envelope's event type standing in for the webhook header.
func (c *Consumer) decode(msg kafka.Message) (Job, error) {
	payload := make([]byte, base64.StdEncoding.DecodedLen(len(msg.Value)))
	n, err := base64.StdEncoding.Decode(payload, msg.Value)
	if err != nil {
		// Some producers send plain JSON; accept it as-is.
		payload = msg.Value
	} else {
		payload = payload[:n]
	}

	var env models.BrokerEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Job{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if !env.Source.Valid() {
		return Job{}, fmt.Errorf("unknown source %q", env.Source)
	}
	if len(env.Raw) == 0 {
		return Job{}, errors.New("envelope has no raw payload")
	}

	headers := http.Header{}
	if env.EventType != "" && env.Source == models.SourceCodeHost {
		headers.Set(codeHostEventHeader, env.EventType)
	}
	return Job{Source: env.Source, Headers: headers, Body: env.Raw}, nil
}

func (c *Consumer) commit(ctx context.Context, reader messageReader, msg kafka.Message, logger *slog.Logger) {
	if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		logger.Error("failed to commit offset",
			"partition", msg.Partition, "offset", msg.Offset, "error", err)
	}
}
