package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/forgesight/forgesight/pkg/config"
	"github.com/forgesight/forgesight/pkg/models"
)

// ErrQueueFull is returned by TryEnqueue when the bounded queue is at
// capacity. Webhook handlers map it to 503 Retry-After.
var ErrQueueFull = errors.New("ingestion queue is full")

// Per-event lifecycle states, logged as each event moves through the
// pipeline. The log write is the durability boundary.
const (
	stateReceived     = "RECEIVED"
	stateValidated    = "VALIDATED"
	stateNormalised   = "NORMALISED"
	stateLogged       = "LOGGED"
	stateEmbedded     = "EMBEDDED"
	stateEmbedFailed  = "EMBED_FAILED"
	stateDone         = "DONE"
	stateDeadLettered = "DEAD_LETTERED"
)

type eventLog interface {
	InsertEvent(ctx context.Context, e *models.Event) (bool, error)
}

type textEmbedder interface {
	EmbedPassage(ctx context.Context, text string) ([]float32, error)
}

type vectorUpserter interface {
	UpsertEmbedding(ctx context.Context, rec *models.EmbeddingRecord) error
}

// Job is one unit of ingestion work. Webhook receivers submit raw
// payloads; the broker consumer submits pre-decoded events. Ack, when
// set, is called once the event has reached a terminal state so the
// broker offset can be committed.
type Job struct {
	Source  models.Source
	Headers http.Header
	Body    []byte

	// Event, when non-nil, skips normalisation (broker envelope path).
	Event *models.Event

	Ack func()
}

// Pipeline is the bounded-queue worker pool between the ingress paths
// and the stores. Events flow RECEIVED → VALIDATED → NORMALISED →
// LOGGED → (EMBEDDED | EMBED_FAILED) → DONE, with DEAD_LETTERED as the
// terminal for log writes that exhausted their retries.
type Pipeline struct {
	cfg      config.IngestConfig
	log      eventLog
	embedder textEmbedder
	vectors  vectorUpserter
	sink     *DeadLetterSink
	logger   *slog.Logger

	queue    chan Job
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewPipeline(cfg config.IngestConfig, log eventLog, embedder textEmbedder, vectors vectorUpserter, sink *DeadLetterSink, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:      cfg,
		log:      log,
		embedder: embedder,
		vectors:  vectors,
		sink:     sink,
		logger:   logger.With("component", "ingest"),
		queue:    make(chan Job, cfg.QueueSize),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the worker pool. Workers run until Stop is called and
// the queue has drained.
func (p *Pipeline) Start(ctx context.Context) {
	p.logger.Info("starting ingestion workers",
		"workers", p.cfg.WorkerCount, "queue_size", p.cfg.QueueSize)
	for i := 0; i < p.cfg.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop drains the queue and waits for in-flight events, bounded by the
// configured shutdown timeout.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			p.logger.Info("ingestion workers stopped")
		case <-time.After(p.cfg.ShutdownTimeout):
			p.logger.Warn("ingestion shutdown timed out with events in flight",
				"remaining", len(p.queue))
		}
	})
}

// TryEnqueue offers a job without blocking. A full queue is the
// caller's signal to shed load.
func (p *Pipeline) TryEnqueue(job Job) error {
	select {
	case <-p.stopCh:
		return ErrQueueFull
	default:
	}
	select {
	case p.queue <- job:
		metricReceived.WithLabelValues(string(job.Source)).Inc()
		metricQueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Enqueue blocks until the queue has room. The broker consumer uses
// this so a full queue pauses polling instead of dropping events.
func (p *Pipeline) Enqueue(ctx context.Context, job Job) error {
	select {
	case p.queue <- job:
		metricReceived.WithLabelValues(string(job.Source)).Inc()
		metricQueueDepth.Set(float64(len(p.queue)))
		return nil
	case <-p.stopCh:
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth reports how many events are waiting, for health reporting.
func (p *Pipeline) QueueDepth() int {
	return len(p.queue)
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With("worker", id)
	for {
		select {
		case job := <-p.queue:
			metricQueueDepth.Set(float64(len(p.queue)))
			p.process(ctx, job, logger)
		case <-p.stopCh:
			// Drain what is already queued before exiting.
			for {
				select {
				case job := <-p.queue:
					p.process(ctx, job, logger)
				default:
					return
				}
			}
		}
	}
}

func (p *Pipeline) process(ctx context.Context, job Job, logger *slog.Logger) {
	if job.Ack != nil {
		defer job.Ack()
	}
	logger.Debug("event state", "state", stateReceived, "source", job.Source)

	event := job.Event
	if event == nil {
		logger.Debug("event state", "state", stateValidated, "source", job.Source)
		var err error
		event, err = Normalise(job.Source, job.Headers, job.Body)
		if err != nil {
			// An un-parseable event cannot be retried into sense.
			metricDropped.Inc()
			logger.Warn("dropping event", "source", job.Source, "error", err)
			return
		}
	}
	logger.Debug("event state", "state", stateNormalised,
		"event_id", event.EventID, "event_type", event.EventType)

	inserted, err := p.writeLog(ctx, event)
	if err != nil {
		p.deadLetter(job, event, err, logger)
		return
	}
	logger.Debug("event state", "state", stateLogged, "event_id", event.EventID)
	if !inserted {
		metricDeduplicated.Inc()
		logger.Debug("duplicate event skipped", "event_id", event.EventID)
		return
	}

	p.fanOutEmbedding(ctx, event, logger)
	logger.Debug("event state", "state", stateDone, "event_id", event.EventID)
}

// writeLog inserts into the time-series log with exponential backoff.
// This is the durability boundary: only exhaustion here dead-letters.
func (p *Pipeline) writeLog(ctx context.Context, event *models.Event) (bool, error) {
	var inserted bool
	attempts := uint64(p.cfg.MaxLogRetries)
	op := func() error {
		var err error
		inserted, err = p.log.InsertEvent(ctx, event)
		return err
	}
	notify := func(err error, next time.Duration) {
		p.logger.Warn("log write failed, retrying",
			"event_id", event.EventID, "retry_in", next, "error", err)
	}
	err := backoff.RetryNotify(op,
		backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), attempts), ctx),
		notify)
	if err != nil {
		return false, fmt.Errorf("failed to write event log: %w", err)
	}
	return inserted, nil
}

func (p *Pipeline) deadLetter(job Job, event *models.Event, cause error, logger *slog.Logger) {
	metricDeadLettered.Inc()
	logger.Error("event state", "state", stateDeadLettered,
		"event_id", event.EventID, "error", cause)

	raw := job.Body
	if raw == nil {
		// Broker-path jobs carry no raw body; preserve what we have.
		raw = []byte(event.MetadataJSON())
	}
	if err := p.sink.Write(string(event.Source), cause.Error(), raw); err != nil {
		logger.Error("failed to dead-letter event", "event_id", event.EventID, "error", err)
	}
}

// fanOutEmbedding indexes the event's durable text, best-effort. A
// failure here never fails the event.
func (p *Pipeline) fanOutEmbedding(ctx context.Context, event *models.Event, logger *slog.Logger) {
	text, title := durableText(event)
	if text == "" {
		return
	}

	embedCtx, cancel := context.WithTimeout(ctx, p.cfg.EmbedTimeout)
	defer cancel()

	vector, err := p.embedder.EmbedPassage(embedCtx, title+"\n\n"+text)
	if err != nil {
		logger.Warn("event state", "state", stateEmbedFailed,
			"event_id", event.EventID, "error", err)
		return
	}
	rec := &models.EmbeddingRecord{
		Type:        models.EmbeddingProjectDoc,
		SourceID:    embeddingSourceID(event),
		SourceTable: "events",
		Title:       title,
		Content:     text,
		Metadata: map[string]any{
			"source":     string(event.Source),
			"event_type": event.EventType,
			"project_id": event.ProjectID,
		},
		Vector: vector,
	}
	if err := p.vectors.UpsertEmbedding(embedCtx, rec); err != nil {
		logger.Warn("event state", "state", stateEmbedFailed,
			"event_id", event.EventID, "error", err)
		return
	}
	metricEmbedded.Inc()
	logger.Debug("event state", "state", stateEmbedded, "event_id", event.EventID)
}

// durableText pulls the title and body the normaliser attached, if any.
func durableText(event *models.Event) (text, title string) {
	if event.Metadata == nil {
		return "", ""
	}
	text, _ = event.Metadata["text"].(string)
	title, _ = event.Metadata["title"].(string)
	return text, title
}

// embeddingSourceID keys the vector row by the entity, not the event,
// so re-edits of the same PR or page update in place.
func embeddingSourceID(event *models.Event) string {
	return fmt.Sprintf("%s:%s:%s", event.Source, event.EntityType, event.EntityID)
}
