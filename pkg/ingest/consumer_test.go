package ingest

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgesight/forgesight/pkg/config"
	"github.com/forgesight/forgesight/pkg/models"
)

type fakeReader struct {
	mu       sync.Mutex
	messages []kafka.Message
	next     int
	commits  []int64
	closed   bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if f.next < len(f.messages) {
		msg := f.messages[f.next]
		f.next++
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.commits = append(f.commits, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeReader) committed() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64{}, f.commits...)
}

func envelopeMessage(t *testing.T, offset int64, eventType string, raw string) kafka.Message {
	t.Helper()
	envelope := `{"event_id":"ev-1","source":"code-host","event_type":"` + eventType + `","timestamp":"2026-08-01T10:00:00Z","raw":` + raw + `}`
	return kafka.Message{
		Offset: offset,
		Value:  []byte(base64.StdEncoding.EncodeToString([]byte(envelope))),
	}
}

func newTestConsumer(t *testing.T, reader *fakeReader) (*Consumer, *fakeLog) {
	t.Helper()
	log := &fakeLog{}
	cfg := testIngestConfig(t)
	p := NewPipeline(cfg, log, &fakeIngestEmbedder{}, &fakeVectorStore{}, NewDeadLetterSink(cfg.DeadLetterPath), quietLogger())
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	c := NewConsumer(config.BrokerConfig{
		Enabled: true,
		Brokers: []string{"localhost:9092"},
		Topics:  []string{"events"},
		GroupID: "forgesight",
	}, p, quietLogger())
	c.newReader = func(string) messageReader { return reader }
	return c, log
}

func TestConsumerCommitsAfterLogWrite(t *testing.T) {
	raw := `{"head_commit":{"id":"abc123"},"created_at":"2026-08-01T10:00:00Z"}`
	reader := &fakeReader{messages: []kafka.Message{envelopeMessage(t, 5, "push", raw)}}
	c, log := newTestConsumer(t, reader)

	c.Start(context.Background())
	require.Eventually(t, func() bool {
		return len(reader.committed()) == 1
	}, 2*time.Second, 10*time.Millisecond, "offset must be committed once the event is logged")
	c.Stop()

	assert.Equal(t, []int64{5}, reader.committed())
	require.Equal(t, 1, log.count())
	assert.Equal(t, "push", log.events[0].EventType)
	assert.Equal(t, models.SourceCodeHost, log.events[0].Source)
	assert.True(t, reader.closed)
}

func TestConsumerSkipsMalformedEnvelope(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Offset: 1, Value: []byte("not an envelope")},
		envelopeMessage(t, 2, "push", `{"head_commit":{"id":"def456"},"created_at":"2026-08-01T11:00:00Z"}`),
	}}
	c, log := newTestConsumer(t, reader)

	c.Start(context.Background())
	require.Eventually(t, func() bool {
		return len(reader.committed()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	c.Stop()

	assert.Equal(t, []int64{1, 2}, reader.committed(), "malformed envelopes are committed past, not reprocessed")
	assert.Equal(t, 1, log.count())
}

func TestConsumerRejectsUnknownSource(t *testing.T) {
	envelope := `{"source":"payroll","event_type":"x","raw":{}}`
	reader := &fakeReader{messages: []kafka.Message{{
		Offset: 1,
		Value:  []byte(base64.StdEncoding.EncodeToString([]byte(envelope))),
	}}}
	c, log := newTestConsumer(t, reader)

	c.Start(context.Background())
	require.Eventually(t, func() bool {
		return len(reader.committed()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	c.Stop()

	assert.Equal(t, 0, log.count())
}
