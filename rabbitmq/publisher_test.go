package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"adeguard/models"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	sent   []published
	err    error
	closed bool
}

func (f *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestPublish(t *testing.T) {
	ch := &fakeChannel{}
	p := newPublisherWithChannel(ch, "adeguard")

	require.NoError(t, p.Publish(context.Background(), "report.analysed", map[string]string{"request_id": "abc"}))
	require.Len(t, ch.sent, 1)
	assert.Equal(t, "adeguard", ch.sent[0].exchange)
	assert.Equal(t, "report.analysed", ch.sent[0].key)
	assert.Equal(t, "application/json", ch.sent[0].msg.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), ch.sent[0].msg.DeliveryMode)
	assert.JSONEq(t, `{"request_id":"abc"}`, string(ch.sent[0].msg.Body))
	assert.True(t, p.IsConnected())
}

func TestPublishErrors(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	p := newPublisherWithChannel(ch, "adeguard")
	assert.Error(t, p.Publish(context.Background(), "k", "x"))

	assert.Error(t, p.Publish(context.Background(), "k", make(chan int)))

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
	assert.False(t, p.IsConnected())
	assert.Error(t, p.Publish(context.Background(), "k", "x"))
	assert.NoError(t, p.Close())
}

func TestEventSink(t *testing.T) {
	ch := &fakeChannel{}
	sink := NewEventSink(newPublisherWithChannel(ch, "adeguard"), "report.analysed", "batch.completed")

	result := &models.ReportResult{
		RequestID:        "r1",
		Timestamp:        time.Date(2025, 10, 18, 0, 0, 0, 0, time.UTC),
		SeverityAnalysis: models.SeverityResult{PredictedSeverity: models.SeveritySevere, Confidence: 0.8},
		Summary:          models.ReportSummary{RequiresAttention: true, ADEEntitiesFound: []string{"headache"}},
	}
	sink.ReportAnalysed(context.Background(), NewAnalysedReportEvent("b1", "admin", result))
	sink.BatchCompleted(context.Background(), NewBatchCompletedEvent(&models.BatchResult{BatchID: "b1", BatchStatus: models.BatchCompleted}))

	require.Len(t, ch.sent, 2)
	assert.Equal(t, "report.analysed", ch.sent[0].key)
	assert.Equal(t, "batch.completed", ch.sent[1].key)

	var event AnalysedReportEvent
	require.NoError(t, json.Unmarshal(ch.sent[0].msg.Body, &event))
	assert.Equal(t, "b1", event.BatchID)
	assert.Equal(t, models.SeveritySevere, event.Severity)
	assert.Equal(t, []string{"headache"}, event.ADEEntities)
	assert.True(t, sink.Connected())
}

func TestNilEventSink(t *testing.T) {
	var sink *EventSink
	sink.ReportAnalysed(context.Background(), AnalysedReportEvent{})
	sink.BatchCompleted(context.Background(), BatchCompletedEvent{})
	assert.False(t, sink.Connected())

	empty := NewEventSink(nil, "a", "b")
	empty.ReportAnalysed(context.Background(), AnalysedReportEvent{})
	assert.False(t, empty.Connected())
}
