package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	config "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Config"
	logger "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Logger"
	metrics "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Metrics"
)

type fakeWriter struct {
	messages    []kafka.Message
	err         error
	hadDeadline bool
	closed      bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	_, w.hadDeadline = ctx.Deadline()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishDelivered(t *testing.T) {
	writer := &fakeWriter{}
	m := metrics.New()
	p := newPublisher(writer, config.KafkaConfig{WriteTimeout: time.Second}, logger.Nop(), m)

	payload := []byte(`{"device_id":"dev1","alcohol_ppm":1}`)
	result := p.Publish(context.Background(), payload)

	if !result.Delivered() || result.Failed() || result.Err() != nil {
		t.Fatalf("Publish() = %+v, want delivered", result)
	}
	if len(writer.messages) != 1 || string(writer.messages[0].Value) != string(payload) {
		t.Errorf("written messages = %v, want the raw payload once", writer.messages)
	}
	if !writer.hadDeadline {
		t.Error("Publish should bound the write with the configured timeout")
	}
	if got := testutil.ToFloat64(m.PublishesTotal.WithLabelValues("delivered")); got != 1 {
		t.Errorf("delivered counter = %v, want 1", got)
	}
}

func TestPublishFailedIsAResultNotAPanic(t *testing.T) {
	brokerDown := errors.New("dial tcp: connection refused")
	writer := &fakeWriter{err: brokerDown}
	p := newPublisher(writer, config.KafkaConfig{}, logger.Nop(), nil)

	result := p.Publish(context.Background(), []byte(`{}`))
	if !result.Failed() || result.Delivered() {
		t.Fatalf("Publish() = %+v, want failed", result)
	}
	if result.Err().Topic != config.KafkaTopic {
		t.Errorf("PublishError.Topic = %q, want %q", result.Err().Topic, config.KafkaTopic)
	}
	if !errors.Is(result.Err(), brokerDown) {
		t.Errorf("PublishError should wrap the writer error, got %v", result.Err())
	}
}

func TestPublisherClose(t *testing.T) {
	writer := &fakeWriter{}
	p := newPublisher(writer, config.KafkaConfig{}, logger.Nop(), nil)
	if err := p.Close(); err != nil || !writer.closed {
		t.Error("Close() should close the writer")
	}
}
