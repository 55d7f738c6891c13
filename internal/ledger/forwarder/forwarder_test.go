package forwarder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendguard/internal/ledger"
	"attendguard/internal/platform/kafka"
)

type fakeSink struct {
	mu      sync.Mutex
	batches [][]ledger.Entry
	err     error
}

func (s *fakeSink) Send(_ context.Context, entries []ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, entries)
	return nil
}

func (s *fakeSink) sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func TestForwarder_FlushInBatches(t *testing.T) {
	sink := &fakeSink{}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	f := New(sink, 10, WithBatchSize(2), WithMetrics(metrics))

	for i := range 5 {
		f.Publish(context.Background(), entry(i))
	}
	f.Flush(context.Background())

	assert.Len(t, sink.batches, 3)
	assert.Equal(t, 5, sink.sent())
	assert.Zero(t, f.Pending())
	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.Sent))
}

func TestForwarder_DropsOldestWhenFull(t *testing.T) {
	sink := &fakeSink{}
	metrics := NewMetrics(prometheus.NewRegistry())
	f := New(sink, 2, WithMetrics(metrics), WithBatchSize(10))

	for i := range 4 {
		f.Publish(context.Background(), entry(i))
	}
	f.Flush(context.Background())

	require.Len(t, sink.batches, 1)
	assert.Equal(t, "EVT_2", sink.batches[0][0].EventID)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Dropped))
}

func TestForwarder_SinkFailureCountsAndContinues(t *testing.T) {
	sink := &fakeSink{err: errors.New("broker down")}
	metrics := NewMetrics(prometheus.NewRegistry())
	f := New(sink, 10, WithMetrics(metrics), WithBatchSize(2))

	for i := range 3 {
		f.Publish(context.Background(), entry(i))
	}
	f.Flush(context.Background())

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Failed))
	assert.Equal(t, 1, f.Pending())
}

func TestForwarder_RunDrainsOnShutdown(t *testing.T) {
	sink := &fakeSink{}
	f := New(sink, 10, WithFlushInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	f.Publish(context.Background(), entry(1))
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder did not stop")
	}
	assert.Equal(t, 1, sink.sent())
}

type fakeProducer struct {
	msgs []kafka.Message
}

func (p *fakeProducer) Produce(_ context.Context, msgs ...kafka.Message) error {
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func TestKafkaSink_KeysBySubject(t *testing.T) {
	producer := &fakeProducer{}
	sink := NewKafkaSink(producer)

	err := sink.Send(context.Background(), []ledger.Entry{{
		EventID:   "EVT_1",
		Category:  ledger.CategorySecurity,
		Severity:  ledger.SeverityHigh,
		SubjectID: "101",
		Subtype:   ledger.SubtypeDeviceFailure,
	}})
	require.NoError(t, err)
	require.Len(t, producer.msgs, 1)
	assert.Equal(t, "101", string(producer.msgs[0].Key))
	assert.Equal(t, "high", producer.msgs[0].Headers["severity"])
	assert.Contains(t, string(producer.msgs[0].Value), `"subtype":"device_verification_failure"`)
}
