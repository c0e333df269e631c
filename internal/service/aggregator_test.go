package service

import (
	"sync"
	"testing"
	"time"

	"anonrelay/pkg/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flushRecorder struct {
	mu      sync.Mutex
	batches [][]transport.MessageEvent
}

func (r *flushRecorder) flush(events []transport.MessageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, events)
}

func (r *flushRecorder) all() [][]transport.MessageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]transport.MessageEvent(nil), r.batches...)
}

func TestAggregatorUngroupedPassesThrough(t *testing.T) {
	rec := &flushRecorder{}
	agg := NewAggregator(50, rec.flush, testLogger())

	agg.Observe(transport.MessageEvent{MessageID: 1, SenderID: 7})

	batches := rec.all()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	assert.Equal(t, int64(1), batches[0][0].MessageID)
}

func TestAggregatorBuffersGroup(t *testing.T) {
	rec := &flushRecorder{}
	agg := NewAggregator(30, rec.flush, testLogger())

	agg.Observe(transport.MessageEvent{MessageID: 1, GroupID: "g1"})
	agg.Observe(transport.MessageEvent{MessageID: 2, GroupID: "g1"})
	agg.Observe(transport.MessageEvent{MessageID: 3, GroupID: "g1"})

	assert.Empty(t, rec.all())

	require.Eventually(t, func() bool {
		return len(rec.all()) == 1
	}, time.Second, 10*time.Millisecond)

	batches := rec.all()
	require.Len(t, batches[0], 3)
	assert.Equal(t, int64(1), batches[0][0].MessageID)
	assert.Equal(t, int64(3), batches[0][2].MessageID)

	// The group is gone, a stray late part starts a new one.
	agg.Observe(transport.MessageEvent{MessageID: 4, GroupID: "g1"})
	require.Eventually(t, func() bool {
		return len(rec.all()) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestAggregatorSeparateGroups(t *testing.T) {
	rec := &flushRecorder{}
	agg := NewAggregator(30, rec.flush, testLogger())

	agg.Observe(transport.MessageEvent{MessageID: 1, GroupID: "g1"})
	agg.Observe(transport.MessageEvent{MessageID: 2, GroupID: "g2"})

	require.Eventually(t, func() bool {
		return len(rec.all()) == 2
	}, time.Second, 10*time.Millisecond)

	for _, batch := range rec.all() {
		assert.Len(t, batch, 1)
	}
}

func TestAggregatorFlushAll(t *testing.T) {
	rec := &flushRecorder{}
	agg := NewAggregator(10_000, rec.flush, testLogger())

	agg.Observe(transport.MessageEvent{MessageID: 1, GroupID: "g1"})
	agg.Observe(transport.MessageEvent{MessageID: 2, GroupID: "g1"})
	agg.Observe(transport.MessageEvent{MessageID: 3, GroupID: "g2"})

	agg.FlushAll()

	batches := rec.all()
	require.Len(t, batches, 2)

	total := 0
	for _, batch := range batches {
		total += len(batch)
	}
	assert.Equal(t, 3, total)

	// Nothing left to flush.
	agg.FlushAll()
	assert.Len(t, rec.all(), 2)
}
