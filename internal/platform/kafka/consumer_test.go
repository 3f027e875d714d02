package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafkago.Message
	committed []int64
	onCommit  func(committed []int64)
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		msg := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafkago.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	r.mu.Lock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	committed := append([]int64(nil), r.committed...)
	r.mu.Unlock()
	if r.onCommit != nil {
		r.onCommit(committed)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func newTestConsumer(reader messageReader) *Consumer {
	return &Consumer{
		reader:       reader,
		topic:        "order.events",
		logger:       zap.NewNop(),
		retryInitial: time.Millisecond,
		retryMax:     2 * time.Millisecond,
	}
}

func message(offset int64) kafkago.Message {
	return kafkago.Message{Topic: "order.events", Partition: 0, Offset: offset}
}

func TestConsume_RetriesFailedMessageBeforeMovingOn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{pending: []kafkago.Message{message(10), message(11)}}
	reader.onCommit = func(committed []int64) {
		if len(committed) == 2 {
			cancel()
		}
	}

	var handled []int64
	failures := 2
	handler := func(_ context.Context, msg kafkago.Message) error {
		handled = append(handled, msg.Offset)
		if msg.Offset == 10 && failures > 0 {
			failures--
			return errors.New("database unavailable")
		}
		return nil
	}

	err := newTestConsumer(reader).Consume(ctx, handler)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int64{10, 10, 10, 11}, handled)
	assert.Equal(t, []int64{10, 11}, reader.commits())
}

func TestConsume_CancelDuringRetryCommitsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{pending: []kafkago.Message{message(10), message(11)}}

	attempts := 0
	handler := func(_ context.Context, msg kafkago.Message) error {
		require.Equal(t, int64(10), msg.Offset, "later messages wait for the failing one")
		attempts++
		if attempts == 3 {
			cancel()
		}
		return errors.New("database unavailable")
	}

	err := newTestConsumer(reader).Consume(ctx, handler)
	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, attempts, 3)
	assert.Empty(t, reader.commits())
}

func TestConsume_FetchError(t *testing.T) {
	reader := &erroringReader{err: errors.New("broker gone")}

	err := newTestConsumer(reader).Consume(context.Background(), func(context.Context, kafkago.Message) error {
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order.events")
}

type erroringReader struct {
	fakeReader
	err error
}

func (r *erroringReader) FetchMessage(context.Context) (kafkago.Message, error) {
	return kafkago.Message{}, r.err
}
