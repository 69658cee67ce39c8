package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ureca/billing-notifier/internal/domain"
)

type fakeRecorder struct {
	mu       sync.Mutex
	recorded []struct {
		msg     domain.BillingMessage
		attempt int
	}
	err error
}

func (r *fakeRecorder) RecordDeadLettered(_ context.Context, msg domain.BillingMessage, attempt int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.recorded = append(r.recorded, struct {
		msg     domain.BillingMessage
		attempt int
	}{msg, attempt})
	return nil
}

func runDeadLetterConsumer(t *testing.T, fetcher *fakeFetcher, recorder *fakeRecorder) {
	t.Helper()

	consumer := NewDeadLetterConsumer(fetcher, recorder, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := consumer.Run(ctx); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
}

func TestDeadLetterConsumerRecordsAndCommits(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{msgs: []kafka.Message{{
		Topic:   TopicDeadLetter,
		Offset:  5,
		Value:   []byte(`{"billId":42,"userId":7,"notificationType":"SMS"}`),
		Headers: []kafka.Header{attemptHeader(3)},
	}}}
	recorder := &fakeRecorder{}

	runDeadLetterConsumer(t, fetcher, recorder)

	if len(recorder.recorded) != 1 {
		t.Fatalf("expected one recorded message, got %d", len(recorder.recorded))
	}
	if recorder.recorded[0].msg.BillID != 42 {
		t.Fatalf("expected bill 42, got %d", recorder.recorded[0].msg.BillID)
	}
	if recorder.recorded[0].attempt != 3 {
		t.Fatalf("expected attempt 3, got %d", recorder.recorded[0].attempt)
	}
	if fetcher.committedCount() != 1 {
		t.Fatalf("expected the offset to be committed, got %d commits", fetcher.committedCount())
	}
}

func TestDeadLetterConsumerHandlesDoubleEncodedPayload(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{msgs: []kafka.Message{{
		Topic: TopicDeadLetter,
		Value: []byte(`"{\"billId\":12,\"userId\":3}"`),
	}}}
	recorder := &fakeRecorder{}

	runDeadLetterConsumer(t, fetcher, recorder)

	if len(recorder.recorded) != 1 || recorder.recorded[0].msg.BillID != 12 {
		t.Fatalf("expected the double-encoded payload to be unwrapped, got %+v", recorder.recorded)
	}
}

func TestDeadLetterConsumerDropsUndecodableMessages(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{msgs: []kafka.Message{{
		Topic: TopicDeadLetter,
		Value: []byte(`not json`),
	}}}
	recorder := &fakeRecorder{}

	runDeadLetterConsumer(t, fetcher, recorder)

	if len(recorder.recorded) != 0 {
		t.Fatalf("expected nothing recorded, got %d", len(recorder.recorded))
	}
	if fetcher.committedCount() != 1 {
		t.Fatalf("expected the poison message to be committed anyway, got %d commits", fetcher.committedCount())
	}
}

func TestDeadLetterConsumerLeavesOffsetOnRecordFailure(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{msgs: []kafka.Message{{
		Topic: TopicDeadLetter,
		Value: []byte(`{"billId":1,"userId":1}`),
	}}}
	recorder := &fakeRecorder{err: context.DeadlineExceeded}

	consumer := NewDeadLetterConsumer(fetcher, recorder, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := consumer.Run(ctx); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	if fetcher.committedCount() != 0 {
		t.Fatalf("expected the offset to stay uncommitted, got %d commits", fetcher.committedCount())
	}
}

// flakyRecorder fails the first attempt for a bill and succeeds afterwards.
type flakyRecorder struct {
	fakeRecorder
	failOnce map[int64]bool
}

func (r *flakyRecorder) RecordDeadLettered(ctx context.Context, msg domain.BillingMessage, attempt int) error {
	r.mu.Lock()
	if r.failOnce[msg.BillID] {
		r.failOnce[msg.BillID] = false
		r.mu.Unlock()
		return context.DeadlineExceeded
	}
	r.mu.Unlock()
	return r.fakeRecorder.RecordDeadLettered(ctx, msg, attempt)
}

func TestDeadLetterConsumerRetriesRecordBeforeAdvancing(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{msgs: []kafka.Message{
		{Topic: TopicDeadLetter, Offset: 0, Value: []byte(`{"billId":1,"userId":1}`)},
		{Topic: TopicDeadLetter, Offset: 1, Value: []byte(`{"billId":2,"userId":2}`)},
	}}
	recorder := &flakyRecorder{failOnce: map[int64]bool{1: true}}

	consumer := NewDeadLetterConsumer(fetcher, recorder, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := consumer.Run(ctx); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	// Committing offset 1 with bill 1 unrecorded would lose bill 1 for
	// good: kafka commits are cumulative per partition.
	recorder.mu.Lock()
	recorded := append([]struct {
		msg     domain.BillingMessage
		attempt int
	}(nil), recorder.recorded...)
	recorder.mu.Unlock()

	if len(recorded) != 2 {
		t.Fatalf("expected both messages recorded, got %d", len(recorded))
	}
	if recorded[0].msg.BillID != 1 || recorded[1].msg.BillID != 2 {
		t.Fatalf("expected bill 1 recorded before bill 2, got %d then %d",
			recorded[0].msg.BillID, recorded[1].msg.BillID)
	}

	fetcher.mu.Lock()
	committed := append([]kafka.Message(nil), fetcher.committed...)
	fetcher.mu.Unlock()

	if len(committed) != 2 {
		t.Fatalf("expected two commits, got %d", len(committed))
	}
	if committed[0].Offset != 0 || committed[1].Offset != 1 {
		t.Fatalf("expected offsets committed in order 0,1, got %d,%d",
			committed[0].Offset, committed[1].Offset)
	}
}
