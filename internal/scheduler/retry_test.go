package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ureca/billing-notifier/internal/domain"
)

type fakeRetryStore struct {
	candidates []domain.Notification
	marked     []int64
	listErr    error
	markErr    error
}

func (f *fakeRetryStore) ListFailedForRetry(_ context.Context, _, _ int) ([]domain.Notification, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.candidates, nil
}

func (f *fakeRetryStore) MarkRetry(_ context.Context, id int64) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, id)
	return nil
}

type retryPublish struct {
	billID  int64
	payload []byte
	attempt int
}

type fakeRetryPublisher struct {
	published []retryPublish
	err       error
}

func (f *fakeRetryPublisher) PublishRetry(_ context.Context, billID int64, payload []byte, attempt int) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, retryPublish{billID: billID, payload: payload, attempt: attempt})
	return nil
}

func newTestScanner(t *testing.T, store *fakeRetryStore, publisher *fakeRetryPublisher) *RetryScanner {
	t.Helper()

	scanner, err := NewRetryScanner(store, publisher, nil, time.Minute, 3, 100, nil)
	if err != nil {
		t.Fatalf("failed to build scanner: %v", err)
	}
	return scanner
}

func TestRetryScannerRepublishesStoredPayloads(t *testing.T) {
	t.Parallel()

	store := &fakeRetryStore{candidates: []domain.Notification{
		{ID: 11, BillID: 100, Channel: domain.ChannelEmail, Status: domain.StatusFailed, RetryCount: 1, Payload: []byte(`{"billId":100,"userId":1}`)},
		{ID: 12, BillID: 200, Channel: domain.ChannelSMS, Status: domain.StatusFailed, RetryCount: 0, Payload: []byte(`{"billId":200,"userId":2}`)},
	}}
	publisher := &fakeRetryPublisher{}
	scanner := newTestScanner(t, store, publisher)

	scheduled, err := scanner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected scan error: %v", err)
	}
	if scheduled != 2 {
		t.Fatalf("expected 2 scheduled, got %d", scheduled)
	}

	if len(publisher.published) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(publisher.published))
	}
	if publisher.published[0].attempt != 2 {
		t.Fatalf("expected attempt retryCount+1=2, got %d", publisher.published[0].attempt)
	}
	if publisher.published[1].attempt != 1 {
		t.Fatalf("expected attempt retryCount+1=1, got %d", publisher.published[1].attempt)
	}

	if len(store.marked) != 2 || store.marked[0] != 11 || store.marked[1] != 12 {
		t.Fatalf("expected both records marked RETRY, got %v", store.marked)
	}
}

func TestRetryScannerSkipsRecordsWithoutPayload(t *testing.T) {
	t.Parallel()

	store := &fakeRetryStore{candidates: []domain.Notification{
		{ID: 21, BillID: 300, Channel: domain.ChannelEmail, Status: domain.StatusFailed, RetryCount: 1},
	}}
	publisher := &fakeRetryPublisher{}
	scanner := newTestScanner(t, store, publisher)

	scheduled, err := scanner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected scan error: %v", err)
	}
	if scheduled != 0 {
		t.Fatalf("expected nothing scheduled, got %d", scheduled)
	}
	if len(publisher.published) != 0 {
		t.Fatal("expected no publishes without a stored payload")
	}
}

func TestRetryScannerDoesNotMarkWhenPublishFails(t *testing.T) {
	t.Parallel()

	store := &fakeRetryStore{candidates: []domain.Notification{
		{ID: 31, BillID: 400, Channel: domain.ChannelEmail, Status: domain.StatusFailed, RetryCount: 2, Payload: []byte(`{}`)},
	}}
	publisher := &fakeRetryPublisher{err: errors.New("broker down")}
	scanner := newTestScanner(t, store, publisher)

	scheduled, err := scanner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected scan error: %v", err)
	}
	if scheduled != 0 {
		t.Fatalf("expected nothing scheduled, got %d", scheduled)
	}
	if len(store.marked) != 0 {
		t.Fatal("a record must stay FAILED when its republish fails")
	}
}

func TestRetryScannerPropagatesListError(t *testing.T) {
	t.Parallel()

	store := &fakeRetryStore{listErr: errors.New("db down")}
	scanner := newTestScanner(t, store, &fakeRetryPublisher{})

	if _, err := scanner.RunOnce(context.Background()); err == nil {
		t.Fatal("expected list error to propagate")
	}
}
