package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ureca/billing-notifier/internal/channel"
	"github.com/ureca/billing-notifier/internal/dedup"
	"github.com/ureca/billing-notifier/internal/domain"
	"github.com/ureca/billing-notifier/internal/observability"
	"github.com/ureca/billing-notifier/internal/policy"
	"github.com/ureca/billing-notifier/internal/ratelimit"
)

const (
	defaultWorkerCount = 50
	defaultMaxRetries  = 3
	defaultSendTimeout = 10 * time.Second
)

// Record is one broker message plus its redelivery metadata.
type Record struct {
	Value     []byte
	Attempt   int
	Partition int
	Offset    int64
}

// Classifier is the dedup cache surface the processor depends on.
type Classifier interface {
	Classify(ctx context.Context, billID int64, channel domain.Channel) dedup.Classification
	MarkSent(ctx context.Context, billID int64, channel domain.Channel) error
	MarkRetry(ctx context.Context, billID int64, notificationID int64) error
}

// PolicyResolver decides whether a message may be sent now.
type PolicyResolver interface {
	Resolve(userID int64, channel domain.Channel, at time.Time) policy.Decision
}

// Deferrer parks blocked messages until their release time.
type Deferrer interface {
	Enqueue(ctx context.Context, payload []byte, releaseAt time.Time) error
}

// Store persists batch outcomes.
type Store interface {
	UpsertBatch(ctx context.Context, notifications []*domain.Notification) error
	MarkRetry(ctx context.Context, id int64) error
}

// RetryPublisher republishes messages onto the retry and dead-letter topics.
type RetryPublisher interface {
	PublishRetry(ctx context.Context, billID int64, payload []byte, attempt int) error
	PublishDeadLetter(ctx context.Context, billID int64, payload []byte, attempt int) error
}

type Options struct {
	WorkerCount int
	MaxRetries  int
	SendTimeout time.Duration
}

// Processor runs the dispatch pipeline for consumed batches: decode,
// dedup, policy, send, then one bulk upsert for the whole batch. Offsets
// are acked only after the upsert succeeds.
type Processor struct {
	registry  *channel.Registry
	cache     Classifier
	resolver  PolicyResolver
	waiting   Deferrer
	store     Store
	publisher RetryPublisher
	metrics   *observability.Metrics
	logger    *zap.Logger

	limiter ratelimit.RateLimiter

	workers     int
	maxRetries  int
	sendTimeout time.Duration
	now         func() time.Time
}

func New(
	registry *channel.Registry,
	cache Classifier,
	resolver PolicyResolver,
	waiting Deferrer,
	store Store,
	publisher RetryPublisher,
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts Options,
) (*Processor, error) {
	if registry == nil {
		return nil, fmt.Errorf("channel registry is required")
	}
	if cache == nil {
		return nil, fmt.Errorf("dedup classifier is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("policy resolver is required")
	}
	if waiting == nil {
		return nil, fmt.Errorf("waiting queue is required")
	}
	if store == nil {
		return nil, fmt.Errorf("notification store is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("retry publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	workers := opts.WorkerCount
	if workers < 1 {
		workers = defaultWorkerCount
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 1 {
		maxRetries = defaultMaxRetries
	}
	sendTimeout := opts.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}

	return &Processor{
		registry:    registry,
		cache:       cache,
		resolver:    resolver,
		waiting:     waiting,
		store:       store,
		publisher:   publisher,
		metrics:     metrics,
		logger:      logger,
		workers:     workers,
		maxRetries:  maxRetries,
		sendTimeout: sendTimeout,
		now:         time.Now,
	}, nil
}

// outcome is the per-record result collected by the worker pool. A zero
// outcome means the record was dropped (poison payload or duplicate).
type outcome struct {
	notification *domain.Notification
	followup     func(ctx context.Context) error
	deferred     bool
	channel      domain.Channel
}

// Process dispatches one batch. Every record is handled concurrently up to
// the worker limit, outcomes are persisted with a single bulk upsert, and
// only then are the offsets acked. A failed upsert leaves the offsets
// uncommitted so the broker redelivers the batch.
func (p *Processor) Process(ctx context.Context, records []Record, ack func(context.Context) error) error {
	if len(records) == 0 {
		return nil
	}
	started := p.now()

	outcomes := make([]outcome, len(records))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.workers)
	for i := range records {
		i := i
		group.Go(func() error {
			outcomes[i] = p.processOne(groupCtx, records[i])
			return nil
		})
	}
	// workers never return errors; failures become FAILED records
	_ = group.Wait()

	notifications := make([]*domain.Notification, 0, len(outcomes))
	for i := range outcomes {
		if outcomes[i].notification != nil {
			notifications = append(notifications, outcomes[i].notification)
		}
	}
	notifications = collapseByIdentity(notifications)

	if err := p.store.UpsertBatch(ctx, notifications); err != nil {
		return fmt.Errorf("failed to persist batch of %d: %w", len(notifications), err)
	}

	for i := range outcomes {
		if outcomes[i].followup == nil {
			continue
		}
		if err := outcomes[i].followup(ctx); err != nil {
			// the row is already durable, the scanner picks up the rest
			p.logger.Warn("post-persist step failed", zap.Error(err))
		}
	}

	p.metrics.ObserveBatch(len(records), time.Since(started))

	if ack == nil {
		return nil
	}
	if err := ack(ctx); err != nil {
		return fmt.Errorf("failed to ack batch: %w", err)
	}
	return nil
}

// Reprocess runs a single deferred payload through the pipeline again.
// It reports whether the message was deferred once more, in which case the
// caller must not remove it from the waiting queue.
func (p *Processor) Reprocess(ctx context.Context, payload []byte) (bool, error) {
	out := p.processOne(ctx, Record{Value: payload})

	if out.notification != nil {
		if err := p.store.UpsertBatch(ctx, []*domain.Notification{out.notification}); err != nil {
			return false, fmt.Errorf("failed to persist reprocessed message: %w", err)
		}
	}
	if out.followup != nil {
		if err := out.followup(ctx); err != nil {
			p.logger.Warn("post-persist step failed", zap.Error(err))
		}
	}

	return out.deferred, nil
}

func (p *Processor) processOne(ctx context.Context, rec Record) outcome {
	msg, err := domain.DecodeBillingMessage(rec.Value)
	if err != nil {
		p.metrics.IncParseFailure()
		p.logger.Error("dropping unparseable message",
			zap.Error(err),
			zap.Int("partition", rec.Partition),
			zap.Int64("offset", rec.Offset),
		)
		return outcome{}
	}

	traceID := uuid.NewString()
	logger := p.logger.With(
		zap.String("traceId", traceID),
		zap.Int64("billId", msg.BillID),
		zap.Int64("userId", msg.UserID),
		zap.Int("attempt", rec.Attempt),
	)

	ch, err := msg.ResolveChannel()
	if err != nil {
		p.metrics.IncParseFailure()
		logger.Error("dropping message with unknown channel",
			zap.String("notificationType", msg.NotificationType),
			zap.Error(err),
		)
		return outcome{}
	}
	logger = logger.With(zap.String("channel", ch.String()))

	classification := p.cache.Classify(ctx, msg.BillID, ch)
	if classification.Duplicate {
		p.metrics.IncDuplicateSkipped(ch.String())
		logger.Info("skipping already delivered message")
		return outcome{}
	}
	if classification.Retry {
		logger = logger.With(zap.Int64("notificationId", classification.ExistingID))
		logger.Info("redelivery correlated with existing record")
	}

	now := p.now()
	decision := p.resolver.Resolve(msg.UserID, ch, now)
	if decision.Blocked {
		return p.park(ctx, logger, msg, ch, rec, decision, now)
	}

	notification := p.newNotification(msg, ch, rec.Attempt, now, rec.Value)

	handler, err := p.registry.Get(ch)
	if err != nil {
		// registration gaps are config errors, do not burn retries on them
		logger.Error("no handler for channel", zap.Error(err))
		return p.fail(notification, ch, p.maxRetries, err, "not_registered")
	}

	p.metrics.IncWorkerInFlight(ch.String())
	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	sendStarted := p.now()
	sendErr := p.send(sendCtx, handler, msg, ch, traceID)
	cancel()
	p.metrics.DecWorkerInFlight(ch.String())
	p.metrics.ObserveNotificationSendDuration(ch.String(), time.Since(sendStarted))

	if sendErr == nil {
		sentAt := p.now()
		notification.Status = domain.StatusSent
		notification.SentAt = &sentAt
		p.metrics.IncNotificationSent(ch.String())
		logger.Info("notification sent")

		return outcome{
			notification: notification,
			channel:      ch,
			followup: func(fctx context.Context) error {
				return p.cache.MarkSent(fctx, msg.BillID, ch)
			},
		}
	}

	if !channel.IsTransient(sendErr) {
		logger.Error("permanent delivery failure", zap.Error(sendErr))
		return p.fail(notification, ch, p.maxRetries, sendErr, "permanent")
	}

	if rec.Attempt >= p.maxRetries {
		logger.Error("retries exhausted, dead-lettering", zap.Error(sendErr))
		out := p.fail(notification, ch, rec.Attempt, sendErr, "retries_exhausted")
		out.followup = func(fctx context.Context) error {
			if err := p.publisher.PublishDeadLetter(fctx, msg.BillID, rec.Value, rec.Attempt); err != nil {
				return fmt.Errorf("failed to dead-letter bill %d: %w", msg.BillID, err)
			}
			p.metrics.IncDeadLettered(ch.String())
			return nil
		}
		return out
	}

	logger.Warn("transient delivery failure, scheduling retry", zap.Error(sendErr))
	out := p.fail(notification, ch, rec.Attempt, sendErr, "transient")
	out.followup = func(fctx context.Context) error {
		if err := p.cache.MarkRetry(fctx, msg.BillID, notification.ID); err != nil {
			p.logger.Warn("failed to set retry hint", zap.Error(err), zap.Int64("billId", msg.BillID))
		}
		if err := p.publisher.PublishRetry(fctx, msg.BillID, rec.Value, rec.Attempt+1); err != nil {
			// row stays FAILED, the retry scanner recovers it
			return fmt.Errorf("failed to republish bill %d: %w", msg.BillID, err)
		}
		p.metrics.IncRetryScheduled(ch.String())
		if notification.ID > 0 {
			if err := p.store.MarkRetry(fctx, notification.ID); err != nil {
				return fmt.Errorf("failed to mark retry for notification %d: %w", notification.ID, err)
			}
		}
		return nil
	}
	return out
}

// WithRateLimiter throttles gateway sends per channel. Waiting counts
// against the send timeout.
func (p *Processor) WithRateLimiter(limiter ratelimit.RateLimiter) *Processor {
	p.limiter = limiter
	return p
}

func (p *Processor) send(ctx context.Context, handler channel.Handler, msg domain.BillingMessage, ch domain.Channel, traceID string) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, ch.String()); err != nil {
			return &channel.DeliveryError{
				Channel:   ch,
				Message:   "rate limit wait aborted",
				Transient: true,
				Cause:     err,
			}
		}
	}
	return handler.Handle(ctx, msg, traceID)
}

func (p *Processor) park(ctx context.Context, logger *zap.Logger, msg domain.BillingMessage, ch domain.Channel, rec Record, decision policy.Decision, now time.Time) outcome {
	releaseAt := decision.Window.NextRelease(now)

	if err := p.waiting.Enqueue(ctx, rec.Value, releaseAt); err != nil {
		// cannot park it, fall back to the retry path
		logger.Error("failed to defer message", zap.Error(err))
		notification := p.newNotification(msg, ch, rec.Attempt, now, rec.Value)
		out := p.fail(notification, ch, rec.Attempt, err, "defer_failed")
		if rec.Attempt < p.maxRetries {
			out.followup = func(fctx context.Context) error {
				return p.publisher.PublishRetry(fctx, msg.BillID, rec.Value, rec.Attempt+1)
			}
		}
		return out
	}

	notification := p.newNotification(msg, ch, rec.Attempt, now, rec.Value)
	notification.Status = domain.StatusWaiting
	notification.ScheduledAt = releaseAt

	p.metrics.IncDeferred(ch.String(), string(decision.Reason))
	logger.Info("message deferred",
		zap.String("reason", string(decision.Reason)),
		zap.String("source", string(decision.Source)),
		zap.Time("releaseAt", releaseAt),
	)

	return outcome{notification: notification, deferred: true, channel: ch}
}

func (p *Processor) newNotification(msg domain.BillingMessage, ch domain.Channel, attempt int, now time.Time, payload []byte) *domain.Notification {
	return &domain.Notification{
		UserID:      msg.UserID,
		BillID:      msg.BillID,
		Channel:     ch,
		Status:      domain.StatusPending,
		Recipient:   msg.Recipient(ch),
		Content:     msg.Content(ch),
		RetryCount:  attempt,
		Payload:     payload,
		ScheduledAt: now,
	}
}

// collapseByIdentity keeps the last row per (billId, channel). Duplicate
// deliveries in one batch would otherwise put two rows for the same
// identity into a single ON CONFLICT DO UPDATE statement, which postgres
// rejects: the batch would never persist, never ack, and redeliver forever.
func collapseByIdentity(rows []*domain.Notification) []*domain.Notification {
	type identity struct {
		billID  int64
		channel domain.Channel
	}

	index := make(map[identity]int, len(rows))
	collapsed := make([]*domain.Notification, 0, len(rows))
	for _, row := range rows {
		key := identity{billID: row.BillID, channel: row.Channel}
		if at, ok := index[key]; ok {
			collapsed[at] = row
			continue
		}
		index[key] = len(collapsed)
		collapsed = append(collapsed, row)
	}
	return collapsed
}

func (p *Processor) fail(n *domain.Notification, ch domain.Channel, retryCount int, cause error, reason string) outcome {
	n.Status = domain.StatusFailed
	n.RetryCount = retryCount
	errMsg := cause.Error()
	n.ErrorMessage = &errMsg

	p.metrics.IncNotificationFailed(ch.String(), reason)
	return outcome{notification: n, channel: ch}
}
