// Package subscription delivers replicated row changes to customer webhook
// URLs. The dispatcher consumes row change events from Kafka, records one
// delivery per matching active subscription, then attempts each delivery over
// HTTP with a bounded timeout.
package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sundew/internal/repositories/subscription"
	"github.com/Ramsey-B/sundew/pkg/httpclient"
	"github.com/Ramsey-B/sundew/pkg/kafka"
	"github.com/Ramsey-B/sundew/pkg/metrics"
	"github.com/Ramsey-B/sundew/pkg/models"
	"github.com/Ramsey-B/sundew/pkg/tracing"
)

const (
	// SecretHeader carries the subscription's shared secret on outbound
	// deliveries so receivers can authenticate us
	SecretHeader = "Whdb-Webhook-Secret"

	// DefaultDeliveryTimeout bounds one delivery attempt
	DefaultDeliveryTimeout = 10 * time.Second
)

// Dispatcher consumes row change events and fans them out to subscriptions
type Dispatcher struct {
	repo     *subscription.Repository
	consumer *kafka.Consumer
	client   *httpclient.Client
	timeout  time.Duration
	workers  int
	logger   ectologger.Logger

	cancel   context.CancelFunc
	stoppedC chan struct{}
	running  bool
	mu       sync.Mutex
}

// NewDispatcher creates a dispatcher. workers bounds concurrent outbound
// deliveries per consumed event.
func NewDispatcher(
	repo *subscription.Repository,
	consumer *kafka.Consumer,
	client *httpclient.Client,
	timeout time.Duration,
	workers int,
	logger ectologger.Logger,
) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}
	if workers <= 0 {
		workers = 4
	}
	return &Dispatcher{
		repo:     repo,
		consumer: consumer,
		client:   client,
		timeout:  timeout,
		workers:  workers,
		logger:   logger,
		stoppedC: make(chan struct{}),
	}
}

// Start begins consuming row change events
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = true
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.mu.Unlock()

	d.logger.WithContext(ctx).Infof("Starting subscription dispatcher: workers=%d timeout=%s", d.workers, d.timeout)

	go func() {
		defer close(d.stoppedC)
		if err := d.consumer.Run(runCtx, d.HandleRowChange); err != nil {
			d.logger.WithContext(runCtx).WithError(err).Error("Subscription dispatcher consumer exited")
		}
	}()
	return nil
}

// Stop stops the dispatcher gracefully
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	cancel := d.cancel
	d.mu.Unlock()

	cancel()
	select {
	case <-d.stoppedC:
		d.logger.WithContext(ctx).Info("Subscription dispatcher stopped gracefully")
	case <-ctx.Done():
		d.logger.WithContext(ctx).Warn("Subscription dispatcher shutdown timed out")
		return ctx.Err()
	}
	return nil
}

// HandleRowChange records and attempts one delivery per matching active
// subscription. Delivery failures do not fail the event: the delivery row
// holds the failed attempt for later inspection and retry.
func (d *Dispatcher) HandleRowChange(ctx context.Context, event models.RowChangeEvent) error {
	ctx, span := tracing.StartSpan(ctx, "subscription.Dispatcher.HandleRowChange")
	defer span.End()

	subs, err := d.repo.ListActiveForIntegration(ctx, event.OrganizationID, event.ServiceIntegrationID)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}

	payload := models.SubscriptionPayload{
		ServiceName: event.ServiceName,
		TableName:   event.TableName,
		Row:         event.Row,
		External:    true,
	}

	sem := make(chan struct{}, d.workers)
	var wg sync.WaitGroup
	for i := range subs {
		sub := subs[i]
		delivery, err := d.repo.CreateDelivery(ctx, sub.ID, payload)
		if err != nil {
			return err
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			d.AttemptDelivery(ctx, &sub, delivery)
		}()
	}
	wg.Wait()
	return nil
}

// AttemptDelivery makes one POST to the subscription's URL and records the
// outcome. A request that never reached the server records status 0.
func (d *Dispatcher) AttemptDelivery(ctx context.Context, sub *models.WebhookSubscription, delivery *models.WebhookSubscriptionDelivery) {
	ctx, span := tracing.StartSpan(ctx, "subscription.Dispatcher.AttemptDelivery")
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	attemptedAt := start.UTC()

	resp, err := d.client.PostJSON(attemptCtx, sub.DeliverToURL, delivery.Payload, map[string]string{
		SecretHeader: sub.WebhookSecret,
	})

	status := models.DeliveryStatusNetworkError
	outcome := "network_error"
	if err == nil {
		status = resp.StatusCode
		if resp.IsSuccess() {
			outcome = "success"
		} else {
			outcome = "failed"
		}
	} else {
		d.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"subscription_id": sub.ID}).Warn("Delivery attempt never reached the receiver")
	}

	metrics.RecordDeliveryAttempt(outcome, time.Since(start).Seconds())

	if err := d.repo.RecordAttempt(ctx, delivery.ID, attemptedAt, status); err != nil {
		d.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"delivery_id": delivery.ID}).Error("Failed to record delivery attempt")
	}
}

// RetryDelivery re-attempts a stored delivery, typically driven by an operator
// endpoint for deliveries whose latest attempt failed.
func (d *Dispatcher) RetryDelivery(ctx context.Context, organizationID, subscriptionID, deliveryID string) error {
	ctx, span := tracing.StartSpan(ctx, "subscription.Dispatcher.RetryDelivery")
	defer span.End()

	sub, err := d.repo.Get(ctx, organizationID, subscriptionID)
	if err != nil {
		return err
	}
	delivery, err := d.repo.GetDelivery(ctx, deliveryID)
	if err != nil {
		return err
	}

	d.AttemptDelivery(ctx, sub, delivery)
	return nil
}
