package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/dns"
	"github.com/nikhilbhutani/tenantgate/internal/queue"
)

// errNotPropagated makes asynq retry the task with the domain retry delay.
var errNotPropagated = errors.New("dns records not propagated yet")

type domainWorkflow interface {
	Propagated(ctx context.Context, domainID string) (bool, error)
	VerifyDNSConfiguration(ctx context.Context, domainID string) dns.Result
	AutomatedDomainSetup(ctx context.Context, domainID string) dns.Result
}

type locker interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

type DomainWorker struct {
	dns    domainWorkflow
	locks  locker
	logger *slog.Logger

	// retries reports (retried, maxRetry); overridden in tests.
	retries func(ctx context.Context) (int, int, bool)
}

func NewDomainWorker(svc domainWorkflow, locks locker, logger *slog.Logger) *DomainWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &DomainWorker{dns: svc, locks: locks, logger: logger, retries: asynqRetries}
}

func asynqRetries(ctx context.Context) (int, int, bool) {
	n, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return 0, 0, false
	}
	max, _ := asynq.GetMaxRetry(ctx)
	return n, max, true
}

// ProcessVerify checks propagation and retries until the records are visible
// or the retries run out. The last attempt always persists the outcome, so a
// domain never stays pending once its task is exhausted.
func (w *DomainWorker) ProcessVerify(ctx context.Context, t *asynq.Task) error {
	var p queue.DomainVerifyPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	release, err := w.lock(ctx, "domain-verify:"+p.DomainID)
	if err != nil {
		return err
	}
	defer release()

	retried, maxRetry, ok := w.retries(ctx)
	lastAttempt := !ok || retried >= maxRetry

	propagated, err := w.dns.Propagated(ctx, p.DomainID)
	if err != nil {
		switch apperrors.KindOf(err) {
		case apperrors.KindNotFound, apperrors.KindConfiguration, apperrors.KindConflict:
			w.logger.Warn("dropping domain verification", "domain_id", p.DomainID, "error", err)
			return fmt.Errorf("verify domain %s: %w: %w", p.DomainID, err, asynq.SkipRetry)
		}
		if !lastAttempt {
			return fmt.Errorf("check propagation for %s: %w", p.DomainID, err)
		}
	}
	if !propagated && !lastAttempt {
		w.logger.Debug("domain not propagated, retrying", "domain_id", p.DomainID, "retried", retried)
		return errNotPropagated
	}

	res := w.dns.VerifyDNSConfiguration(ctx, p.DomainID)
	w.logger.Info("domain verification finished",
		"domain_id", p.DomainID,
		"tenant_id", p.TenantID,
		"success", res.Success,
		"errors", res.Errors,
	)
	return nil
}

// ProcessSetup runs the whole automated workflow in the background.
func (w *DomainWorker) ProcessSetup(ctx context.Context, t *asynq.Task) error {
	var p queue.DomainSetupPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	release, err := w.lock(ctx, "domain-setup:"+p.DomainID)
	if err != nil {
		return err
	}
	defer release()

	res := w.dns.AutomatedDomainSetup(ctx, p.DomainID)
	if !res.Success {
		w.logger.Warn("automated domain setup failed", "domain_id", p.DomainID, "errors", res.Errors)
		return nil
	}
	w.logger.Info("automated domain setup complete", "domain_id", p.DomainID, "records", res.RecordsCreated)
	return nil
}

func (w *DomainWorker) lock(ctx context.Context, key string) (func(), error) {
	if w.locks == nil {
		return func() {}, nil
	}
	ok, err := w.locks.SetNX(ctx, "lock:"+key, time.Now().Unix(), 10*time.Minute)
	if err != nil {
		// redis trouble should not block verification
		w.logger.Warn("domain lock unavailable", "key", key, "error", err)
		return func() {}, nil
	}
	if !ok {
		return nil, fmt.Errorf("%s already running", key)
	}
	return func() {
		_ = w.locks.Delete(context.WithoutCancel(ctx), "lock:"+key)
	}, nil
}
