package dns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/database"
	"github.com/nikhilbhutani/tenantgate/internal/metrics"
	"github.com/nikhilbhutani/tenantgate/internal/models"
)

const (
	EventDomainVerified = "domain.verified"
	EventDomainFailed   = "domain.failed"
	EventDomainRemoved  = "domain.removed"
)

const (
	MsgNotConfigured     = "DNS management not configured"
	MsgDomainNotFound    = "Domain not found"
	MsgNotCustom         = "DNS management only available for custom domains"
	MsgTokenMissing      = "Domain verification token not found"
	MsgVerificationFail  = "Domain verification failed"
	MsgRoutingInvalid    = "DNS routing configuration invalid"
	MsgSSLNotSupported   = "SSL status checking not available with current DNS provider"
	MsgPropagationWindow = "DNS records did not propagate within the polling window"
	MsgDomainExpired     = "Domain has been removed"
)

// verifyReserve is the part of a deadline kept for the verification that
// follows the propagation wait.
const verifyReserve = 5 * time.Second

// Result is what every workflow step returns. Provider failures end up in
// Errors rather than as a Go error.
type Result struct {
	Success        bool     `json:"success"`
	RecordsCreated []string `json:"records_created,omitempty"`
	Errors         []string `json:"errors,omitempty"`
	Check          *Check   `json:"check,omitempty"`
}

type SSLResult struct {
	Success bool `json:"success"`
	Certificate
	Errors []string `json:"errors,omitempty"`
}

func failure(msgs ...string) Result {
	return Result{Success: false, Errors: msgs}
}

// Publisher receives domain lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, tenantID, event string, payload any) error
}

type Options struct {
	// Attempts bounds the propagation poll in AutomatedDomainSetup.
	Attempts     int
	InitialDelay time.Duration
	Metrics      *metrics.Metrics
	Events       Publisher
	Logger       *slog.Logger
}

type Service struct {
	provider Provider
	db       database.Client
	attempts int
	delay    time.Duration
	metrics  *metrics.Metrics
	events   Publisher
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewService wires the workflow. provider may be nil, in which case every
// operation reports that DNS management is not configured.
func NewService(provider Provider, db database.Client, opts Options) *Service {
	if opts.Attempts <= 0 {
		opts.Attempts = 5
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		provider: provider,
		db:       db,
		attempts: opts.Attempts,
		delay:    opts.InitialDelay,
		metrics:  opts.Metrics,
		events:   opts.Events,
		logger:   opts.Logger,
		tracer:   otel.Tracer("tenantgate/dns"),
	}
}

func (s *Service) IsAvailable() bool {
	return s.provider != nil
}

// Features lists the workflow actions the configured provider supports.
func (s *Service) Features() map[string]bool {
	_, ssl := s.provider.(SSLStatusChecker)
	on := s.provider != nil
	return map[string]bool{
		"setup":      on,
		"remove":     on,
		"verify":     on,
		"automated":  on,
		"ssl_status": on && ssl,
	}
}

func (s *Service) PropagationPolicy() (attempts int, initialDelay time.Duration) {
	return s.attempts, s.delay
}

func (s *Service) start(ctx context.Context, op, domainID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "dns."+op, trace.WithAttributes(attribute.String("domain.id", domainID)))
}

func (s *Service) finish(span trace.Span, op string, res *Result) {
	s.metrics.IncDNSOperation(op, res.Success)
	span.SetAttributes(attribute.Bool("dns.success", res.Success))
	if !res.Success && len(res.Errors) > 0 {
		span.SetStatus(codes.Error, res.Errors[0])
	}
	span.End()
}

func (s *Service) loadDomain(ctx context.Context, id string) (*models.Domain, []string) {
	d, err := s.db.GetDomain(ctx, id)
	if err != nil {
		if apperrors.HasKind(err, apperrors.KindNotFound) {
			return nil, []string{MsgDomainNotFound}
		}
		s.logger.Error("load domain failed", "domain_id", id, "error", err)
		return nil, []string{err.Error()}
	}
	return d, nil
}

// loadActive is loadDomain for the steps that may not touch a removed domain.
// Expired is terminal: the domain has to be added again.
func (s *Service) loadActive(ctx context.Context, id string) (*models.Domain, []string) {
	d, errs := s.loadDomain(ctx, id)
	if errs != nil {
		return nil, errs
	}
	if d.Status == models.DomainExpired {
		return nil, []string{MsgDomainExpired}
	}
	return d, nil
}

// SetupCustomDomain publishes the verification and routing records for a
// custom domain and moves it to pending.
func (s *Service) SetupCustomDomain(ctx context.Context, domainID string) (res Result) {
	ctx, span := s.start(ctx, "setup", domainID)
	defer func() { s.finish(span, "setup", &res) }()

	if s.provider == nil {
		return failure(MsgNotConfigured)
	}
	d, errs := s.loadActive(ctx, domainID)
	if errs != nil {
		return failure(errs...)
	}
	if d.Type != models.DomainCustom {
		return failure(MsgNotCustom)
	}
	if d.VerificationToken == "" {
		return failure(MsgTokenMissing)
	}

	recs, err := s.provider.SetupCustomDomain(ctx, d.Domain, d.VerificationToken)
	if err != nil {
		s.logger.Error("dns setup failed", "domain", d.Domain, "error", err)
		span.RecordError(err)
		return failure(err.Error())
	}

	settings := maps.Clone(d.Settings)
	if settings == nil {
		settings = map[string]any{}
	}
	settings["dns_records"] = map[string]any{
		"verification_record_id": recs.VerificationRecord.ID,
		"routing_record_id":      recs.RoutingRecord.ID,
	}
	if _, err := s.db.UpdateDomain(ctx, domainID, database.Record{
		"status":   models.DomainPending,
		"settings": settings,
	}); err != nil {
		s.logger.Error("store dns records failed", "domain", d.Domain, "error", err)
		return failure(err.Error())
	}

	res = Result{Success: true}
	for _, id := range []string{recs.VerificationRecord.ID, recs.RoutingRecord.ID} {
		if id != "" {
			res.RecordsCreated = append(res.RecordsCreated, id)
		}
	}
	s.logger.Info("dns records created", "domain", d.Domain, "records", res.RecordsCreated)
	return res
}

// VerifyDNSConfiguration asks the provider whether the ownership and routing
// records are in place. Both valid moves the domain to verified, anything
// else to failed.
func (s *Service) VerifyDNSConfiguration(ctx context.Context, domainID string) (res Result) {
	ctx, span := s.start(ctx, "verify", domainID)
	defer func() { s.finish(span, "verify", &res) }()

	if s.provider == nil {
		return failure(MsgNotConfigured)
	}
	d, errs := s.loadActive(ctx, domainID)
	if errs != nil {
		return failure(errs...)
	}
	if d.VerificationToken == "" {
		return failure(MsgTokenMissing)
	}

	check, err := s.provider.VerifyDNSConfiguration(ctx, d.Domain, d.VerificationToken)
	if err != nil {
		s.logger.Error("dns verification failed", "domain", d.Domain, "error", err)
		span.RecordError(err)
		return failure(err.Error())
	}

	update := database.Record{"ssl_enabled": check.SSLEnabled}
	next := models.DomainFailed
	if check.VerificationValid && check.RoutingValid {
		next = models.DomainVerified
		if check.SSLEnabled {
			update["ssl_status"] = models.SSLActive
		}
		if d.Status != models.DomainVerified {
			update["verified_at"] = time.Now().UTC()
		}
	}
	update["status"] = next

	if _, err := s.db.UpdateDomain(ctx, domainID, update); err != nil {
		s.logger.Error("update domain status failed", "domain", d.Domain, "error", err)
		return failure(err.Error())
	}
	if d.Status != next {
		s.metrics.IncDomainTransition(string(next))
		event := EventDomainFailed
		if next == models.DomainVerified {
			event = EventDomainVerified
		}
		s.publish(ctx, d, event, map[string]any{"check": check, "previous_status": d.Status})
	}

	res = Result{Success: next == models.DomainVerified, Check: &check}
	switch {
	case !check.VerificationValid:
		res.Errors = []string{MsgVerificationFail}
	case !check.RoutingValid:
		res.Errors = []string{MsgRoutingInvalid}
	}
	return res
}

// RemoveCustomDomain deletes the provider records, clears the stored record
// ids and expires the domain. Removing an already removed domain succeeds.
func (s *Service) RemoveCustomDomain(ctx context.Context, domainID string) (res Result) {
	ctx, span := s.start(ctx, "remove", domainID)
	defer func() { s.finish(span, "remove", &res) }()

	if s.provider == nil {
		return failure(MsgNotConfigured)
	}
	d, errs := s.loadDomain(ctx, domainID)
	if errs != nil {
		return failure(errs...)
	}

	if err := s.provider.RemoveCustomDomain(ctx, d.Domain); err != nil {
		s.logger.Error("dns removal failed", "domain", d.Domain, "error", err)
		span.RecordError(err)
		return failure(err.Error())
	}

	settings := maps.Clone(d.Settings)
	if settings == nil {
		settings = map[string]any{}
	}
	delete(settings, "dns_records")
	if _, err := s.db.UpdateDomain(ctx, domainID, database.Record{
		"status":   models.DomainExpired,
		"settings": settings,
	}); err != nil {
		s.logger.Error("expire domain failed", "domain", d.Domain, "error", err)
		return failure(err.Error())
	}
	if d.Status != models.DomainExpired {
		s.metrics.IncDomainTransition(string(models.DomainExpired))
		s.publish(ctx, d, EventDomainRemoved, nil)
	}
	return Result{Success: true}
}

func (s *Service) GetSSLStatus(ctx context.Context, domainID string) SSLResult {
	ctx, span := s.start(ctx, "ssl_status", domainID)
	var res SSLResult
	defer func() {
		r := Result{Success: res.Success, Errors: res.Errors}
		s.finish(span, "ssl_status", &r)
	}()

	checker, ok := s.provider.(SSLStatusChecker)
	if !ok || s.provider == nil {
		res.Errors = []string{MsgSSLNotSupported}
		return res
	}
	d, errs := s.loadActive(ctx, domainID)
	if errs != nil {
		res.Errors = errs
		return res
	}

	cert, err := checker.GetSSLStatus(ctx, d.Domain)
	if err != nil {
		s.logger.Error("ssl status check failed", "domain", d.Domain, "error", err)
		span.RecordError(err)
		res.Errors = []string{err.Error()}
		return res
	}
	if _, err := s.db.UpdateDomain(ctx, domainID, database.Record{"ssl_status": cert.Status}); err != nil {
		res.Errors = []string{err.Error()}
		return res
	}
	res.Success = true
	res.Certificate = cert
	return res
}

// AutomatedDomainSetup runs setup, waits for the records to propagate,
// verifies and finally refreshes the SSL status. It stops at the first
// failing step.
//
// The propagation wait polls the provider with a doubling delay, bounded by
// the configured attempts. When ctx carries a deadline the wait stops early
// enough to leave verifyReserve for the verification.
func (s *Service) AutomatedDomainSetup(ctx context.Context, domainID string) Result {
	if s.provider == nil {
		return failure(MsgNotConfigured)
	}

	setup := s.SetupCustomDomain(ctx, domainID)
	if !setup.Success {
		return setup
	}

	if err := s.awaitPropagation(ctx, domainID); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Result{RecordsCreated: setup.RecordsCreated, Errors: []string{fmt.Sprintf("propagation wait aborted: %v", err)}}
		}
		s.logger.Warn("dns propagation not observed", "domain_id", domainID, "error", err)
	}

	verify := s.VerifyDNSConfiguration(ctx, domainID)
	if !verify.Success {
		verify.RecordsCreated = setup.RecordsCreated
		return verify
	}

	if _, ok := s.provider.(SSLStatusChecker); ok {
		if ssl := s.GetSSLStatus(ctx, domainID); !ssl.Success {
			s.logger.Warn("ssl status unavailable after setup", "domain_id", domainID, "errors", ssl.Errors)
		}
	}
	return Result{Success: true, RecordsCreated: setup.RecordsCreated, Check: verify.Check}
}

// Propagated reports whether the provider already sees valid ownership and
// routing records for the domain. It does not change the domain.
func (s *Service) Propagated(ctx context.Context, domainID string) (bool, error) {
	if s.provider == nil {
		return false, apperrors.Configuration(MsgNotConfigured)
	}
	d, err := s.db.GetDomain(ctx, domainID)
	if err != nil {
		return false, err
	}
	if d.Status == models.DomainExpired {
		return false, apperrors.Conflict(MsgDomainExpired)
	}
	return s.propagated(ctx, d)
}

func (s *Service) propagated(ctx context.Context, d *models.Domain) (bool, error) {
	check, err := s.provider.VerifyDNSConfiguration(ctx, d.Domain, d.VerificationToken)
	if err != nil {
		return false, err
	}
	return check.VerificationValid && check.RoutingValid, nil
}

func (s *Service) awaitPropagation(ctx context.Context, domainID string) error {
	d, err := s.db.GetDomain(ctx, domainID)
	if err != nil {
		return err
	}

	delay := s.delay
	var lastErr error
	for attempt := 0; attempt < s.attempts; attempt++ {
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay+verifyReserve {
			s.logger.Debug("propagation wait cut short by deadline", "domain", d.Domain, "attempt", attempt+1)
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		ok, err := s.propagated(ctx, d)
		if ok {
			return nil
		}
		lastErr = err
		s.logger.Debug("dns not propagated yet", "domain", d.Domain, "attempt", attempt+1, "next_delay", delay*2)
		delay *= 2
	}
	if lastErr != nil {
		return fmt.Errorf("%s: %w", MsgPropagationWindow, lastErr)
	}
	return errors.New(MsgPropagationWindow)
}

func (s *Service) publish(ctx context.Context, d *models.Domain, event string, extra map[string]any) {
	if s.events == nil {
		return
	}
	payload := map[string]any{
		"domain_id": d.ID,
		"domain":    d.Domain,
		"tenant_id": d.TenantID,
	}
	maps.Copy(payload, extra)
	if err := s.events.Publish(ctx, d.TenantID, event, payload); err != nil {
		s.logger.Warn("publish domain event failed", "event", event, "domain", d.Domain, "error", err)
	}
}
