package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Service orchestrates a Store and Evaluate. The check path never returns an
// error: a store fault degrades to a denial.
type Service struct {
	store   Store
	log     logrus.FieldLogger
	metrics *Metrics
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		log:   logrus.StandardLogger(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Store() Store {
	return s.store
}

func (s *Service) CreateReport(ctx context.Context, reportKey string) error {
	if err := s.store.CreateReport(ctx, reportKey); err != nil {
		return s.storeFailure("create_report", reportKey, err)
	}
	return nil
}

// DeleteReport deletes the report together with its policy.
func (s *Service) DeleteReport(ctx context.Context, reportKey string) error {
	if err := s.store.DeleteReport(ctx, reportKey); err != nil {
		return s.storeFailure("delete_report", reportKey, err)
	}
	s.log.WithField("report_key", reportKey).Info("[ACCESS] report deleted")
	return nil
}

// SetPolicy replaces the report's policy with one built from settings.
func (s *Service) SetPolicy(ctx context.Context, reportKey string, settings Settings) (*Policy, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	p := settings.Policy()
	if err := s.store.Save(ctx, reportKey, p); err != nil {
		return nil, s.storeFailure("save", reportKey, err)
	}
	s.log.WithFields(logrus.Fields{
		"report_key":   reportKey,
		"is_public":    p.IsPublic,
		"has_password": p.AccessPassword != nil,
		"emails":       len(p.AllowedEmails),
	}).Info("[ACCESS] policy set")
	return p, nil
}

// CheckAccess evaluates the current policy for the requester.
func (s *Service) CheckAccess(ctx context.Context, reportKey string, email, password *string) Decision {
	d, _ := s.check(ctx, reportKey, email, password)
	s.metrics.observeDecision(d)
	return d
}

func (s *Service) check(ctx context.Context, reportKey string, email, password *string) (Decision, *Policy) {
	p, err := s.store.Load(ctx, reportKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidReportKey) {
			return deny(ReasonReportNotFound), nil
		}
		s.metrics.observeStoreError("load")
		s.log.WithError(err).WithField("report_key", reportKey).Warn("[ACCESS] check failed, denying")
		return deny(ReasonCheckError), nil
	}
	return Evaluate(p, Request{RequesterEmail: email, SuppliedPassword: password, Now: s.now()}), p
}

// RecordAccess counts one granted access. It must only follow an allowed
// CheckAccess; it does not evaluate the policy again. Without a policy it is
// a no-op and returns 0.
func (s *Service) RecordAccess(ctx context.Context, reportKey string, email *string) (int64, error) {
	n, err := s.store.IncrementAccess(ctx, reportKey, s.now())
	if errors.Is(err, ErrNoPolicy) {
		return 0, nil
	}
	if err != nil {
		return 0, s.storeFailure("increment", reportKey, err)
	}
	s.metrics.observeRecorded()
	entry := s.log.WithFields(logrus.Fields{"report_key": reportKey, "count": n})
	if email != nil {
		entry = entry.WithField("email", *email)
	}
	entry.Debug("[ACCESS] access recorded")
	return n, nil
}

// OpenReport is CheckAccess followed by RecordAccess for link-serving callers.
// Losing the race for the last quota slot turns the grant into QUOTA_EXCEEDED.
func (s *Service) OpenReport(ctx context.Context, reportKey string, email, password *string) Decision {
	d, p := s.check(ctx, reportKey, email, password)
	if d.Allowed && p != nil {
		d = s.recordGranted(ctx, reportKey, email, p)
	}
	s.metrics.observeDecision(d)
	return d
}

func (s *Service) recordGranted(ctx context.Context, reportKey string, email *string, p *Policy) Decision {
	n, err := s.RecordAccess(ctx, reportKey, email)
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return deny(ReasonQuotaExceeded)
	case err != nil:
		return deny(ReasonCheckError)
	}
	d := Decision{Allowed: true}
	if p.MaxAccessCount != nil {
		remaining := *p.MaxAccessCount - n
		if remaining < 0 {
			remaining = 0
		}
		d.RemainingAccess = &remaining
	}
	return d
}

// GetPolicy returns the current policy, or nil when there is none or the
// read failed. Failures are logged, not returned.
func (s *Service) GetPolicy(ctx context.Context, reportKey string) *Policy {
	p, err := s.store.Load(ctx, reportKey)
	if err != nil {
		s.metrics.observeStoreError("load")
		s.log.WithError(err).WithField("report_key", reportKey).Warn("[ACCESS] get policy failed")
		return nil
	}
	return p
}

func (s *Service) RemovePolicy(ctx context.Context, reportKey string) error {
	if err := s.store.Remove(ctx, reportKey); err != nil {
		return s.storeFailure("remove", reportKey, err)
	}
	s.log.WithField("report_key", reportKey).Info("[ACCESS] policy removed")
	return nil
}

type CleanupStatus string

const (
	CleanupRemoved CleanupStatus = "removed"
	CleanupSkipped CleanupStatus = "skipped"
	CleanupFailed  CleanupStatus = "failed"
)

// Cleanup is the outcome of a best-effort removal. Callers decide whether a
// failure matters to them.
type Cleanup struct {
	Status CleanupStatus `json:"status"`
	Err    error         `json:"-"`
}

func (c Cleanup) OK() bool {
	return c.Status != CleanupFailed
}

// TryRemovePolicy removes the policy without failing the caller. A missing
// report counts as skipped: its policy is already gone.
func (s *Service) TryRemovePolicy(ctx context.Context, reportKey string) Cleanup {
	err := s.store.Remove(ctx, reportKey)
	switch {
	case err == nil:
		return Cleanup{Status: CleanupRemoved}
	case errors.Is(err, ErrNotFound):
		return Cleanup{Status: CleanupSkipped}
	}
	s.metrics.observeStoreError("remove")
	s.log.WithError(err).WithField("report_key", reportKey).Warn("[ACCESS] best-effort policy removal failed")
	return Cleanup{Status: CleanupFailed, Err: err}
}

func (s *Service) storeFailure(op, reportKey string, err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		s.metrics.observeStoreError(op)
		s.log.WithError(err).WithFields(logrus.Fields{"report_key": reportKey, "op": op}).Error("[STORE] operation failed")
	}
	return err
}
