package access

import (
	"context"
	"sync"
	"time"
)

type InMemoryStore struct {
	mu sync.RWMutex

	// report -> policy; a present key with a nil value is a report without policy.
	reports map[string]*Policy
}

var _ Store = (*InMemoryStore)(nil)

type InMemoryStats struct {
	Reports        int   `json:"reports"`
	Policies       int   `json:"policies"`
	QuotaPolicies  int   `json:"quota_policies"`
	RecordedAccess int64 `json:"recorded_access"`
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{reports: make(map[string]*Policy)}
}

func (s *InMemoryStore) CreateReport(_ context.Context, reportKey string) error {
	if err := validateReportKey(reportKey); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reports[reportKey]; !ok {
		s.reports[reportKey] = nil
	}
	return nil
}

func (s *InMemoryStore) DeleteReport(_ context.Context, reportKey string) error {
	if err := validateReportKey(reportKey); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reports[reportKey]; !ok {
		return ErrNotFound
	}
	delete(s.reports, reportKey)
	return nil
}

func (s *InMemoryStore) ReportExists(_ context.Context, reportKey string) (bool, error) {
	if err := validateReportKey(reportKey); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.reports[reportKey]
	return ok, nil
}

func (s *InMemoryStore) Load(_ context.Context, reportKey string) (*Policy, error) {
	if err := validateReportKey(reportKey); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.reports[reportKey]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *InMemoryStore) Save(_ context.Context, reportKey string, p *Policy) error {
	if err := validateReportKey(reportKey); err != nil {
		return err
	}
	if p == nil {
		return ErrNoPolicy
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reports[reportKey]; !ok {
		return ErrNotFound
	}
	stored := p.Clone()
	stored.LastAccessedAt = nil
	s.reports[reportKey] = stored
	return nil
}

func (s *InMemoryStore) IncrementAccess(_ context.Context, reportKey string, now time.Time) (int64, error) {
	if err := validateReportKey(reportKey); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.reports[reportKey]
	if !ok {
		return 0, ErrNotFound
	}
	if p == nil {
		return 0, ErrNoPolicy
	}
	if p.MaxAccessCount != nil && p.CurrentAccessCount >= *p.MaxAccessCount {
		return 0, ErrQuotaExceeded
	}
	p.CurrentAccessCount++
	at := now.UTC()
	p.LastAccessedAt = &at
	return p.CurrentAccessCount, nil
}

func (s *InMemoryStore) Remove(_ context.Context, reportKey string) error {
	if err := validateReportKey(reportKey); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reports[reportKey]; !ok {
		return ErrNotFound
	}
	s.reports[reportKey] = nil
	return nil
}

func (s *InMemoryStore) Stats() InMemoryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := InMemoryStats{Reports: len(s.reports)}
	for _, p := range s.reports {
		if p == nil {
			continue
		}
		st.Policies++
		if p.MaxAccessCount != nil {
			st.QuotaPolicies++
		}
		st.RecordedAccess += p.CurrentAccessCount
	}
	return st
}
