package access

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound         = errors.New("report not found")
	ErrStoreUnavailable = errors.New("access store unavailable")
	ErrNoPolicy         = errors.New("report has no access policy")
	ErrQuotaExceeded    = errors.New("access quota exceeded")
	ErrInvalidReportKey = errors.New("invalid report key")
)

// Store persists one policy snapshot per report key.
// Implementations may be in-memory (local dev) or backed by Redis/Valkey/SQL.
//
// IncrementAccess must be a single atomic read-modify-write: two concurrent
// callers must never observe the same count, and a reached MaxAccessCount is
// never exceeded.
type Store interface {
	CreateReport(ctx context.Context, reportKey string) error
	// DeleteReport removes the report and the policy it owns.
	DeleteReport(ctx context.Context, reportKey string) error
	ReportExists(ctx context.Context, reportKey string) (bool, error)

	// Load returns (nil, nil) for an existing report without a policy and
	// ErrNotFound when the report itself does not exist.
	Load(ctx context.Context, reportKey string) (*Policy, error)
	// Save replaces the policy wholesale and clears LastAccessedAt.
	Save(ctx context.Context, reportKey string, p *Policy) error
	// IncrementAccess returns the new count. It fails with ErrNoPolicy when
	// there is nothing to count and ErrQuotaExceeded when the ceiling is reached.
	IncrementAccess(ctx context.Context, reportKey string, now time.Time) (int64, error)
	Remove(ctx context.Context, reportKey string) error
}

const maxReportKeyLen = 128

func validateReportKey(reportKey string) error {
	if reportKey == "" || len(reportKey) > maxReportKeyLen {
		return ErrInvalidReportKey
	}
	if strings.ContainsAny(reportKey, ": \t\r\n") {
		return ErrInvalidReportKey
	}
	return nil
}

func unavailable(op string, err error) error {
	return &storeError{op: op, err: err}
}

// storeError marks backend faults as ErrStoreUnavailable while keeping the cause.
type storeError struct {
	op  string
	err error
}

func (e *storeError) Error() string {
	return "access store " + e.op + ": " + e.err.Error()
}

func (e *storeError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.err}
}
