package access

import "time"

// Reason is the machine-readable cause of a denied Decision.
// Callers use it to drive the UI (prompt for a password, show "expired", ...).
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonNotPublic          Reason = "NOT_PUBLIC"
	ReasonInvalidPolicy      Reason = "INVALID_POLICY"
	ReasonExpired            Reason = "EXPIRED"
	ReasonEmailNotAuthorized Reason = "EMAIL_NOT_AUTHORIZED"
	ReasonInvalidPassword    Reason = "INVALID_PASSWORD"
	ReasonQuotaExceeded      Reason = "QUOTA_EXCEEDED"

	// Produced by Service, never by Evaluate.
	ReasonCheckError     Reason = "CHECK_ERROR"
	ReasonReportNotFound Reason = "REPORT_NOT_FOUND"
)

// Policy is the access-control snapshot attached to one report.
// A nil *Policy means the report has no restrictions at all.
type Policy struct {
	IsPublic           bool       `json:"is_public"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	AccessPassword     *string    `json:"access_password,omitempty"`
	AllowedEmails      []string   `json:"allowed_emails,omitempty"`
	MaxAccessCount     *int64     `json:"max_access_count,omitempty"`
	CurrentAccessCount int64      `json:"current_access_count"`
	LastAccessedAt     *time.Time `json:"last_accessed_at,omitempty"`
}

// Clone returns a deep copy so stores never hand out their internal state.
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	out := *p
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		out.ExpiresAt = &t
	}
	if p.AccessPassword != nil {
		s := *p.AccessPassword
		out.AccessPassword = &s
	}
	if p.AllowedEmails != nil {
		out.AllowedEmails = append([]string(nil), p.AllowedEmails...)
	}
	if p.MaxAccessCount != nil {
		n := *p.MaxAccessCount
		out.MaxAccessCount = &n
	}
	if p.LastAccessedAt != nil {
		t := *p.LastAccessedAt
		out.LastAccessedAt = &t
	}
	return &out
}

func (p *Policy) malformed() bool {
	if p.CurrentAccessCount < 0 {
		return true
	}
	return p.MaxAccessCount != nil && *p.MaxAccessCount < 0
}

func (p *Policy) allowsEmail(email *string) bool {
	if len(p.AllowedEmails) == 0 {
		return true
	}
	if email == nil {
		return false
	}
	for _, e := range p.AllowedEmails {
		if e == *email {
			return true
		}
	}
	return false
}

// Request is what the caller knows about the requester.
type Request struct {
	RequesterEmail   *string
	SuppliedPassword *string
	Now              time.Time
}

// Decision is the outcome of an access evaluation. Denials are values, not errors.
type Decision struct {
	Allowed         bool   `json:"allowed"`
	Reason          Reason `json:"reason,omitempty"`
	RemainingAccess *int64 `json:"remaining_access,omitempty"`
}

func deny(r Reason) Decision {
	return Decision{Allowed: false, Reason: r}
}

// Evaluate applies p to req. It has no side effects.
//
// Checks run in a fixed order and the first failing one supplies the reason:
// not public, malformed, expired, email allow-list, password, quota.
func Evaluate(p *Policy, req Request) Decision {
	if p == nil {
		return Decision{Allowed: true}
	}
	if !p.IsPublic {
		return deny(ReasonNotPublic)
	}
	if p.malformed() {
		return deny(ReasonInvalidPolicy)
	}
	if p.ExpiresAt != nil && req.Now.After(*p.ExpiresAt) {
		return deny(ReasonExpired)
	}
	if !p.allowsEmail(req.RequesterEmail) {
		return deny(ReasonEmailNotAuthorized)
	}
	if p.AccessPassword != nil {
		if req.SuppliedPassword == nil || *req.SuppliedPassword != *p.AccessPassword {
			return deny(ReasonInvalidPassword)
		}
	}
	if p.MaxAccessCount != nil {
		if p.CurrentAccessCount >= *p.MaxAccessCount {
			return deny(ReasonQuotaExceeded)
		}
		remaining := *p.MaxAccessCount - p.CurrentAccessCount
		return Decision{Allowed: true, RemainingAccess: &remaining}
	}
	return Decision{Allowed: true}
}
