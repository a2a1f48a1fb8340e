package access

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var evalNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// randomPolicy builds an arbitrary policy, including degenerate values.
func randomPolicy(r *rand.Rand) *Policy {
	p := &Policy{
		IsPublic:           r.Intn(2) == 0,
		CurrentAccessCount: int64(r.Intn(6)),
	}
	if r.Intn(2) == 0 {
		p.ExpiresAt = ptr(evalNow.Add(time.Duration(r.Intn(7200)-3600) * time.Second))
	}
	if r.Intn(2) == 0 {
		p.AccessPassword = ptr([]string{"", "abc123", "ABC123"}[r.Intn(3)])
	}
	if r.Intn(2) == 0 {
		p.AllowedEmails = []string{"a@x.com", "b@x.com"}[:1+r.Intn(2)]
	}
	if r.Intn(2) == 0 {
		p.MaxAccessCount = ptr(int64(r.Intn(6)))
	}
	return p
}

func randomRequest(r *rand.Rand) Request {
	req := Request{Now: evalNow}
	if r.Intn(2) == 0 {
		req.RequesterEmail = ptr([]string{"a@x.com", "b@x.com", "c@x.com"}[r.Intn(3)])
	}
	if r.Intn(2) == 0 {
		req.SuppliedPassword = ptr([]string{"", "abc123", "wrong"}[r.Intn(3)])
	}
	return req
}

func TestEvaluate_NilPolicyAllows(t *testing.T) {
	d := Evaluate(nil, Request{Now: evalNow})
	assert.Equal(t, Decision{Allowed: true}, d)
}

func TestEvaluate_PrivateAlwaysDenied(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		p := randomPolicy(r)
		p.IsPublic = false
		d := Evaluate(p, randomRequest(r))
		require.False(t, d.Allowed, "policy=%+v", p)
		require.Equal(t, ReasonNotPublic, d.Reason)
		require.Nil(t, d.RemainingAccess)
	}
}

func TestEvaluate_AllowedImpliesEveryConstraintHolds(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 5000; i++ {
		p := randomPolicy(r)
		req := randomRequest(r)
		d := Evaluate(p, req)
		if !d.Allowed {
			require.NotEqual(t, ReasonNone, d.Reason)
			continue
		}
		require.True(t, p.IsPublic)
		if p.ExpiresAt != nil {
			require.False(t, req.Now.After(*p.ExpiresAt))
		}
		if len(p.AllowedEmails) > 0 {
			require.NotNil(t, req.RequesterEmail)
			require.Contains(t, p.AllowedEmails, *req.RequesterEmail)
		}
		if p.AccessPassword != nil {
			require.NotNil(t, req.SuppliedPassword)
			require.Equal(t, *p.AccessPassword, *req.SuppliedPassword)
		}
		if p.MaxAccessCount != nil {
			require.Less(t, p.CurrentAccessCount, *p.MaxAccessCount)
			require.NotNil(t, d.RemainingAccess)
			require.Equal(t, *p.MaxAccessCount-p.CurrentAccessCount, *d.RemainingAccess)
		} else {
			require.Nil(t, d.RemainingAccess)
		}
	}
}

func TestEvaluate_IsPure(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 500; i++ {
		p := randomPolicy(r)
		before := p.Clone()
		req := randomRequest(r)
		first := Evaluate(p, req)
		second := Evaluate(p, req)
		require.Equal(t, first, second)
		require.Equal(t, before, p)
	}
}

func TestEvaluate_ExpiryBoundary(t *testing.T) {
	expires := evalNow
	p := &Policy{IsPublic: true, ExpiresAt: &expires}

	d := Evaluate(p, Request{Now: expires.Add(-time.Second)})
	assert.True(t, d.Allowed)

	d = Evaluate(p, Request{Now: expires})
	assert.True(t, d.Allowed, "expiry is strict: now == expires_at is still valid")

	d = Evaluate(p, Request{Now: expires.Add(time.Second)})
	assert.Equal(t, deny(ReasonExpired), d)
}

func TestEvaluate_ReasonOrder(t *testing.T) {
	past := evalNow.Add(-time.Minute)
	everythingWrong := &Policy{
		IsPublic:           true,
		ExpiresAt:          &past,
		AccessPassword:     ptr("abc123"),
		AllowedEmails:      []string{"a@x.com"},
		MaxAccessCount:     ptr(int64(1)),
		CurrentAccessCount: 1,
	}
	req := Request{Now: evalNow, RequesterEmail: ptr("b@x.com"), SuppliedPassword: ptr("wrong")}

	steps := []struct {
		fix    func(p *Policy, req *Request)
		reason Reason
	}{
		{func(p *Policy, req *Request) {}, ReasonExpired},
		{func(p *Policy, req *Request) { p.ExpiresAt = nil }, ReasonEmailNotAuthorized},
		{func(p *Policy, req *Request) { req.RequesterEmail = ptr("a@x.com") }, ReasonInvalidPassword},
		{func(p *Policy, req *Request) { req.SuppliedPassword = ptr("abc123") }, ReasonQuotaExceeded},
	}
	p := everythingWrong.Clone()
	for _, step := range steps {
		step.fix(p, &req)
		assert.Equal(t, deny(step.reason), Evaluate(p, req))
	}
	p.CurrentAccessCount = 0
	d := Evaluate(p, req)
	require.True(t, d.Allowed)
	require.Equal(t, int64(1), *d.RemainingAccess)
}

func TestEvaluate_EmailAllowList(t *testing.T) {
	p := &Policy{IsPublic: true, AllowedEmails: []string{"a@x.com"}}

	assert.Equal(t, deny(ReasonEmailNotAuthorized), Evaluate(p, Request{Now: evalNow}))
	assert.Equal(t, deny(ReasonEmailNotAuthorized), Evaluate(p, Request{Now: evalNow, RequesterEmail: ptr("b@x.com")}))
	assert.Equal(t, deny(ReasonEmailNotAuthorized), Evaluate(p, Request{Now: evalNow, RequesterEmail: ptr("A@x.com")}))
	assert.True(t, Evaluate(p, Request{Now: evalNow, RequesterEmail: ptr("a@x.com")}).Allowed)
}

func TestEvaluate_PasswordIsExactMatch(t *testing.T) {
	p := &Policy{IsPublic: true, AccessPassword: ptr("abc123")}

	for _, pw := range []*string{nil, ptr(""), ptr("ABC123"), ptr(" abc123")} {
		assert.Equal(t, deny(ReasonInvalidPassword), Evaluate(p, Request{Now: evalNow, SuppliedPassword: pw}))
	}
	assert.True(t, Evaluate(p, Request{Now: evalNow, SuppliedPassword: ptr("abc123")}).Allowed)

	// An empty password is still a password, distinct from none.
	empty := &Policy{IsPublic: true, AccessPassword: ptr("")}
	assert.Equal(t, deny(ReasonInvalidPassword), Evaluate(empty, Request{Now: evalNow}))
	assert.True(t, Evaluate(empty, Request{Now: evalNow, SuppliedPassword: ptr("")}).Allowed)
}

func TestEvaluate_ZeroQuotaDeniesImmediately(t *testing.T) {
	p := &Policy{IsPublic: true, MaxAccessCount: ptr(int64(0))}
	assert.Equal(t, deny(ReasonQuotaExceeded), Evaluate(p, Request{Now: evalNow}))
}

func TestEvaluate_MalformedPolicyDenied(t *testing.T) {
	assert.Equal(t, deny(ReasonInvalidPolicy), Evaluate(&Policy{IsPublic: true, CurrentAccessCount: -1}, Request{Now: evalNow}))
	assert.Equal(t, deny(ReasonInvalidPolicy), Evaluate(&Policy{IsPublic: true, MaxAccessCount: ptr(int64(-3))}, Request{Now: evalNow}))
	assert.Equal(t, deny(ReasonNotPublic), Evaluate(&Policy{IsPublic: false, CurrentAccessCount: -1}, Request{Now: evalNow}))
}
