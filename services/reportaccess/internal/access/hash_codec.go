package access

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Hash layout shared by RedisStore and ValkeyStore.
//
//	{prefix}r:{key}         report marker
//	{prefix}r:{key}:policy  policy hash (absent = no policy)
const (
	fieldIsPublic       = "is_public"
	fieldExpiresAt      = "expires_at"
	fieldAccessPassword = "access_password"
	fieldAllowedEmails  = "allowed_emails"
	fieldMaxAccess      = "max_access_count"
	fieldCurrentAccess  = "current_access_count"
	fieldLastAccessedAt = "last_accessed_at"
)

// Script return codes below zero are failures; see scriptErr.
const (
	scriptReportMissing = -1
	scriptNoPolicy      = -2
	scriptQuotaExceeded = -3
)

const (
	luaSave = `if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
redis.call('DEL', KEYS[2])
redis.call('HSET', KEYS[2], unpack(ARGV))
return 1`

	luaLoad = `if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
return redis.call('HGETALL', KEYS[2])`

	luaIncrement = `if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('EXISTS', KEYS[2]) == 0 then return -2 end
local max = redis.call('HGET', KEYS[2], 'max_access_count')
local cur = tonumber(redis.call('HGET', KEYS[2], 'current_access_count') or '0')
if max and cur >= tonumber(max) then return -3 end
local n = redis.call('HINCRBY', KEYS[2], 'current_access_count', 1)
redis.call('HSET', KEYS[2], 'last_accessed_at', ARGV[1])
return n`

	luaRemove = `if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
redis.call('DEL', KEYS[2])
return 1`

	luaDeleteReport = `if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
redis.call('DEL', KEYS[1], KEYS[2])
return 1`
)

func scriptErr(code int64) error {
	switch code {
	case scriptReportMissing:
		return ErrNotFound
	case scriptNoPolicy:
		return ErrNoPolicy
	case scriptQuotaExceeded:
		return ErrQuotaExceeded
	}
	return nil
}

func reportHashKeys(prefix, reportKey string) []string {
	report := prefix + "r:" + reportKey
	return []string{report, report + ":policy"}
}

// policyToHash flattens p into HSET field/value pairs. Absent optionals are
// left out so that "no restriction" never collides with a zero value.
func policyToHash(p *Policy) ([]string, error) {
	out := []string{
		fieldIsPublic, boolField(p.IsPublic),
		fieldCurrentAccess, strconv.FormatInt(p.CurrentAccessCount, 10),
	}
	if p.ExpiresAt != nil {
		out = append(out, fieldExpiresAt, strconv.FormatInt(p.ExpiresAt.UnixNano(), 10))
	}
	if p.AccessPassword != nil {
		out = append(out, fieldAccessPassword, *p.AccessPassword)
	}
	if len(p.AllowedEmails) > 0 {
		b, err := json.Marshal(p.AllowedEmails)
		if err != nil {
			return nil, err
		}
		out = append(out, fieldAllowedEmails, string(b))
	}
	if p.MaxAccessCount != nil {
		out = append(out, fieldMaxAccess, strconv.FormatInt(*p.MaxAccessCount, 10))
	}
	return out, nil
}

func policyFromPairs(pairs []string) (*Policy, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("odd policy hash length %d", len(pairs))
	}
	m := make(map[string]string, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		m[pairs[i]] = pairs[i+1]
	}
	return policyFromHash(m)
}

func policyFromHash(m map[string]string) (*Policy, error) {
	if len(m) == 0 {
		return nil, nil
	}
	p := &Policy{IsPublic: m[fieldIsPublic] == "1"}

	var err error
	if v, ok := m[fieldCurrentAccess]; ok {
		if p.CurrentAccessCount, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("%s: %w", fieldCurrentAccess, err)
		}
	}
	if p.ExpiresAt, err = timeField(m, fieldExpiresAt); err != nil {
		return nil, err
	}
	if p.LastAccessedAt, err = timeField(m, fieldLastAccessedAt); err != nil {
		return nil, err
	}
	if v, ok := m[fieldAccessPassword]; ok {
		pw := v
		p.AccessPassword = &pw
	}
	if v, ok := m[fieldAllowedEmails]; ok && v != "" {
		if err := json.Unmarshal([]byte(v), &p.AllowedEmails); err != nil {
			return nil, fmt.Errorf("%s: %w", fieldAllowedEmails, err)
		}
	}
	if v, ok := m[fieldMaxAccess]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fieldMaxAccess, err)
		}
		p.MaxAccessCount = &n
	}
	return p, nil
}

func timeField(m map[string]string, field string) (*time.Time, error) {
	v, ok := m[field]
	if !ok || v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	t := time.Unix(0, n).UTC()
	return &t, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func unixNanoArg(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}
