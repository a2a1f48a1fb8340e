package access

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

// ValkeyStore is the valkey-go twin of RedisStore. Both run the same Lua
// scripts against the same key layout, so the two are interchangeable on one
// keyspace.
type ValkeyStore struct {
	c      valkey.Client
	prefix string
}

var _ Store = (*ValkeyStore)(nil)

var (
	valkeyScriptSave         = valkey.NewLuaScript(luaSave)
	valkeyScriptLoad         = valkey.NewLuaScript(luaLoad)
	valkeyScriptIncrement    = valkey.NewLuaScript(luaIncrement)
	valkeyScriptRemove       = valkey.NewLuaScript(luaRemove)
	valkeyScriptDeleteReport = valkey.NewLuaScript(luaDeleteReport)
)

func NewValkeyStore(c valkey.Client, keyPrefix string) *ValkeyStore {
	if keyPrefix == "" {
		keyPrefix = "reportaccess:"
	}
	return &ValkeyStore{c: c, prefix: keyPrefix}
}

func (s *ValkeyStore) Client() valkey.Client {
	return s.c
}

func (s *ValkeyStore) Prefix() string {
	return s.prefix
}

func (s *ValkeyStore) CreateReport(ctx context.Context, reportKey string) error {
	if err := validateReportKey(reportKey); err != nil {
		return err
	}
	key := reportHashKeys(s.prefix, reportKey)[0]
	err := s.c.Do(ctx, s.c.B().Set().Key(key).Value("1").Nx().Build()).Error()
	if err != nil && !valkey.IsValkeyNil(err) {
		return unavailable("create report", err)
	}
	return nil
}

func (s *ValkeyStore) DeleteReport(ctx context.Context, reportKey string) error {
	if err := validateReportKey(reportKey); err != nil {
		return err
	}
	return s.runStatus(ctx, "delete report", valkeyScriptDeleteReport, reportKey, nil)
}

func (s *ValkeyStore) ReportExists(ctx context.Context, reportKey string) (bool, error) {
	if err := validateReportKey(reportKey); err != nil {
		return false, err
	}
	key := reportHashKeys(s.prefix, reportKey)[0]
	n, err := s.c.Do(ctx, s.c.B().Exists().Key(key).Build()).AsInt64()
	if err != nil {
		return false, unavailable("report exists", err)
	}
	return n == 1, nil
}

func (s *ValkeyStore) Load(ctx context.Context, reportKey string) (*Policy, error) {
	if err := validateReportKey(reportKey); err != nil {
		return nil, err
	}
	msg, err := valkeyScriptLoad.Exec(ctx, s.c, reportHashKeys(s.prefix, reportKey), nil).ToMessage()
	if err != nil {
		return nil, unavailable("load", err)
	}
	if msg.IsInt64() {
		code, _ := msg.AsInt64()
		if err := scriptErr(code); err != nil {
			return nil, err
		}
		return nil, unavailable("load", fmt.Errorf("unexpected script status %d", code))
	}
	pairs, err := msg.AsStrSlice()
	if err != nil {
		return nil, unavailable("load", err)
	}
	p, err := policyFromPairs(pairs)
	if err != nil {
		return nil, unavailable("load", err)
	}
	return p, nil
}

func (s *ValkeyStore) Save(ctx context.Context, reportKey string, p *Policy) error {
	if err := validateReportKey(reportKey); err != nil {
		return err
	}
	if p == nil {
		return ErrNoPolicy
	}
	fields, err := policyToHash(p)
	if err != nil {
		return err
	}
	return s.runStatus(ctx, "save", valkeyScriptSave, reportKey, fields)
}

func (s *ValkeyStore) IncrementAccess(ctx context.Context, reportKey string, now time.Time) (int64, error) {
	if err := validateReportKey(reportKey); err != nil {
		return 0, err
	}
	n, err := valkeyScriptIncrement.Exec(ctx, s.c, reportHashKeys(s.prefix, reportKey), []string{unixNanoArg(now)}).AsInt64()
	if err != nil {
		return 0, unavailable("increment", err)
	}
	if err := scriptErr(n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *ValkeyStore) Remove(ctx context.Context, reportKey string) error {
	if err := validateReportKey(reportKey); err != nil {
		return err
	}
	return s.runStatus(ctx, "remove", valkeyScriptRemove, reportKey, nil)
}

func (s *ValkeyStore) runStatus(ctx context.Context, op string, script *valkey.Lua, reportKey string, args []string) error {
	n, err := script.Exec(ctx, s.c, reportHashKeys(s.prefix, reportKey), args).AsInt64()
	if err != nil {
		return unavailable(op, err)
	}
	return scriptErr(n)
}
