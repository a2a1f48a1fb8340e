package access

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	c      *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

var (
	redisScriptSave         = redis.NewScript(luaSave)
	redisScriptLoad         = redis.NewScript(luaLoad)
	redisScriptIncrement    = redis.NewScript(luaIncrement)
	redisScriptRemove       = redis.NewScript(luaRemove)
	redisScriptDeleteReport = redis.NewScript(luaDeleteReport)
)

func NewRedisStore(c *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "reportaccess:"
	}
	return &RedisStore{c: c, prefix: keyPrefix}
}

func (s *RedisStore) Client() *redis.Client {
	return s.c
}

func (s *RedisStore) Prefix() string {
	return s.prefix
}

func (s *RedisStore) CreateReport(ctx context.Context, reportKey string) error {
	if err := validateReportKey(reportKey); err != nil {
		return err
	}
	keys := reportHashKeys(s.prefix, reportKey)
	if err := s.c.SetNX(ctx, keys[0], "1", 0).Err(); err != nil {
		return unavailable("create report", err)
	}
	return nil
}

func (s *RedisStore) DeleteReport(ctx context.Context, reportKey string) error {
	if err := validateReportKey(reportKey); err != nil {
		return err
	}
	return s.runStatus(ctx, "delete report", redisScriptDeleteReport, reportKey)
}

func (s *RedisStore) ReportExists(ctx context.Context, reportKey string) (bool, error) {
	if err := validateReportKey(reportKey); err != nil {
		return false, err
	}
	n, err := s.c.Exists(ctx, reportHashKeys(s.prefix, reportKey)[0]).Result()
	if err != nil {
		return false, unavailable("report exists", err)
	}
	return n == 1, nil
}

func (s *RedisStore) Load(ctx context.Context, reportKey string) (*Policy, error) {
	if err := validateReportKey(reportKey); err != nil {
		return nil, err
	}
	res, err := redisScriptLoad.Run(ctx, s.c, reportHashKeys(s.prefix, reportKey)).Result()
	if err != nil {
		return nil, unavailable("load", err)
	}
	switch v := res.(type) {
	case int64:
		if err := scriptErr(v); err != nil {
			return nil, err
		}
		return nil, unavailable("load", fmt.Errorf("unexpected script status %d", v))
	case []interface{}:
		pairs := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, unavailable("load", fmt.Errorf("unexpected hash element %T", item))
			}
			pairs = append(pairs, str)
		}
		p, err := policyFromPairs(pairs)
		if err != nil {
			return nil, unavailable("load", err)
		}
		return p, nil
	default:
		return nil, unavailable("load", fmt.Errorf("unexpected script reply %T", res))
	}
}

func (s *RedisStore) Save(ctx context.Context, reportKey string, p *Policy) error {
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
	return s.runStatus(ctx, "save", redisScriptSave, reportKey, stringArgs(fields)...)
}

func (s *RedisStore) IncrementAccess(ctx context.Context, reportKey string, now time.Time) (int64, error) {
	if err := validateReportKey(reportKey); err != nil {
		return 0, err
	}
	n, err := redisScriptIncrement.Run(ctx, s.c, reportHashKeys(s.prefix, reportKey), unixNanoArg(now)).Int64()
	if err != nil {
		return 0, unavailable("increment", err)
	}
	if err := scriptErr(n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *RedisStore) Remove(ctx context.Context, reportKey string) error {
	if err := validateReportKey(reportKey); err != nil {
		return err
	}
	return s.runStatus(ctx, "remove", redisScriptRemove, reportKey)
}

func (s *RedisStore) runStatus(ctx context.Context, op string, script *redis.Script, reportKey string, args ...interface{}) error {
	n, err := script.Run(ctx, s.c, reportHashKeys(s.prefix, reportKey), args...).Int64()
	if err != nil {
		return unavailable(op, err)
	}
	return scriptErr(n)
}

func stringArgs(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
