package handler

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/redis/go-redis/v9"

	"github.com/gogogo1024/reportgate/services/reportaccess/internal/access"
)

var statsEnabled bool

func SetStatsEnabled(v bool) {
	statsEnabled = v
}

type statsResponse struct {
	Backend string                `json:"backend"`
	Now     string                `json:"now"`
	Redis   *keyspaceStats        `json:"redis,omitempty"`
	Valkey  *keyspaceStats        `json:"valkey,omitempty"`
	Access  *access.InMemoryStats `json:"access,omitempty"`
}

type keyspaceStats struct {
	Prefix   string            `json:"prefix"`
	DBSize   int64             `json:"dbsize"`
	Memory   map[string]string `json:"memory"`
	Keyspace map[string]string `json:"keyspace"`
	Stats    map[string]string `json:"stats,omitempty"`
	Estimate *prefixEstimate   `json:"estimate,omitempty"`
}

type prefixEstimate struct {
	Enabled          bool    `json:"enabled"`
	BudgetMS         int64   `json:"budget_ms"`
	ScanCount        int64   `json:"scan_count"`
	ElapsedMS        int64   `json:"elapsed_ms"`
	ScannedKeys      int64   `json:"scanned_keys"`
	MatchedKeys      int64   `json:"matched_keys"`
	MatchedRatio     float64 `json:"matched_ratio"`
	EstimatedKeys    int64   `json:"estimated_keys"`
	EstimatedKeysMin int64   `json:"estimated_keys_min"`
	EstimatedKeysMax int64   `json:"estimated_keys_max"`
}

// AccessStats GET /v1/access/stats
// Guarded by server.enable_stats.
func AccessStats(ctx context.Context, c *app.RequestContext) {
	if !statsEnabled {
		c.JSON(consts.StatusNotFound, utils.H{"error": "not found"})
		return
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	switch st := svc.Store().(type) {
	case *access.RedisStore:
		ks, err := redisKeyspace(rctx, st, c)
		if err != nil {
			c.JSON(consts.StatusServiceUnavailable, utils.H{"error": err.Error()})
			return
		}
		c.JSON(consts.StatusOK, statsResponse{Backend: "redis", Now: now, Redis: ks})
	case *access.ValkeyStore:
		ks, err := valkeyKeyspace(rctx, st)
		if err != nil {
			c.JSON(consts.StatusServiceUnavailable, utils.H{"error": err.Error()})
			return
		}
		c.JSON(consts.StatusOK, statsResponse{Backend: "valkey", Now: now, Valkey: ks})
	case *access.GormStore:
		agg, err := st.Stats(rctx)
		if err != nil {
			c.JSON(consts.StatusServiceUnavailable, utils.H{"error": access.ErrStoreUnavailable.Error()})
			return
		}
		c.JSON(consts.StatusOK, statsResponse{Backend: "sql", Now: now, Access: &agg})
	case *access.InMemoryStore:
		agg := st.Stats()
		c.JSON(consts.StatusOK, statsResponse{Backend: "in_memory", Now: now, Access: &agg})
	default:
		c.JSON(consts.StatusOK, statsResponse{Backend: "unknown", Now: now})
	}
}

func redisKeyspace(ctx context.Context, rs *access.RedisStore, c *app.RequestContext) (*keyspaceStats, error) {
	rdb := rs.Client()
	dbsize, err := rdb.DBSize(ctx).Result()
	if err != nil {
		return nil, err
	}

	memInfo, _ := rdb.Info(ctx, "memory").Result()
	keyInfo, _ := rdb.Info(ctx, "keyspace").Result()
	stInfo, _ := rdb.Info(ctx, "stats").Result()

	return &keyspaceStats{
		Prefix:   rs.Prefix(),
		DBSize:   dbsize,
		Memory:   parseRedisInfo(memInfo),
		Keyspace: parseRedisInfo(keyInfo),
		Stats:    parseRedisInfo(stInfo),
		Estimate: maybeEstimatePrefixKeys(ctx, rdb, rs.Prefix(), dbsize, c),
	}, nil
}

func valkeyKeyspace(ctx context.Context, vs *access.ValkeyStore) (*keyspaceStats, error) {
	vc := vs.Client()
	dbsize, err := vc.Do(ctx, vc.B().Dbsize().Build()).AsInt64()
	if err != nil {
		return nil, err
	}

	info := func(section string) map[string]string {
		s, err := vc.Do(ctx, vc.B().Info().Section(section).Build()).ToString()
		if err != nil {
			return map[string]string{}
		}
		return parseRedisInfo(s)
	}

	return &keyspaceStats{
		Prefix:   vs.Prefix(),
		DBSize:   dbsize,
		Memory:   info("memory"),
		Keyspace: info("keyspace"),
	}, nil
}

// Redis and Valkey share the INFO text format.
func parseRedisInfo(info string) map[string]string {
	m := make(map[string]string)
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k != "" {
			m[k] = strings.TrimSpace(v)
		}
	}
	return m
}

type scanClient interface {
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

func maybeEstimatePrefixKeys(ctx context.Context, rdb scanClient, prefix string, dbsize int64, c *app.RequestContext) *prefixEstimate {
	if !queryBool(c, "estimate_prefix") {
		return nil
	}

	budgetMS := queryInt64Bounded(c, "budget_ms", 50, 10, 2000)
	scanCount := queryInt64Bounded(c, "scan_count", 1000, 10, 10000)

	scanned, matched, elapsedMS := samplePrefixKeys(ctx, rdb, prefix, time.Duration(budgetMS)*time.Millisecond, scanCount, 200000)
	ratio, estimated, lo, hi := estimateFromSample(dbsize, scanned, matched)

	return &prefixEstimate{
		Enabled:          true,
		BudgetMS:         budgetMS,
		ScanCount:        scanCount,
		ElapsedMS:        elapsedMS,
		ScannedKeys:      scanned,
		MatchedKeys:      matched,
		MatchedRatio:     ratio,
		EstimatedKeys:    estimated,
		EstimatedKeysMin: lo,
		EstimatedKeysMax: hi,
	}
}

func queryBool(c *app.RequestContext, key string) bool {
	switch strings.ToLower(strings.TrimSpace(c.Query(key))) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

func queryInt64Bounded(c *app.RequestContext, key string, def, lo, hi int64) int64 {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return min(max(n, lo), hi)
}

func samplePrefixKeys(ctx context.Context, rdb scanClient, prefix string, budget time.Duration, scanCount int64, maxScanned int64) (scanned int64, matched int64, elapsedMS int64) {
	start := time.Now()
	deadline := start.Add(budget)

	var cursor uint64
	for time.Now().Before(deadline) && scanned < maxScanned {
		keys, next, err := rdb.Scan(ctx, cursor, "", scanCount).Result()
		if err != nil {
			break
		}

		incScanned, incMatched, reached := countPrefixMatches(keys, prefix, maxScanned-scanned)
		scanned += incScanned
		matched += incMatched
		if reached {
			break
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return scanned, matched, time.Since(start).Milliseconds()
}

func countPrefixMatches(keys []string, prefix string, limit int64) (scanned int64, matched int64, reached bool) {
	if limit <= 0 {
		return 0, 0, true
	}
	for _, k := range keys {
		scanned++
		if prefix != "" && strings.HasPrefix(k, prefix) {
			matched++
		}
		if scanned >= limit {
			return scanned, matched, true
		}
	}
	return scanned, matched, false
}

// estimateFromSample scales the sampled match ratio up to the whole keyspace.
// The range is a rough uncertainty band, tighter for larger samples.
func estimateFromSample(dbsize int64, scanned int64, matched int64) (ratio float64, estimated int64, lo int64, hi int64) {
	if scanned > 0 {
		ratio = float64(matched) / float64(scanned)
	}
	estimated = int64(float64(dbsize) * ratio)

	factor := float64(1)
	if scanned < 20000 {
		factor = 2
	} else if scanned < 100000 {
		factor = 1.5
	}
	lo = int64(float64(estimated) / factor)
	hi = int64(float64(estimated) * factor)
	if dbsize == 0 {
		lo, hi = 0, 0
	}
	return ratio, estimated, lo, hi
}
