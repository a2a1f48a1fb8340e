package bootstrap

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gogogo1024/reportgate/services/reportaccess/internal/access"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/valkey-io/valkey-go"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Backend is an opened access store plus whatever must be closed with it.
type Backend struct {
	Name  string
	Store access.Store
	close func() error
}

func (b *Backend) Close() error {
	if b == nil || b.close == nil {
		return nil
	}
	return b.close()
}

// Open connects the configured store. Network backends are pinged before
// returning so that a bad address fails at startup rather than on first check.
func Open(ctx context.Context, cfg Config, log logrus.FieldLogger) (*Backend, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("store config: %w", err)
	}

	switch cfg.Store.Backend {
	case BackendMemory:
		log.Warn("[STORE] using in-memory store, state is lost on restart")
		return &Backend{Name: BackendMemory, Store: access.NewInMemoryStore()}, nil
	case BackendRedis:
		return openRedis(ctx, cfg.Redis, log)
	case BackendValkey:
		return openValkey(ctx, cfg.Valkey, log)
	case BackendSQL:
		return openSQL(ctx, cfg.Database, log)
	}
	return nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
}

func openRedis(ctx context.Context, rc RedisConfig, log logrus.FieldLogger) (*Backend, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         rc.Addr,
		Password:     rc.Password,
		DB:           rc.DB,
		DialTimeout:  parseDuration(rc.DialTimeout, time.Second),
		ReadTimeout:  parseDuration(rc.ReadTimeout, time.Second),
		WriteTimeout: parseDuration(rc.WriteTimeout, time.Second),
	})

	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", rc.Addr, err)
	}

	log.WithFields(logrus.Fields{"addr": rc.Addr, "db": rc.DB, "prefix": rc.KeyPrefix}).Info("[STORE] redis connected")
	return &Backend{
		Name:  BackendRedis,
		Store: access.NewRedisStore(rdb, rc.KeyPrefix),
		close: rdb.Close,
	}, nil
}

func openValkey(ctx context.Context, vc ValkeyConfig, log logrus.FieldLogger) (*Backend, error) {
	opts := valkey.ClientOption{
		InitAddress:  []string{vc.Addr},
		SelectDB:     vc.DB,
		DisableCache: vc.DisableCache,
	}
	if vc.Password != "" {
		opts.Password = vc.Password
	}
	c, err := valkey.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("valkey client %s: %w", vc.Addr, err)
	}

	timeout := parseDuration(vc.ConnectTimeout, 5*time.Second)
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := c.Do(pctx, c.B().Ping().Build()).Error(); err != nil {
		c.Close()
		return nil, fmt.Errorf("valkey ping %s (timeout %v): %w", vc.Addr, timeout, err)
	}

	prefix := vc.KeyPrefix
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	log.WithFields(logrus.Fields{"addr": vc.Addr, "db": vc.DB, "prefix": prefix}).Info("[STORE] valkey connected")
	return &Backend{
		Name:  BackendValkey,
		Store: access.NewValkeyStore(c, prefix),
		close: func() error {
			c.Close()
			return nil
		},
	}, nil
}

func openSQL(ctx context.Context, dc DatabaseConfig, log logrus.FieldLogger) (*Backend, error) {
	var dialector gorm.Dialector
	switch dc.Driver {
	case BackendPostgres:
		dialector = postgres.Open(dc.DSN)
	case BackendSQLite:
		dialector = sqlite.Open(SQLiteDSN(dc.DSN))
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", dc.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(dc.LogLevel)),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s database: %w", dc.Driver, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB instance: %w", err)
	}

	if dc.Driver == BackendSQLite {
		// sqlite has a single writer.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else if dc.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(dc.MaxOpenConns)
		sqlDB.SetMaxIdleConns(dc.MaxOpenConns / 2)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	st := access.NewGormStore(db)
	if err := st.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate access tables: %w", err)
	}

	log.WithField("driver", dc.Driver).Info("[STORE] database ready")
	return &Backend{Name: dc.Driver, Store: st, close: sqlDB.Close}, nil
}

// SQLiteDSN turns a bare file path into a DSN with WAL and a busy timeout.
// Values that already look like a DSN are returned unchanged.
func SQLiteDSN(path string) string {
	if strings.HasPrefix(path, "file:") || path == ":memory:" {
		return path
	}
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_foreign_keys", "on")
	return "file:" + path + "?" + q.Encode()
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	}
	return logger.Silent
}
