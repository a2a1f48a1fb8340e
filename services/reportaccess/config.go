package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/gogogo1024/reportgate/services/reportaccess/internal/bootstrap"
)

type configSource string

const (
	sourceDefault configSource = "default"
	sourceFile    configSource = "file"
	sourceEnv     configSource = "env"
	sourceFlag    configSource = "flag"
)

const defaultConfigPath = "reportaccess.yaml"

type config struct {
	Server           serverConfig `yaml:"server"`
	bootstrap.Config `yaml:",inline"`
}

type serverConfig struct {
	Addr         string `yaml:"addr"`
	EnableStats  bool   `yaml:"enable_stats"`
	IdleTimeout  string `yaml:"idle_timeout"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
}

func defaultConfig() config {
	return config{
		Server: serverConfig{
			Addr:         ":8888",
			IdleTimeout:  "5m",
			ReadTimeout:  "10s",
			WriteTimeout: "10s",
			LogLevel:     "info",
			LogFormat:    "text",
		},
		Config: bootstrap.DefaultConfig(),
	}
}

// fileSet records which of the tracked keys the YAML file spelled out.
type fileSet struct {
	Server struct {
		Addr        *string `yaml:"addr"`
		EnableStats *bool   `yaml:"enable_stats"`
	} `yaml:"server"`
	Store struct {
		Backend *string `yaml:"backend"`
	} `yaml:"store"`
}

type loadedConfig struct {
	config

	idleTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	addrSource    configSource
	statsSource   configSource
	backendSource configSource
	envApplied    []string

	dotenvPath   string
	dotenvLoaded bool

	configPath   string
	configLoaded bool
}

// loadConfig layers defaults < YAML file < .env / environment < flags.
func loadConfig(args []string) (loadedConfig, error) {
	configPath, configExplicit := parseConfigPath(args, defaultConfigPath)
	if abs, err := filepath.Abs(configPath); err == nil {
		configPath = abs
	}

	dotenvPath, dotenvLoaded := loadDotenv(".env")

	cfg := defaultConfig()
	configLoaded, err := bootstrap.DecodeFile(configPath, &cfg)
	if err != nil {
		return loadedConfig{}, err
	}
	if !configLoaded && configExplicit {
		return loadedConfig{}, fmt.Errorf("config %s: %w", configPath, os.ErrNotExist)
	}
	var inFile fileSet
	if configLoaded {
		if _, err := bootstrap.DecodeFile(configPath, &inFile); err != nil {
			return loadedConfig{}, err
		}
	}

	addrEnv, addrEnvOK, err := bootstrap.EnvString(bootstrap.EnvPrefix + "ADDR")
	if err != nil {
		return loadedConfig{}, err
	}
	if addrEnvOK {
		cfg.Server.Addr = addrEnv
	}
	statsEnv, statsEnvOK, err := bootstrap.EnvBool(bootstrap.EnvPrefix + "ENABLE_STATS")
	if err != nil {
		return loadedConfig{}, err
	}
	if statsEnvOK {
		cfg.Server.EnableStats = statsEnv
	}
	if v, ok, err := bootstrap.EnvString(bootstrap.EnvPrefix + "LOG_LEVEL"); err != nil {
		return loadedConfig{}, err
	} else if ok {
		cfg.Server.LogLevel = v
	}
	envApplied, err := cfg.ApplyEnv()
	if err != nil {
		return loadedConfig{}, err
	}
	_, backendEnvOK := os.LookupEnv(bootstrap.EnvPrefix + "STORE_BACKEND")

	idleDefault, err := parseDurationKey("server.idle_timeout", cfg.Server.IdleTimeout)
	if err != nil {
		return loadedConfig{}, err
	}
	readDefault, err := parseDurationKey("server.read_timeout", cfg.Server.ReadTimeout)
	if err != nil {
		return loadedConfig{}, err
	}
	writeDefault, err := parseDurationKey("server.write_timeout", cfg.Server.WriteTimeout)
	if err != nil {
		return loadedConfig{}, err
	}

	fs := flag.NewFlagSet("reportaccess", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	_ = fs.String("config", configPath, "path to YAML config file")
	addr := fs.String("addr", cfg.Server.Addr, "listen address")
	enableStats := fs.Bool("enable-stats", cfg.Server.EnableStats, "expose GET /v1/access/stats")
	backend := fs.String("backend", cfg.Store.Backend, "store backend: memory|redis|valkey|postgres|sqlite|sql")
	logLevel := fs.String("log-level", cfg.Server.LogLevel, "log level: debug|info|warn|error")
	idleTimeout := fs.Duration("idle-timeout", idleDefault, "connection idle timeout")
	readTimeout := fs.Duration("read-timeout", readDefault, "request read timeout")
	writeTimeout := fs.Duration("write-timeout", writeDefault, "response write timeout")
	if err := fs.Parse(args); err != nil {
		return loadedConfig{}, err
	}
	set := visitedFlags(fs)

	cfg.Server.Addr = *addr
	cfg.Server.EnableStats = *enableStats
	cfg.Server.LogLevel = *logLevel
	cfg.Store.Backend = *backend
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return loadedConfig{}, fmt.Errorf("config: %w", err)
	}

	return loadedConfig{
		config:        cfg,
		idleTimeout:   *idleTimeout,
		readTimeout:   *readTimeout,
		writeTimeout:  *writeTimeout,
		addrSource:    pickSource(set["addr"], addrEnvOK, inFile.Server.Addr != nil),
		statsSource:   pickSource(set["enable-stats"], statsEnvOK, inFile.Server.EnableStats != nil),
		backendSource: pickSource(set["backend"], backendEnvOK, inFile.Store.Backend != nil),
		envApplied:    envApplied,
		dotenvPath:    dotenvPath,
		dotenvLoaded:  dotenvLoaded,
		configPath:    configPath,
		configLoaded:  configLoaded,
	}, nil
}

func (c loadedConfig) logFields() logrus.Fields {
	return logrus.Fields{
		"addr":          c.Server.Addr,
		"addr_from":     c.addrSource,
		"backend":       c.Store.Backend,
		"backend_from":  c.backendSource,
		"stats":         c.Server.EnableStats,
		"stats_from":    c.statsSource,
		"config":        c.configPath,
		"config_loaded": c.configLoaded,
		"dotenv_loaded": c.dotenvLoaded,
		"env":           strings.Join(c.envApplied, ","),
	}
}

func setupLogger(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	switch format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log format %q (must be text or json)", format)
	}
	return nil
}

func loadDotenv(path string) (string, bool) {
	if err := godotenv.Load(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logrus.WithError(err).Warnf("[CONFIG] load %s", path)
		}
		return path, false
	}
	return path, true
}

func parseConfigPath(args []string, defaultValue string) (string, bool) {
	fs := flag.NewFlagSet("preconfig", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	config := fs.String("config", defaultValue, "path to YAML config file")
	_ = fs.Parse(args)
	explicit := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	if *config == "" {
		return defaultValue, explicit
	}
	return *config, explicit
}

func parseDurationKey(key, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s invalid duration: %w", key, err)
	}
	return d, nil
}

func visitedFlags(fs *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

func pickSource(flagSet bool, envOK bool, fileOK bool) configSource {
	if flagSet {
		return sourceFlag
	}
	if envOK {
		return sourceEnv
	}
	if fileOK {
		return sourceFile
	}
	return sourceDefault
}
