package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/gogogo1024/reportgate/services/reportaccess/biz/handler"
	"github.com/gogogo1024/reportgate/services/reportaccess/biz/router"
	"github.com/gogogo1024/reportgate/services/reportaccess/internal/access"
	"github.com/gogogo1024/reportgate/services/reportaccess/internal/bootstrap"
)

func main() {
	// `go test ./...` may execute command mains; never start a listener from a test binary.
	if strings.HasSuffix(filepath.Base(os.Args[0]), ".test") {
		return
	}

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		logrus.WithError(err).Fatal("[CONFIG] invalid configuration")
	}
	if err := setupLogger(cfg.Server.LogLevel, cfg.Server.LogFormat); err != nil {
		logrus.WithError(err).Fatal("[CONFIG] invalid logging configuration")
	}
	logrus.WithFields(cfg.logFields()).Info("[CONFIG] resolved")

	backend, err := bootstrap.Open(context.Background(), cfg.Config, logrus.StandardLogger())
	if err != nil {
		logrus.WithError(err).Fatal("[STORE] open failed")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	handler.SetService(access.NewService(backend.Store,
		access.WithLogger(logrus.StandardLogger()),
		access.WithMetrics(access.NewMetrics(reg)),
	))
	handler.SetStatsEnabled(cfg.Server.EnableStats)

	h := server.Default(
		server.WithHostPorts(cfg.Server.Addr),
		server.WithIdleTimeout(cfg.idleTimeout),
		server.WithReadTimeout(cfg.readTimeout),
		server.WithWriteTimeout(cfg.writeTimeout),
	)
	h.OnShutdown = append(h.OnShutdown, func(context.Context) {
		if err := backend.Close(); err != nil {
			logrus.WithError(err).Warn("[STORE] close failed")
		}
	})
	router.Register(h, reg)

	logrus.WithField("addr", cfg.Server.Addr).Info("reportaccess listening")
	h.Spin()
}
