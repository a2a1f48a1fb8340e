package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gogogo1024/reportgate/services/reportaccess/internal/access"
	"github.com/gogogo1024/reportgate/services/reportaccess/internal/bootstrap"
)

type openFunc func(ctx context.Context, cfg bootstrap.Config, log logrus.FieldLogger) (*bootstrap.Backend, error)

func openBackend(ctx context.Context, cfg bootstrap.Config, log logrus.FieldLogger) (*bootstrap.Backend, error) {
	return bootstrap.Open(ctx, cfg, log)
}

type cli struct {
	open openFunc

	configPath string
	backend    string
	logLevel   string

	log     *logrus.Logger
	store   *bootstrap.Backend
	service *access.Service
}

func newRootCmd(open openFunc) *cobra.Command {
	c := &cli{open: open}

	cmd := &cobra.Command{
		Use:           "accessctl",
		Short:         "Manage report access policies",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.connect(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return c.store.Close()
		},
	}

	cmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "reportaccess.yaml", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&c.backend, "backend", "", "Override store.backend (memory, redis, valkey, postgres, sqlite)")
	cmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		c.createReportCmd(),
		c.deleteReportCmd(),
		c.setCmd(),
		c.getCmd(),
		c.checkCmd(),
		c.recordCmd(),
		c.openCmd(),
		c.removeCmd(),
	)
	return cmd
}

func (c *cli) connect(cmd *cobra.Command) error {
	c.log = logrus.New()
	c.log.SetOutput(cmd.ErrOrStderr())
	lvl, err := logrus.ParseLevel(c.logLevel)
	if err != nil {
		return err
	}
	c.log.SetLevel(lvl)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.log.WithError(err).Warn("[CONFIG] load .env")
	}

	cfg := bootstrap.DefaultConfig()
	loaded, err := bootstrap.DecodeFile(c.configPath, &cfg)
	if err != nil {
		return err
	}
	if !loaded && cmd.Flags().Changed("config") {
		return fmt.Errorf("config %s: %w", c.configPath, os.ErrNotExist)
	}
	if _, err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if c.backend != "" {
		cfg.Store.Backend = c.backend
	}

	c.store, err = c.open(cmd.Context(), cfg, c.log)
	if err != nil {
		return err
	}
	c.service = access.NewService(c.store.Store, access.WithLogger(c.log))
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
