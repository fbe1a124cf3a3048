package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/GoCodeAlone/bootready"
	"github.com/GoCodeAlone/bootready/configstore"
	"github.com/GoCodeAlone/bootready/host"
)

var errUnknownLogLevel = errors.New("unknown log level")

// runtimeEnv is a booted host with the monitor observing it.
type runtimeEnv struct {
	logger  *slog.Logger
	cfg     bootready.MonitorConfig
	host    *host.Host
	store   *configstore.Store
	metrics *bootready.PrometheusMetricsCollector
	monitor *bootready.StdSystemMonitor
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info", "":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownLogLevel, level)
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
}

// boot loads the monitor configuration, creates the host, restores stored
// configurations and applies the manifest.
func boot(ctx context.Context, opts *globalOptions, logOut io.Writer) (*runtimeEnv, error) {
	logger, err := newLogger(logOut, opts.logLevel, opts.logFormat)
	if err != nil {
		return nil, err
	}

	cfg, err := bootready.LoadConfig(opts.configFile, bootready.DefaultEnvPrefix)
	if err != nil {
		return nil, fmt.Errorf("load monitor config: %w", err)
	}

	env := &runtimeEnv{
		logger:  logger,
		cfg:     cfg,
		metrics: bootready.NewPrometheusMetricsCollector(""),
	}

	hostOpts := []host.Option{host.WithLogger(logger.With("component", "host"))}
	if opts.configDir != "" {
		store, err := configstore.New(opts.configDir, configstore.WithLogger(logger.With("component", "configstore")))
		if err != nil {
			return nil, err
		}
		env.store = store
		hostOpts = append(hostOpts, host.WithPersistence(store))
	}
	env.host = host.New(hostOpts...)

	if err := env.host.Restore(ctx); err != nil {
		env.close()
		return nil, err
	}
	if opts.manifest != "" {
		manifest, err := host.LoadManifest(opts.manifest)
		if err != nil {
			env.close()
			return nil, err
		}
		if err := manifest.Apply(ctx, env.host); err != nil {
			env.close()
			return nil, fmt.Errorf("apply manifest: %w", err)
		}
	}

	env.monitor, err = bootready.NewSystemMonitor(env.host,
		bootready.WithLogger(logger.With("component", "monitor")),
		bootready.WithConfig(cfg),
		bootready.WithMetrics(env.metrics))
	if err != nil {
		env.close()
		return nil, err
	}
	return env, nil
}

func (e *runtimeEnv) close() {
	ctx, cancel := context.WithTimeout(context.Background(), host.DefaultStopTimeout+5*time.Second)
	defer cancel()
	if err := e.host.Close(ctx); err != nil {
		e.logger.Error("Failed to close host", "error", err)
	}
}
