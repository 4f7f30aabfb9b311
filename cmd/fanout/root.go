package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/fanout/internal/config"
	"github.com/Sternrassler/fanout/pkg/client"
	"github.com/Sternrassler/fanout/pkg/fanout"
	"github.com/Sternrassler/fanout/pkg/logging"
	"github.com/Sternrassler/fanout/pkg/metrics"
)

const version = "0.1.0"

// app carries what PersistentPreRunE resolved to the subcommands.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	client *client.Client
	redis  *redis.Client
	server *http.Server
}

// execute runs the CLI and releases what the command started.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{}
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	return errors.Join(err, a.stop())
}

func newRootCmd(a *app) *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:           "fanout",
		Short:         "Fetch batches of HTTP resources with bounded concurrency",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var opts []config.Option
			if envFile != "" {
				opts = append(opts, config.WithEnvFile(envFile))
			}
			opts = append(opts, config.WithFlags(cmd.Flags()))

			cfg, err := config.Load(opts...)
			if err != nil {
				return err
			}
			a.cfg = cfg

			logCfg := logging.DefaultConfig()
			logCfg.Level = logging.LogLevel(cfg.LogLevel)
			logCfg.Pretty = cfg.LogPretty
			logCfg.Output = cmd.ErrOrStderr()
			logging.Setup(logCfg)
			a.logger = logging.NewLogger("cli")

			return a.start(cmd.Context())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&envFile, "env-file", "", "load environment variables from this file (default .env when present)")
	flags.String("base-url", "", "resource base URL, items are appended as path segments")
	flags.Int("concurrency", 5, "maximum number of requests in flight")
	flags.String("order", "", "emission order: completion or admission")
	flags.Bool("raise-on-error", true, "abort the batch on the first failure")
	flags.String("progress-label", "", "show progress with this label")
	flags.Duration("timeout", 30*time.Second, "per-request timeout")
	flags.String("log-level", "info", "log level (debug, info, warn, error, disabled)")
	flags.Bool("log-pretty", false, "human-readable log output")
	flags.String("user-agent", "", "User-Agent header")
	flags.Float64("rate-limit", 10, "client-side requests per second")
	flags.String("redis-addr", "", "Redis address for the response cache and shared rate limit state")
	flags.String("metrics-addr", "", "serve /metrics and /health on this address")

	cmd.AddCommand(newPostsCmd(a), newResponsesCmd(a), newPagesCmd(a))
	return cmd
}

// start connects Redis, builds the client and starts the metrics server.
func (a *app) start(ctx context.Context) error {
	if a.cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis at %s: %w", a.cfg.RedisAddr, err)
		}
		a.logger.Info().Str("addr", a.cfg.RedisAddr).Msg("Connected to Redis")
	}

	clientCfg := client.DefaultConfig(a.redis, a.cfg.UserAgent)
	clientCfg.RateLimit = a.cfg.RateLimit
	clientCfg.Burst = max(int(a.cfg.RateLimit), 1)
	clientCfg.Timeout = a.cfg.Timeout

	c, err := client.New(clientCfg)
	if err != nil {
		return err
	}
	a.client = c

	if a.cfg.MetricsAddr != "" {
		a.server = &http.Server{
			Addr:              a.cfg.MetricsAddr,
			Handler:           newMetricsMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error().Err(err).Str("addr", a.cfg.MetricsAddr).Msg("Metrics server failed")
			}
		}()
		a.logger.Info().Str("addr", a.cfg.MetricsAddr).Msg("Serving metrics")
	}

	return nil
}

func (a *app) stop() error {
	var errs []error
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.server.Shutdown(ctx))
	}
	if a.client != nil {
		errs = append(errs, a.client.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}

// fanoutConfig maps the CLI configuration to a batch configuration.
func (a *app) fanoutConfig(label string) (fanout.Config, error) {
	order, err := fanout.ParseOrder(a.cfg.Order)
	if err != nil {
		return fanout.Config{}, err
	}
	if a.cfg.ProgressLabel != "" {
		label = a.cfg.ProgressLabel
	}

	logger := logging.NewLogger("fanout")
	return fanout.Config{
		MaxConcurrency: a.cfg.Concurrency,
		Order:          order,
		RaiseOnError:   a.cfg.RaiseOnError,
		ProgressLabel:  label,
		Timeout:        a.cfg.Timeout,
		Logger:         &logger,
	}, nil
}

func newMetricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
