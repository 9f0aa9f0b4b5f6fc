package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/abxctl/internal/client"
	"github.com/danmuck/abxctl/internal/logging"
	"github.com/danmuck/abxctl/internal/observability"
	"github.com/danmuck/abxctl/internal/output"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "abxctl: %v\n", err)
		os.Exit(1)
	}
}

type flagValues struct {
	configPath      string
	host            string
	port            int
	deadline        time.Duration
	maxAttempts     int
	retryBaseDelay  time.Duration
	output          string
	metricsTextfile string
	logFile         string
}

func newRootCommand() *cobra.Command {
	var fv flagValues
	cmd := &cobra.Command{
		Use:           "abxctl",
		Short:         "Fetch the ABX packet stream, backfill gaps and write the ordered result",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveRunConfig(cmd, fv)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&fv.configPath, "config", "c", "", "TOML config file")
	flags.StringVar(&fv.host, "host", "", "ABX server host")
	flags.IntVar(&fv.port, "port", 0, "ABX server port")
	flags.DurationVar(&fv.deadline, "deadline", 0, "deadline for the whole run")
	flags.IntVar(&fv.maxAttempts, "max-attempts", 0, "attempts per request")
	flags.DurationVar(&fv.retryBaseDelay, "retry-base-delay", 0, "backoff after the first failed attempt")
	flags.StringVarP(&fv.output, "output", "o", "", "result document path")
	flags.StringVar(&fv.metricsTextfile, "metrics-textfile", "", "write prometheus metrics to this file after the run")
	flags.StringVar(&fv.logFile, "log-file", "", "also write JSON logs to this rotated file")
	return cmd
}

// resolveRunConfig layers defaults, the config file and explicitly set flags.
func resolveRunConfig(cmd *cobra.Command, fv flagValues) (runConfig, error) {
	cfg := defaultRunConfig()
	if path := strings.TrimSpace(fv.configPath); path != "" {
		loaded, err := loadRunConfig(path)
		if err != nil {
			return runConfig{}, err
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Client.Host = strings.TrimSpace(fv.host)
	}
	if flags.Changed("port") {
		cfg.Client.Port = fv.port
	}
	if flags.Changed("deadline") {
		cfg.Client.Session.Deadline = fv.deadline
	}
	if flags.Changed("max-attempts") {
		cfg.Client.Session.MaxAttempts = fv.maxAttempts
	}
	if flags.Changed("retry-base-delay") {
		cfg.Client.Session.Backoff.InitialDelay = fv.retryBaseDelay
	}
	if flags.Changed("output") {
		cfg.Output = strings.TrimSpace(fv.output)
	}
	if flags.Changed("metrics-textfile") {
		cfg.MetricsTextfile = strings.TrimSpace(fv.metricsTextfile)
	}
	if flags.Changed("log-file") {
		cfg.LogFile = strings.TrimSpace(fv.logFile)
	}
	return cfg, nil
}

func run(parent context.Context, cfg runConfig) error {
	logging.ConfigureRuntime(logging.WithFile(cfg.LogFile))

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink := output.NewJSONFile(cfg.Output)
	ctrl, err := client.New(cfg.Client,
		client.WithSink(sink),
		client.WithLogger(logging.Component("client")),
	)
	if err != nil {
		return err
	}
	res, runErr := ctrl.Run(ctx)

	if cfg.MetricsTextfile != "" {
		if err := observability.WriteTextfile(cfg.MetricsTextfile); err != nil {
			log.Warn().Err(err).Str("path", cfg.MetricsTextfile).Msg("write metrics textfile")
		}
	}
	if runErr != nil {
		return fmt.Errorf("abx client failed: %w", runErr)
	}
	if len(res.Packets) > 0 {
		log.Info().
			Str("path", sink.Path).
			Int("packets", len(res.Packets)).
			Int("unresolved", len(res.Unresolved)).
			Dur("elapsed", res.Duration).
			Msg("saved packets")
	}
	return nil
}
