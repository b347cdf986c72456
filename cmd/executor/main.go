// Command executor is a thin demonstration CLI: it runs a command (argv,
// no shell) as a process job on an embedded engine. The engine itself is a library; this
// binary only exists to try it out from a terminal.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Nanguage/executor/internal/config"
	"github.com/Nanguage/executor/pkg/engine"
	"github.com/Nanguage/executor/pkg/job"
)

var (
	configPath string
	maxJobs    int
	maxProcs   int
	retries    int
	retryDelay time.Duration
)

func main() {
	root := &cobra.Command{
		Use:          "executor",
		Short:        "Run commands as jobs on the executor engine",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to an engine configuration file")

	run := &cobra.Command{
		Use:   "run [flags] -- command [args...]",
		Short: "Run a command as a process job and wait for it",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCommands,
	}
	flags := run.Flags()
	flags.IntVar(&maxJobs, "max-jobs", 0, "override max_jobs (negative lifts the bound)")
	flags.IntVar(&maxProcs, "max-processes", 0, "override max_processes")
	flags.IntVar(&retries, "retries", 0, "retry failing commands this many times")
	flags.DurationVar(&retryDelay, "retry-delay", time.Second, "pause between retries")
	root.AddCommand(run)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfiguration(flags *pflag.FlagSet) (*config.Configuration, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if flags.Changed("max-jobs") {
		cfg.MaxJobs = maxJobs
	}
	if flags.Changed("max-processes") {
		cfg.MaxProcesses = maxProcs
	}
	return cfg, nil
}

func setupLogger(cfg *config.Configuration) error {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	var zc zap.Config
	if cfg.LogFormat == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	logger, err := zc.Build()
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)
	return nil
}

func runCommands(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfiguration(cmd.Flags())
	if err != nil {
		return err
	}
	if err := setupLogger(cfg); err != nil {
		return err
	}
	defer func() { _ = zap.L().Sync() }()

	return engine.With(cfg, func(e *engine.Engine) error {
		j := job.NewProcessJob(args,
			job.WithRetries(retries),
			job.WithRetryDelay(retryDelay),
		)
		if _, err := e.Submit(j); err != nil {
			return err
		}
		if err := e.WaitJob(j, 0); err != nil {
			return err
		}

		switch j.Status() {
		case job.StatusDone:
			res, err := j.Result()
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "done %s\n", j.Name())
			fmt.Fprint(cmd.OutOrStdout(), res)
			return nil
		default:
			color.New(color.FgRed).Fprintf(cmd.ErrOrStderr(), "%s %s\n", j.Status(), j.Name())
			return j.Err()
		}
	})
}
