package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jnesss/pressurize/logging"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// runFlags holds command-line overrides; only flags the user set are applied
type runFlags struct {
	configPath      string
	envFile         string
	counters        []string
	samplePeriod    uint64
	interval        time.Duration
	retention       time.Duration
	duration        time.Duration
	emitFirstSample bool
	metricPrefix    string
	statsdAddr      string
	tags            []string
	journalDir      string
	listen          string
	logLevel        string
	logFormat       string
}

var flags runFlags

var rootCmd = &cobra.Command{
	Use:   "pressurize",
	Short: "Per-process hardware counter sampler",
	Long: `Samples hardware performance counters per (cpu, pid, command) through BPF
and reports the per-interval increase of each series to statsd`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runCommand,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sample counters until interrupted (default command)",
	RunE:  runCommand,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pressurize %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

var dmaLatency int32

var dmaLatencyCmd = &cobra.Command{
	Use:   "dma-latency",
	Short: "Hold a CPU DMA latency request until interrupted",
	Long: `Writes the requested latency in microseconds to /dev/cpu_dma_latency and keeps
the file open, which keeps CPUs out of deep idle states until the command exits`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := logging.Init(logging.Config{
			Level:     os.Getenv("LOG_LEVEL"),
			Format:    os.Getenv("LOG_FORMAT"),
			Component: "dma-latency",
		})
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return holdDMALatency(ctx, dmaLatencyPath, dmaLatency, logger)
	},
}

func addRunFlags(fs *pflag.FlagSet, f *runFlags) {
	fs.StringVar(&f.configPath, "config", "", "Path to YAML configuration file")
	fs.StringVar(&f.envFile, "env-file", "", "Path to a .env file with PRESSURIZE_* variables")
	fs.StringSliceVar(&f.counters, "counter", nil, "Counter to sample: instructions, cache-references, cache-misses (repeatable)")
	fs.Uint64Var(&f.samplePeriod, "sample-period", 0, "Perf event sample period")
	fs.DurationVar(&f.interval, "interval", 0, "Tick interval")
	fs.DurationVar(&f.retention, "retention", 0, "Drop series unseen for this long")
	fs.DurationVar(&f.duration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	fs.BoolVar(&f.emitFirstSample, "emit-first-sample", false, "Emit a series' first cumulative value as its first delta")
	fs.StringVar(&f.metricPrefix, "metric-prefix", "", "Metric name prefix")
	fs.StringVar(&f.statsdAddr, "statsd-addr", "", "DogStatsD address (host:port or unix:///path)")
	fs.StringArrayVar(&f.tags, "tag", nil, "Extra key:value tag on every metric (repeatable)")
	fs.StringVar(&f.journalDir, "journal-dir", "", "Directory for the SQLite anomaly and tick journal")
	fs.StringVar(&f.listen, "listen", "", "Address for the HTTP status server")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format: auto, console, json")
}

// applyFlags overrides cfg with every flag set on the command line
func applyFlags(fs *pflag.FlagSet, f *runFlags, cfg *Config) {
	if fs.Changed("counter") {
		cfg.Counters = f.counters
	}
	if fs.Changed("sample-period") {
		cfg.SamplePeriod = f.samplePeriod
	}
	if fs.Changed("interval") {
		cfg.Interval = f.interval
	}
	if fs.Changed("retention") {
		cfg.Retention = f.retention
	}
	if fs.Changed("duration") {
		cfg.Duration = f.duration
	}
	if fs.Changed("emit-first-sample") {
		cfg.EmitFirstSample = f.emitFirstSample
	}
	if fs.Changed("metric-prefix") {
		cfg.MetricPrefix = f.metricPrefix
	}
	if fs.Changed("statsd-addr") {
		cfg.StatsdAddr = f.statsdAddr
	}
	if fs.Changed("tag") {
		cfg.Tags = f.tags
	}
	if fs.Changed("journal-dir") {
		cfg.JournalDir = f.journalDir
	}
	if fs.Changed("listen") {
		cfg.Listen = f.listen
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(flags.configPath, flags.envFile, os.LookupEnv)
	if err != nil {
		return err
	}
	applyFlags(cmd.Flags(), &flags, cfg)

	counters, err := cfg.Validate()
	if err != nil {
		return err
	}

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runSampler(ctx, cfg, counters, logger)
}

func init() {
	addRunFlags(rootCmd.Flags(), &flags)
	addRunFlags(runCmd.Flags(), &flags)
	dmaLatencyCmd.Flags().Int32Var(&dmaLatency, "latency", 0, "Requested latency in microseconds")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(dmaLatencyCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
