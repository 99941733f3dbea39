package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jnesss/pressurize/logging"
	"github.com/jnesss/pressurize/metrics"
	"github.com/jnesss/pressurize/platform"
	"github.com/jnesss/pressurize/sampler"
	"github.com/jnesss/pressurize/series"
	"github.com/jnesss/pressurize/types"
)

const (
	defaultMetricPrefix = "pressurize"
	envPrefix           = "PRESSURIZE_"
)

// Config is the resolved configuration of a sampling run
type Config struct {
	Counters        []string      `yaml:"counters"`
	SamplePeriod    uint64        `yaml:"sample_period"`
	Interval        time.Duration `yaml:"interval"`
	Retention       time.Duration `yaml:"retention"`
	Duration        time.Duration `yaml:"duration"`
	EmitFirstSample bool          `yaml:"emit_first_sample"`
	MetricPrefix    string        `yaml:"metric_prefix"`
	StatsdAddr      string        `yaml:"statsd_addr"`
	Tags            []string      `yaml:"tags"`
	JournalDir      string        `yaml:"journal_dir"`
	Listen          string        `yaml:"listen"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
}

func defaultConfig() *Config {
	return &Config{
		Counters:     []string{types.CounterInstructions.String()},
		SamplePeriod: platform.DefaultSamplePeriod,
		Interval:     sampler.DefaultInterval,
		Retention:    series.DefaultRetention,
		MetricPrefix: defaultMetricPrefix,
		StatsdAddr:   metrics.DefaultStatsdAddr,
		LogLevel:     "info",
		LogFormat:    "auto",
	}
}

// lookupFunc reads one environment variable
type lookupFunc func(key string) (string, bool)

// loadConfig resolves defaults, then the YAML file, then the environment.
// Values from envFile only apply to variables the process environment does
// not already set.
func loadConfig(configPath, envFile string, lookup lookupFunc) (*Config, error) {
	cfg := defaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if envFile != "" {
		fileEnv, err := godotenv.Read(envFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read env file: %w", err)
		}
		lookup = withFallback(lookup, fileEnv)
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withFallback(lookup lookupFunc, fallback map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := fallback[key]
		return v, ok
	}
}

func applyEnv(cfg *Config, lookup lookupFunc) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(name)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}

	if v, ok := get(envPrefix + "COUNTERS"); ok {
		cfg.Counters = splitList(v)
	}
	if v, ok := get(envPrefix + "SAMPLE_PERIOD"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %sSAMPLE_PERIOD %q: %w", envPrefix, v, err)
		}
		cfg.SamplePeriod = n
	}
	for name, dst := range map[string]*time.Duration{
		"INTERVAL":  &cfg.Interval,
		"RETENTION": &cfg.Retention,
		"DURATION":  &cfg.Duration,
	} {
		if v, ok := get(envPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s %q: %w", envPrefix, name, v, err)
			}
			*dst = d
		}
	}
	if v, ok := get(envPrefix + "EMIT_FIRST_SAMPLE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sEMIT_FIRST_SAMPLE %q: %w", envPrefix, v, err)
		}
		cfg.EmitFirstSample = b
	}
	if v, ok := get(envPrefix + "METRIC_PREFIX"); ok {
		cfg.MetricPrefix = v
	}
	if v, ok := get(envPrefix + "STATSD_ADDR"); ok {
		cfg.StatsdAddr = v
	}
	if v, ok := get(envPrefix + "TAGS"); ok {
		cfg.Tags = splitList(v)
	}
	if v, ok := get(envPrefix + "JOURNAL_DIR"); ok {
		cfg.JournalDir = v
	}
	if v, ok := get(envPrefix + "LISTEN"); ok {
		cfg.Listen = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		cfg.LogFormat = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration and returns the counters to sample,
// deduplicated in configured order.
func (c *Config) Validate() ([]types.Counter, error) {
	var errs []error
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", c.Interval))
	}
	if c.Retention <= 0 {
		errs = append(errs, fmt.Errorf("retention must be positive, got %s", c.Retention))
	}
	if c.Duration < 0 {
		errs = append(errs, fmt.Errorf("duration must not be negative, got %s", c.Duration))
	}
	if c.SamplePeriod == 0 {
		errs = append(errs, errors.New("sample period must be positive"))
	}
	if strings.TrimSpace(c.MetricPrefix) == "" {
		errs = append(errs, errors.New("metric prefix must not be empty"))
	}
	if !logging.ValidLevel(c.LogLevel) {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	for _, tag := range c.Tags {
		if strings.TrimSpace(tag) == "" {
			errs = append(errs, errors.New("tags must not be empty"))
			break
		}
	}

	var counters []types.Counter
	seen := make(map[types.Counter]bool)
	for _, name := range c.Counters {
		counter, err := types.ParseCounter(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !seen[counter] {
			seen[counter] = true
			counters = append(counters, counter)
		}
	}
	if len(c.Counters) == 0 {
		errs = append(errs, errors.New("at least one counter is required"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return counters, nil
}

// metricName is the statsd metric counter is emitted under
func (c *Config) metricName(counter types.Counter) string {
	return strings.TrimSuffix(c.MetricPrefix, ".") + "." + counter.MetricSuffix()
}
