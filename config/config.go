package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/zalando/indexroutes"
	"github.com/zalando/indexroutes/indexclient"
	"github.com/zalando/indexroutes/query"
	"github.com/zalando/indexroutes/tracing"
)

const (
	indexPasswordEnv = "INDEX_PASSWORD"
	defaultInterval  = 600000
)

type Config struct {
	ConfigFile string
	Flags      *flag.FlagSet

	// generic:
	Address         string `yaml:"address"`
	SupportListener string `yaml:"support-listener"`

	// index service:
	IndexURLs     *listFlag     `yaml:"index-urls"`
	IndexUsername string        `yaml:"index-username"`
	IndexPassword string        `yaml:"index-password"`
	IndexTimeout  time.Duration `yaml:"index-timeout"`
	FullResponse  bool          `yaml:"full-response"`

	// endpoints:
	ContextName      string        `yaml:"context-name"`
	Interval         *intervalFlag `yaml:"interval"`
	DefaultQuerySize int           `yaml:"default-query-size"`
	MaxQuerySize     int           `yaml:"max-query-size"`

	// logging:
	ApplicationLog            string    `yaml:"application-log"`
	ApplicationLogLevel       log.Level `yaml:"-"`
	ApplicationLogLevelString string    `yaml:"application-log-level"`
	ApplicationLogPrefix      string    `yaml:"application-log-prefix"`
	ApplicationLogJSONEnabled bool      `yaml:"application-log-json-enabled"`
	AccessLog                 string    `yaml:"access-log"`
	AccessLogDisabled         bool      `yaml:"access-log-disabled"`
	AccessLogJSONEnabled      bool      `yaml:"access-log-json-enabled"`

	// metrics, tracing:
	MetricsFlavour               *listFlag `yaml:"metrics-flavour"`
	MetricsPrefix                string    `yaml:"metrics-prefix"`
	EnableRuntimeMetrics         bool      `yaml:"runtime-metrics"`
	HistogramMetricBucketsString string    `yaml:"histogram-metric-buckets"`
	HistogramMetricBuckets       []float64 `yaml:"-"`
	OpenTracing                  string    `yaml:"opentracing"`
}

func NewConfig() *Config {
	cfg := new(Config)
	cfg.IndexURLs = commaListFlag()
	cfg.Interval = newIntervalFlag(defaultInterval)
	cfg.MetricsFlavour = commaListFlag("codahale", "prometheus")

	flag := flag.NewFlagSet("", flag.ExitOnError)
	flag.StringVar(&cfg.ConfigFile, "config-file", "", "if provided the flags will be loaded/overwritten by the values on the file (yaml)")

	// generic:
	flag.StringVar(&cfg.Address, "address", ":9090", "network address that the endpoints are served on")
	flag.StringVar(&cfg.SupportListener, "support-listener", ":9911", "network address used for exposing the /metrics and /health endpoints. An empty value disables support endpoint.")

	// index service:
	flag.Var(cfg.IndexURLs, "index-urls", "comma separated list of the URLs of the index service, default: "+indexclient.DefaultURL)
	flag.StringVar(&cfg.IndexUsername, "index-username", "", "username for the basic authentication to the index service")
	flag.StringVar(&cfg.IndexPassword, "index-password", "", "password for the basic authentication to the index service, can be set with the "+indexPasswordEnv+" environment variable")
	flag.DurationVar(&cfg.IndexTimeout, "index-timeout", indexclient.DefaultTimeout, "timeout of a single request to the index service")
	flag.BoolVar(&cfg.FullResponse, "full-response", false, "when set, searches return the full response of the index service instead of the source documents")

	// endpoints:
	flag.StringVar(&cfg.ContextName, "context-name", "teraserver", "name of the context, the endpoint configurations are stored in the <context-name>__endpoints index")
	flag.Var(cfg.Interval, "interval", "time in milliseconds, used to determine when to check updates for changes")
	flag.IntVar(&cfg.DefaultQuerySize, "default-query-size", query.DefaultSize, "number of the returned documents when a request does not set the size")
	flag.IntVar(&cfg.MaxQuerySize, "max-query-size", query.DefaultMaxSize, "maximum number of the returned documents, when the endpoint does not set max_size")

	// logging:
	flag.StringVar(&cfg.ApplicationLog, "application-log", "", "output file for the application log. When not set, /dev/stderr is used")
	flag.StringVar(&cfg.ApplicationLogLevelString, "application-log-level", "INFO", "log level for application logs, possible values: PANIC, FATAL, ERROR, WARN, INFO, DEBUG")
	flag.StringVar(&cfg.ApplicationLogPrefix, "application-log-prefix", "[APP]", "prefix for each log entry")
	flag.BoolVar(&cfg.ApplicationLogJSONEnabled, "application-log-json-enabled", false, "when this flag is set, log in JSON format is used")
	flag.StringVar(&cfg.AccessLog, "access-log", "", "output file for the access log, When not set, /dev/stderr is used")
	flag.BoolVar(&cfg.AccessLogDisabled, "access-log-disabled", false, "when this flag is set, no access log is printed")
	flag.BoolVar(&cfg.AccessLogJSONEnabled, "access-log-json-enabled", false, "when this flag is set, log in JSON format is used")

	// metrics, tracing:
	flag.Var(cfg.MetricsFlavour, "metrics-flavour", "Metrics flavour is used to change the exposed metrics format. Supported metric formats: 'codahale' and 'prometheus', you can select both of them by using one option with ',' separated values")
	flag.StringVar(&cfg.MetricsPrefix, "metrics-prefix", "indexroutes.", "allows setting a custom path prefix for the codahale metrics")
	flag.BoolVar(&cfg.EnableRuntimeMetrics, "runtime-metrics", true, "enables Go runtime metrics collection")
	flag.StringVar(&cfg.HistogramMetricBucketsString, "histogram-metric-buckets", "", "use custom buckets for prometheus histograms, must be a comma-separated list of numbers")
	flag.StringVar(&cfg.OpenTracing, "opentracing", "noop", "list of arguments for opentracing (space separated), first argument is the tracer implementation")

	cfg.Flags = flag
	return cfg
}

func validate(c *Config) error {
	_, err := log.ParseLevel(c.ApplicationLogLevelString)
	if err != nil {
		return err
	}

	if c.ContextName == "" {
		return fmt.Errorf("missing context name")
	}

	if c.IndexTimeout <= 0 {
		return fmt.Errorf("invalid index timeout: %v", c.IndexTimeout)
	}

	if c.DefaultQuerySize < 0 || c.MaxQuerySize < 0 {
		return fmt.Errorf("query sizes must not be negative")
	}

	if _, err := tracing.InitTracer(strings.Split(c.OpenTracing, " ")); err != nil {
		return fmt.Errorf("invalid opentracing arguments: %w", err)
	}

	_, err = c.parseHistogramBuckets(c.HistogramMetricBucketsString, prometheus.DefBuckets)
	return err
}

func (c *Config) Parse() error {
	return c.ParseArgs(os.Args[0], os.Args[1:])
}

func (c *Config) ParseArgs(progname string, args []string) error {
	c.Flags.Init(progname, flag.ContinueOnError)
	err := c.Flags.Parse(args)
	if err != nil {
		return err
	}

	// check if arguments were correctly parsed.
	if len(c.Flags.Args()) != 0 {
		return fmt.Errorf("invalid arguments: %s", c.Flags.Args())
	}

	if c.ConfigFile != "" {
		yamlFile, err := os.ReadFile(c.ConfigFile)
		if err != nil {
			return fmt.Errorf("invalid config file: %w", err)
		}

		err = yaml.Unmarshal(yamlFile, c)
		if err != nil {
			return fmt.Errorf("unmarshalling config file error: %w", err)
		}

		err = c.Flags.Parse(args)
		if err != nil {
			return err
		}
	}

	if err := validate(c); err != nil {
		return err
	}

	c.ApplicationLogLevel, _ = log.ParseLevel(c.ApplicationLogLevelString)
	c.HistogramMetricBuckets, _ = c.parseHistogramBuckets(c.HistogramMetricBucketsString, prometheus.DefBuckets)

	c.parseEnv()
	return nil
}

func (c *Config) ToOptions() indexroutes.Options {
	return indexroutes.Options{
		Address:         c.Address,
		SupportListener: c.SupportListener,

		IndexURLs:     c.IndexURLs.values,
		IndexUsername: c.IndexUsername,
		IndexPassword: c.IndexPassword,
		IndexTimeout:  c.IndexTimeout,
		FullResponse:  c.FullResponse,

		ContextName:      c.ContextName,
		Interval:         c.Interval.Duration(),
		DefaultQuerySize: c.DefaultQuerySize,
		MaxQuerySize:     c.MaxQuerySize,

		ApplicationLogOutput:      c.ApplicationLog,
		ApplicationLogLevel:       c.ApplicationLogLevel,
		ApplicationLogPrefix:      c.ApplicationLogPrefix,
		ApplicationLogJSONEnabled: c.ApplicationLogJSONEnabled,
		AccessLogOutput:           c.AccessLog,
		AccessLogDisabled:         c.AccessLogDisabled,
		AccessLogJSONEnabled:      c.AccessLogJSONEnabled,

		MetricsFlavours:        c.MetricsFlavour.values,
		MetricsPrefix:          c.MetricsPrefix,
		EnableRuntimeMetrics:   c.EnableRuntimeMetrics,
		HistogramMetricBuckets: c.HistogramMetricBuckets,
		OpenTracing:            strings.Split(c.OpenTracing, " "),
	}
}

func (c *Config) parseHistogramBuckets(bucketString string, defaultBuckets []float64) ([]float64, error) {
	if bucketString == "" {
		return defaultBuckets, nil
	}

	var result []float64
	thresholds := strings.Split(bucketString, ",")
	for _, v := range thresholds {
		bucket, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("unable to parse histogram-metric-buckets: %w", err)
		}

		result = append(result, bucket)
	}

	return result, nil
}

func (c *Config) parseEnv() {
	// Set index password from environment variable if not set in the
	// config file or by flag
	if c.IndexPassword == "" {
		c.IndexPassword = os.Getenv(indexPasswordEnv)
	}
}
