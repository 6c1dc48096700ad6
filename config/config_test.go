package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalando/indexroutes/indexclient"
	"github.com/zalando/indexroutes/query"
)

func TestEnvOverrides_IndexPassword(t *testing.T) {
	for _, tt := range []struct {
		name string
		args []string
		env  string
		want string
	}{
		{
			name: "don't set index password either from file nor environment",
			args: []string{"indexroutes"},
			want: "",
		},
		{
			name: "set index password from environment",
			args: []string{"indexroutes"},
			env:  "set_from_env",
			want: "set_from_env",
		},
		{
			name: "set index password from config file and ignore environment",
			args: []string{"indexroutes", "-config-file=testdata/test.yaml"},
			env:  "set_from_env",
			want: "set_from_file",
		},
		{
			name: "set index password by flag and ignore environment",
			args: []string{"indexroutes", "-index-password=set_from_flag"},
			env:  "set_from_env",
			want: "set_from_flag",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if tt.env != "" {
				t.Setenv(indexPasswordEnv, tt.env)
			}

			cfg := NewConfig()
			require.NoError(t, cfg.ParseArgs(tt.args[0], tt.args[1:]))
			assert.Equal(t, tt.want, cfg.IndexPassword)
		})
	}
}

func defaultConfig(with func(*Config)) *Config {
	cfg := &Config{
		Address:                   ":9090",
		SupportListener:           ":9911",
		IndexURLs:                 commaListFlag(),
		IndexTimeout:              indexclient.DefaultTimeout,
		ContextName:               "teraserver",
		Interval:                  newIntervalFlag(defaultInterval),
		DefaultQuerySize:          query.DefaultSize,
		MaxQuerySize:              query.DefaultMaxSize,
		ApplicationLogLevel:       log.InfoLevel,
		ApplicationLogLevelString: "INFO",
		ApplicationLogPrefix:      "[APP]",
		MetricsFlavour:            commaListFlag("codahale", "prometheus"),
		MetricsPrefix:             "indexroutes.",
		EnableRuntimeMetrics:      true,
		HistogramMetricBuckets:    prometheus.DefBuckets,
		OpenTracing:               "noop",
	}

	if with != nil {
		with(cfg)
	}

	return cfg
}

func listValue(f *listFlag, v string) *listFlag {
	if err := f.Set(v); err != nil {
		panic(err)
	}

	return f
}

func intervalValue(v string) *intervalFlag {
	f := newIntervalFlag(defaultInterval)
	if err := f.Set(v); err != nil {
		panic(err)
	}

	return f
}

func Test_NewConfigWithArgs(t *testing.T) {
	for _, tt := range []struct {
		name    string
		args    []string
		want    *Config
		wantErr bool
	}{
		{
			name: "defaults",
			args: []string{"indexroutes"},
			want: defaultConfig(nil),
		},
		{
			name: "flags",
			args: []string{
				"indexroutes",
				"-index-urls=http://es1:9200,http://es2:9200",
				"-context-name=myctx",
				"-interval=2500",
				"-full-response",
				"-application-log-level=DEBUG",
				"-histogram-metric-buckets=0.1, 1,10",
				"-opentracing=basic sample-modulo=2",
			},
			want: defaultConfig(func(c *Config) {
				c.IndexURLs = listValue(commaListFlag(), "http://es1:9200,http://es2:9200")
				c.ContextName = "myctx"
				c.Interval = intervalValue("2500")
				c.FullResponse = true
				c.ApplicationLogLevel = log.DebugLevel
				c.ApplicationLogLevelString = "DEBUG"
				c.HistogramMetricBucketsString = "0.1, 1,10"
				c.HistogramMetricBuckets = []float64{0.1, 1, 10}
				c.OpenTracing = "basic sample-modulo=2"
			}),
		},
		{
			name: "config file with flag override",
			args: []string{
				"indexroutes",
				"-config-file=testdata/test.yaml",
				"-address=localhost:8080",
			},
			want: defaultConfig(func(c *Config) {
				c.ConfigFile = "testdata/test.yaml"
				c.Address = "localhost:8080"
				c.IndexURLs = listValue(commaListFlag(), "http://es1.example.org:9200,http://es2.example.org:9200")
				c.IndexPassword = "set_from_file"
				c.ContextName = "myctx"
				c.Interval = intervalValue("30000")
				c.IndexTimeout = 2 * time.Second
				c.MetricsFlavour = listValue(commaListFlag("codahale", "prometheus"), "prometheus")
			}),
		},
		{
			name:    "missing config file",
			args:    []string{"indexroutes", "-config-file=testdata/missing.yaml"},
			wantErr: true,
		},
		{
			name:    "invalid interval in config file",
			args:    []string{"indexroutes", "-config-file=testdata/invalid-interval.yaml"},
			wantErr: true,
		},
		{
			name:    "negative interval in config file",
			args:    []string{"indexroutes", "-config-file=testdata/negative-interval.yaml"},
			wantErr: true,
		},
		{
			name:    "invalid interval",
			args:    []string{"indexroutes", "-interval=soon"},
			wantErr: true,
		},
		{
			name:    "unsupported metrics flavour",
			args:    []string{"indexroutes", "-metrics-flavour=statsd"},
			wantErr: true,
		},
		{
			name:    "invalid log level",
			args:    []string{"indexroutes", "-application-log-level=LOUD"},
			wantErr: true,
		},
		{
			name:    "invalid histogram buckets",
			args:    []string{"indexroutes", "-histogram-metric-buckets=1,many"},
			wantErr: true,
		},
		{
			name:    "unsupported tracer",
			args:    []string{"indexroutes", "-opentracing=jaeger"},
			wantErr: true,
		},
		{
			name:    "empty context",
			args:    []string{"indexroutes", "-context-name="},
			wantErr: true,
		},
		{
			name:    "extra arguments",
			args:    []string{"indexroutes", "foo"},
			wantErr: true,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			err := cfg.ParseArgs(tt.args[0], tt.args[1:])
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			if d := cmp.Diff(tt.want, cfg, cmp.AllowUnexported(listFlag{}, intervalFlag{}), cmpopts.IgnoreFields(Config{}, "Flags")); d != "" {
				t.Errorf("unexpected config:\n%s", d)
			}
		})
	}
}

func TestToOptions(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.ParseArgs("indexroutes", []string{
		"-index-urls=http://es1:9200",
		"-index-username=user",
		"-interval=1000",
		"-metrics-flavour=prometheus",
		"-access-log-disabled",
		"-opentracing=basic drop-all-logs",
	}))

	o := cfg.ToOptions()
	assert.Equal(t, []string{"http://es1:9200"}, o.IndexURLs)
	assert.Equal(t, "user", o.IndexUsername)
	assert.Equal(t, time.Second, o.Interval)
	assert.Equal(t, "teraserver", o.ContextName)
	assert.Equal(t, []string{"prometheus"}, o.MetricsFlavours)
	assert.True(t, o.AccessLogDisabled)
	assert.Equal(t, []string{"basic", "drop-all-logs"}, o.OpenTracing)
	assert.Equal(t, log.InfoLevel, o.ApplicationLogLevel)
}
