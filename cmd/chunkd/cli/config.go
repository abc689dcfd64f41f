package cli

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config mirrors the teacher's package-level Flags struct (cmd/tusd/cli/flags.go),
// but values are bound through viper instead of the stdlib flag package so that
// every setting can also be supplied via CHUNKD_* environment variables. No
// config file is read.
type Config struct {
	Host string
	Port int

	DataDir    string
	HistoryCap int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	ShutdownTimeout time.Duration

	ShowGreeting  bool
	ExposeMetrics bool
	MetricsPath   string

	LogFormat string
	LogLevel  string
}

func bindConfigFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.Flags()

	flags.String("host", "0.0.0.0", "host to bind the HTTP server to")
	flags.Int("port", 8080, "port to bind the HTTP server to")

	flags.String("data-dir", "./data", "directory holding scratch parts, assembled files and state.json")
	flags.Int("history-cap", 200, "maximum number of completed-upload history entries retained per user")

	flags.Duration("read-timeout", 0, "per-connection read timeout; 0 disables the deadline")
	flags.Duration("write-timeout", 0, "per-connection write timeout; 0 disables the deadline")
	flags.Duration("shutdown-timeout", 10*time.Second, "time allowed for in-flight requests to finish during shutdown")

	flags.Bool("show-greeting", true, "serve a greeting banner at /")
	flags.Bool("expose-metrics", true, "expose Prometheus metrics at /metrics")
	flags.String("metrics-path", "/metrics", "path the Prometheus handler is mounted at")

	flags.String("log-format", "text", "log output format: text or json")
	flags.String("log-level", "info", "log level: debug, info, warn or error")

	_ = v.BindPFlags(flags)
}

func loadConfig(v *viper.Viper) Config {
	return Config{
		Host:            v.GetString("host"),
		Port:            v.GetInt("port"),
		DataDir:         v.GetString("data-dir"),
		HistoryCap:      v.GetInt("history-cap"),
		ReadTimeout:     v.GetDuration("read-timeout"),
		WriteTimeout:    v.GetDuration("write-timeout"),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),
		ShowGreeting:    v.GetBool("show-greeting"),
		ExposeMetrics:   v.GetBool("expose-metrics"),
		MetricsPath:     v.GetString("metrics-path"),
		LogFormat:       v.GetString("log-format"),
		LogLevel:        v.GetString("log-level"),
	}
}

// newViper sets up the CHUNKD_ environment-variable prefix and dash-to-
// underscore key replacement, so e.g. --history-cap can also be set via
// CHUNKD_HISTORY_CAP, the same ergonomics the teacher's flags offer through
// plain flag.StringVar, extended to environment-driven deployments.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("chunkd")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}
