// Package common holds the CLI plumbing shared by daemons: flag registration
// backed by viper, logging setup, instrumentation and process lifecycle.
package common

import (
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	golog "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/textileio/auctiond/logging"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var log = golog.Logger("auctiond/common")

// Flag describes a configuration flag. The type of DefValue selects the flag
// type. Repeatable string flags accept both repetition and comma separation.
type Flag struct {
	Name        string
	DefValue    interface{}
	Description string
	Repeatable  bool
}

// ConfigureCLI registers flags on cmd and binds each of them to v. Every flag
// can also be set with the env var ENVPREFIX_FLAG_NAME.
func ConfigureCLI(v *viper.Viper, envPrefix string, flags []Flag, cmd *cobra.Command) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	fs := cmd.Flags()
	for _, f := range flags {
		if err := register(fs, f); err != nil {
			return err
		}
		v.SetDefault(f.Name, f.DefValue)
		if err := v.BindPFlag(f.Name, fs.Lookup(f.Name)); err != nil {
			return fmt.Errorf("binding flag %s: %v", f.Name, err)
		}
	}
	return nil
}

func register(fs *pflag.FlagSet, f Flag) error {
	switch def := f.DefValue.(type) {
	case string:
		if f.Repeatable {
			fs.StringSlice(f.Name, []string{def}, f.Description)
		} else {
			fs.String(f.Name, def, f.Description)
		}
	case bool:
		fs.Bool(f.Name, def, f.Description)
	case int:
		fs.Int(f.Name, def, f.Description)
	case uint:
		fs.Uint(f.Name, def, f.Description)
	case uint64:
		fs.Uint64(f.Name, def, f.Description)
	case time.Duration:
		fs.Duration(f.Name, def, f.Description)
	default:
		return fmt.Errorf("flag %s: unsupported type %T", f.Name, f.DefValue)
	}
	return nil
}

// ExpandEnvVars expands $VAR references in string settings.
func ExpandEnvVars(v *viper.Viper, settings map[string]interface{}) {
	for name, val := range settings {
		if s, ok := val.(string); ok && strings.Contains(s, "$") {
			v.Set(name, os.ExpandEnv(s))
		}
	}
}

// ConfigureLogging sets up output and levels from the log-json, log-debug and
// log-levels settings. log-debug raises the given systems to debug, or every
// system when none are given. log-levels overrides are applied last.
func ConfigureLogging(v *viper.Viper, systems []string) error {
	if v.GetBool("log-json") {
		golog.SetupLogging(golog.Config{
			Format: golog.JSONOutput,
			Stdout: true,
		})
	}

	level := golog.LevelInfo
	if v.GetBool("log-debug") {
		level = golog.LevelDebug
	}
	levels := map[string]golog.LogLevel{"*": level}
	if len(systems) > 0 {
		levels = make(map[string]golog.LogLevel, len(systems))
		for _, s := range systems {
			levels[s] = level
		}
	}

	overrides, err := logging.ParseLevels(v.GetString("log-levels"))
	if err != nil {
		return fmt.Errorf("parsing log-levels: %v", err)
	}
	if err := logging.SetLogLevels(levels); err != nil {
		return err
	}
	return logging.SetLogLevels(overrides)
}

// ParseStringSlice returns the values of a repeatable flag, splitting each one
// on commas so env vars can carry several values.
func ParseStringSlice(v *viper.Viper, key string) []string {
	var vals []string
	for _, val := range v.GetStringSlice(key) {
		for _, part := range strings.Split(val, ",") {
			if part = strings.TrimSpace(part); part != "" {
				vals = append(vals, part)
			}
		}
	}
	return vals
}

// SetupInstrumentation installs an otel meter provider exported to Prometheus,
// serves it on addr under /metrics and starts Go runtime metrics.
func SetupInstrumentation(addr string) error {
	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("creating prometheus exporter: %v", err)
	}
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("serving metrics: %v", err)
		}
	}()

	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(time.Second)); err != nil {
		return fmt.Errorf("starting runtime metrics: %v", err)
	}
	return nil
}

// CheckErr exits if err is not nil.
func CheckErr(err error) {
	if err != nil {
		stdlog.Fatal(err)
	}
}

// CheckErrf exits with a formatted message if err is not nil.
func CheckErrf(format string, err error) {
	if err != nil {
		stdlog.Fatalf(format, err)
	}
}

// HandleInterrupt blocks until SIGINT or SIGTERM, then runs cleanup and exits.
// A second signal exits right away.
func HandleInterrupt(cleanup func()) {
	quit := make(chan os.Signal, 2)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info("shutting down, signal again to force")
	go func() {
		<-quit
		os.Exit(1)
	}()
	cleanup()
	os.Exit(0)
}
