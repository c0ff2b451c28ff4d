// Package votechain casts votes on a ledger-hosted poll contract and keeps a
// live read model of the results.
//
// The root package only holds the process-wide logger and the list of
// Prometheus collectors that components append to at init time.
package votechain

import (
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// EnvLogLevel is the name of the environment variable to change the logging
// level.
const EnvLogLevel = "LLVL"

const defaultLevel = zerolog.InfoLevel

var logout = zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.RFC3339,
}

// Logger is a globally available logger instance. By default, it only prints
// info level logs and above. The level can be changed with the LLVL
// environment variable.
var Logger = zerolog.New(logout).Level(levelFromEnv()).
	With().Timestamp().Logger().
	With().Caller().Logger()

// PromCollectors exposes the Prometheus collectors created by the packages.
// They are registered by the node when the metrics route is enabled.
var PromCollectors []prometheus.Collector

func levelFromEnv() zerolog.Level {
	switch strings.ToLower(os.Getenv(EnvLogLevel)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "none":
		return zerolog.Disabled
	default:
		return defaultLevel
	}
}
