// Package parex defines the globals of the module.
//
// It exposes the logger instance shared by the components of the execution
// engine, as well as the list of Prometheus collectors that an application
// embedding the engine can register to its own registry.
package parex

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var logout = zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.RFC3339,
}

// Logger is a globally available logger instance.
var Logger = zerolog.New(logout).
	With().Timestamp().Logger().
	With().Caller().Logger().
	Level(zerolog.WarnLevel)

// PromCollectors exposes the Prometheus collectors created in the module. It
// is the responsibility of the embedding application to register them.
var PromCollectors []prometheus.Collector
