package config

import (
	"time"

	"github.com/GateWarden/GateWarden/internal/logger"
)

// Config overall data structure.
type Config struct {
	DevMode   bool // enable dev mode for development
	DB        DB
	Log       logger.Log
	Title     string
	Webserver Webserver
	Sync      Sync
}

// Webserver implement webserver settings for the operational API.
type Webserver struct {
	Domain         string // domain name for the webserver
	Port           int    // listening port for the webserver
	ShutDownTime   int    // wait time for shutdown
	URL            string // base url for the webserver
	DisableRecover bool   // disable recover middleware
}

// Sync holds the directory synchronization engine settings.
type Sync struct {
	// IntervalSeconds between two scheduled runs of the same connection.
	IntervalSeconds int
	// Workers is the number of concurrent per-connection sync runs.
	Workers int
	// PageSize requested from provider list endpoints.
	PageSize int
	// BatchSize is the chunk size for batch detail resolution.
	BatchSize int
	// DisableThreshold is the number of consecutive failed runs after
	// which a connection is auto-disabled.
	DisableThreshold int
	// TokenExpiryMarginSeconds refreshes cached access tokens this many
	// seconds before their reported expiry.
	TokenExpiryMarginSeconds int
}

// Interval returns the scheduling interval as a duration.
func (s Sync) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// TokenExpiryMargin returns the token refresh safety margin as a duration.
func (s Sync) TokenExpiryMargin() time.Duration {
	return time.Duration(s.TokenExpiryMarginSeconds) * time.Second
}
