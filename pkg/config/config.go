package config

import "time"

// Server defaults
const (
	DefaultPort        = "8080"
	DefaultMaxMemoryMB = 48
)

// Background intervals
const (
	BadgerGCInterval       = 10 * time.Minute
	DefaultScheduleEvery   = 1 * time.Minute
	UpdateMonitorInterval  = 1 * time.Minute
	DefaultShutdownTimeout = 10 * time.Second
)

// Pipeline defaults
const (
	DefaultRealtime           = 600 * time.Second
	DefaultUpdateLimit        = 10
	DefaultAllowedBadFraction = 0.1
	DefaultTransform          = "identity"
)

// HTTP timeouts and limits
const (
	RequestTimeout    = 30 * time.Second
	ReadHeaderTimeout = 5 * time.Second
	MaxRequestWindow  = 120 * 24 * time.Hour // longer than the sqdist warm-up
	MaxRequestBodyMB  = 64
)

// Retry budget for scheduled invocations
const (
	RetryInitialInterval = 1 * time.Second
	RetryMaxInterval     = 30 * time.Second
	RetryMaxElapsed      = 2 * time.Minute
)

// Source kinds
const (
	SourceMemory = "memory"
	SourceBadger = "badger"
	SourceRemote = "remote"
)

// State store kinds
const (
	StateFile   = "file"
	StateBadger = "badger"
	StateSQLite = "sqlite"
)
