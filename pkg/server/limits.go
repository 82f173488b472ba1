package server

import (
	"time"

	"github.com/nicktill/geomag/pkg/domain"
	"github.com/nicktill/geomag/pkg/storage"
)

// Request validation limits
const (
	MaxChannelsPerRequest = 64
	MaxSamplesPerRequest  = 5_000_000
	MaxChannelNameLength  = 64
)

// ValidateWindow checks a GET request against the sample budget.
func ValidateWindow(start, end time.Time, period time.Duration, channels []string, maxWindow time.Duration) error {
	if len(channels) > MaxChannelsPerRequest {
		return domain.NewConfigurationError("too many channels: %d (max %d)", len(channels), MaxChannelsPerRequest)
	}
	if maxWindow > 0 && end.Sub(start) > maxWindow {
		return domain.NewConfigurationError("window %v exceeds %v", end.Sub(start), maxWindow)
	}
	if period <= 0 {
		return domain.NewConfigurationError("no sample period")
	}
	samples := (int64(end.Sub(start)/period) + 1) * int64(len(channels))
	if samples > MaxSamplesPerRequest {
		return domain.NewConfigurationError("request covers %d samples (max %d)", samples, MaxSamplesPerRequest)
	}
	return nil
}

// ValidateSeries checks a POST body.
func ValidateSeries(ws storage.WireSeries) error {
	if len(ws.Channels) == 0 {
		return domain.NewConfigurationError("no channels in request")
	}
	if len(ws.Channels) > MaxChannelsPerRequest {
		return domain.NewConfigurationError("too many channels: %d (max %d)", len(ws.Channels), MaxChannelsPerRequest)
	}
	total := 0
	seen := make(map[string]bool, len(ws.Channels))
	for _, c := range ws.Channels {
		if len(c.Name) > MaxChannelNameLength {
			return domain.NewConfigurationError("channel name too long (max %d chars)", MaxChannelNameLength)
		}
		if seen[c.Name] {
			return domain.NewConfigurationError("duplicate channel %q", c.Name)
		}
		seen[c.Name] = true
		total += len(c.Values)
	}
	if total > MaxSamplesPerRequest {
		return domain.NewConfigurationError("request carries %d samples (max %d)", total, MaxSamplesPerRequest)
	}
	return nil
}
