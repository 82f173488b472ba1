// Package remote implements storage.Source over HTTP against a service
// speaking the timeseries wire format served by pkg/server.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nicktill/geomag/pkg/domain"
	"github.com/nicktill/geomag/pkg/storage"
	"github.com/nicktill/geomag/pkg/timeseries"
)

// TimeseriesPath is the endpoint path relative to the base URL.
const TimeseriesPath = "/v1/timeseries"

// Config configures the client.
type Config struct {
	// Endpoint is the service base URL, e.g. http://localhost:8080
	Endpoint string
	// APIKey is sent as a bearer token when set.
	APIKey string
	// Timeout per request (0 = 30s)
	Timeout time.Duration
}

// Source is an HTTP data source.
type Source struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// New creates an HTTP data source.
func New(cfg Config) (*Source, error) {
	if cfg.Endpoint == "" {
		return nil, domain.NewConfigurationError("remote source needs an endpoint")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Source{
		endpoint: strings.TrimRight(cfg.Endpoint, "/") + TimeseriesPath,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Get fetches channels over [start, end]. The response is padded locally so
// that a server returning short channels still satisfies the contract.
func (s *Source) Get(ctx context.Context, start, end time.Time, sel storage.Selector, channels []string) (*timeseries.TimeSeries, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	url := s.endpoint + "?" + storage.EncodeQuery(start, end, sel, channels).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var body storage.WireSeries
	if err := s.do(req, &body); err != nil {
		return nil, domain.NewDataUnavailableError("get "+sel.Observatory, err)
	}

	got, _, err := storage.Decode(body)
	if err != nil {
		return nil, domain.NewDataUnavailableError("decode "+sel.Observatory, err)
	}

	out := timeseries.New()
	for _, name := range channels {
		c, ok := got.Get(name)
		if !ok {
			out.Add(timeseries.Empty(name, start, end, sel.Period, sel.Attrs()))
			continue
		}
		out.Add(timeseries.PadTrim(c, start, end))
	}
	return out, nil
}

// Put sends the named channels. Missing samples travel as null and are
// ignored by the server.
func (s *Source) Put(ctx context.Context, ts *timeseries.TimeSeries, sel storage.Selector, channels []string) error {
	if err := sel.Validate(); err != nil {
		return err
	}

	jsonData, err := json.Marshal(storage.Encode(ts, sel, channels))
	if err != nil {
		return fmt.Errorf("failed to marshal timeseries: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if err := s.do(req, nil); err != nil {
		return domain.NewDataUnavailableError("put "+sel.Observatory, err)
	}
	return nil
}

func (s *Source) do(req *http.Request, out any) error {
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
