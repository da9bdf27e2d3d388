package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	config "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Config"
	mqtmodels "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Models"
)

// maxErrorBody caps how much of a failed response body is kept on the error.
const maxErrorBody = 4 << 10

// SinkClient writes single line-protocol points to an InfluxDB v2 compatible
// write endpoint. One call is one POST; failures are returned, never retried.
type SinkClient struct {
	baseURL    string
	writeURL   string
	token      config.Secret
	httpClient *http.Client
}

// NewSinkClient builds the client and its write URL from configuration.
func NewSinkClient(cfg config.InfluxConfig) (*SinkClient, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid sink base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid sink base url %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &SinkClient{
		baseURL:    base.String(),
		writeURL:   WriteURL(base.String(), cfg.Organization, cfg.Bucket),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// WriteURL returns {base}/api/v2/write?org={org}&bucket={bucket}.
func WriteURL(baseURL, org, bucket string) string {
	return strings.TrimRight(baseURL, "/") + "/api/v2/write?org=" + url.QueryEscape(org) +
		"&bucket=" + url.QueryEscape(bucket)
}

// Write posts one line-protocol point. Any transport error or non-2xx
// status is a *mqtmodels.SinkWriteError.
func (c *SinkClient) Write(ctx context.Context, line string) error {
	resp, err := c.makeRequest(ctx, http.MethodPost, c.writeURL, strings.NewReader(line))
	if err != nil {
		return &mqtmodels.SinkWriteError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &mqtmodels.SinkWriteError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Health checks the sink's /health endpoint
func (c *SinkClient) Health(ctx context.Context) error {
	resp, err := c.makeRequest(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to check sink health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sink health check failed with status %d", resp.StatusCode)
	}
	return nil
}

func (c *SinkClient) makeRequest(ctx context.Context, method, target string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Token "+c.token.Expose())
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "hive-bridge")

	return c.httpClient.Do(req)
}
