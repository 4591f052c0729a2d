// Package wps implements the asynchronous export flow against a GeoServer
// WPS endpoint: capability probing for the download processes, job
// submission, and execution status polling.
package wps

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Well-known process identifiers probed on the target server. Both must be
// present for the asynchronous strategy to be usable.
const (
	ProcessEstimator = "gs:DownloadEstimator"
	ProcessDownload  = "gs:Download"
)

// maxResponseSize bounds OGC XML responses read into memory.
const maxResponseSize = 4 << 20 // 4 MB

// Client issues WPS requests against GeoServer endpoints.
type Client struct {
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a WPS client. The timeout is the hard upper bound for
// every request; it is a failure, never a retry trigger.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: slog.With("component", "wps"),
	}
}

// Capability is the outcome of a capability probe.
type Capability struct {
	Supported bool
	Missing   []string // identifiers absent from the process description
}

// DescribeProcesses probes the endpoint for the estimator and download
// processes. Any transport or parse failure reports unsupported rather than
// an error: the probe fails open to the synchronous path and never blocks
// the user.
func (c *Client) DescribeProcesses(ctx context.Context, endpoint string) Capability {
	reqURL, err := describeURL(endpoint)
	if err != nil {
		c.logger.Warn("Capability probe skipped, bad endpoint", "endpoint", endpoint, "error", err)
		return Capability{Missing: []string{ProcessEstimator, ProcessDownload}}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Capability{Missing: []string{ProcessEstimator, ProcessDownload}}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Info("Capability probe failed", "endpoint", endpoint, "error", err)
		return Capability{Missing: []string{ProcessEstimator, ProcessDownload}}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil || resp.StatusCode != http.StatusOK {
		return Capability{Missing: []string{ProcessEstimator, ProcessDownload}}
	}

	var desc processDescriptions
	if err := xml.Unmarshal(body, &desc); err != nil {
		c.logger.Info("Capability probe returned unparseable description", "endpoint", endpoint, "error", err)
		return Capability{Missing: []string{ProcessEstimator, ProcessDownload}}
	}

	found := make(map[string]bool, len(desc.Processes))
	for _, p := range desc.Processes {
		found[p.Identifier] = true
	}

	var missing []string
	for _, id := range []string{ProcessEstimator, ProcessDownload} {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return Capability{Supported: len(missing) == 0, Missing: missing}
}

type processDescriptions struct {
	Processes []struct {
		Identifier string `xml:"Identifier"`
	} `xml:"ProcessDescription"`
}

func describeURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("service", "WPS")
	q.Set("version", "1.0.0")
	q.Set("request", "DescribeProcess")
	q.Set("identifier", ProcessEstimator+","+ProcessDownload)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
