package wps

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"geoexport/internal/apperrors"
)

// ErrExecutionGone reports that the server no longer knows the execution.
// The staleness reconciler removes ledger entries on this error.
var ErrExecutionGone = errors.New("execution no longer exists")

// ExecutionState is the coarse state of a WPS execution.
type ExecutionState string

const (
	StateRunning   ExecutionState = "running"
	StateSucceeded ExecutionState = "succeeded"
	StateFailed    ExecutionState = "failed"
)

// ExecutionStatus is a snapshot of a remote execution.
type ExecutionStatus struct {
	State         ExecutionState
	ReferenceURL  string // output reference, set when succeeded
	FailureReason string // exception text, set when failed
}

// ExecutionFromLocation extracts the service base URL and the execution id
// from a status location or stored result reference.
func ExecutionFromLocation(location string) (base, execID string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", apperrors.Export(apperrors.CodeNoExecutionID, "wps.executionStatus", err)
	}
	execID = u.Query().Get("executionId")
	if execID == "" {
		return "", "", apperrors.Export(apperrors.CodeNoExecutionID, "wps.executionStatus", nil)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), execID, nil
}

// ExecutionStatusRequest queries the status of a single execution.
// HTTP 404 -- the execution was purged server-side -- maps to
// ErrExecutionGone; every other failure carries the status-poll code.
func (c *Client) ExecutionStatusRequest(ctx context.Context, base, execID string) (ExecutionStatus, error) {
	u, err := url.Parse(base)
	if err != nil {
		return ExecutionStatus{}, apperrors.Export(apperrors.CodeStatusPollFailed, "wps.executionStatus", err)
	}
	q := u.Query()
	q.Set("service", "WPS")
	q.Set("version", "1.0.0")
	q.Set("request", "GetExecutionStatus")
	q.Set("executionId", execID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return ExecutionStatus{}, apperrors.Export(apperrors.CodeStatusPollFailed, "wps.executionStatus", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ExecutionStatus{}, apperrors.Export(apperrors.CodeStatusPollFailed, "wps.executionStatus", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ExecutionStatus{}, ErrExecutionGone
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return ExecutionStatus{}, apperrors.Export(apperrors.CodeStatusPollFailed, "wps.executionStatus", err)
	}
	if resp.StatusCode != http.StatusOK {
		return ExecutionStatus{}, apperrors.Export(apperrors.CodeStatusPollFailed, "wps.executionStatus", fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	parsed, err := parseResponse(raw)
	if err != nil {
		return ExecutionStatus{}, apperrors.Export(apperrors.CodeStatusPollFailed, "wps.executionStatus", err)
	}

	switch {
	case parsed.exception != "":
		// GeoServer answers purged executions with an exception document.
		if strings.Contains(strings.ToLower(parsed.exception), "unknown execution") {
			return ExecutionStatus{}, ErrExecutionGone
		}
		return ExecutionStatus{State: StateFailed, FailureReason: parsed.exception}, nil
	case parsed.failed != "":
		return ExecutionStatus{State: StateFailed, FailureReason: parsed.failed}, nil
	case parsed.succeeded:
		return ExecutionStatus{State: StateSucceeded, ReferenceURL: parsed.reference()}, nil
	default:
		return ExecutionStatus{State: StateRunning}, nil
	}
}

// WaitForCompletion polls the execution at a fixed interval until it reaches
// a terminal state or ctx is cancelled. A completed execution without an
// output reference is a failure, not a success.
func (c *Client) WaitForCompletion(ctx context.Context, base, execID string, interval time.Duration) (string, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.ExecutionStatusRequest(ctx, base, execID)
		if err != nil {
			return "", err
		}

		switch status.State {
		case StateSucceeded:
			if status.ReferenceURL == "" {
				return "", apperrors.Export(apperrors.CodeUnexpectedStatus, "wps.executionStatus", errors.New("succeeded without output reference"))
			}
			return status.ReferenceURL, nil
		case StateFailed:
			return "", apperrors.Export(apperrors.CodeProcessFailed, "wps.executionStatus", errors.New(status.FailureReason))
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// wpsResponse is the decoded union of the documents a WPS endpoint answers
// with: an ExecuteResponse in any of its states, or a bare ExceptionReport.
type wpsResponse struct {
	statusLocation string
	succeeded      bool
	failed         string // exception text from ProcessFailed
	exception      string // exception text from a bare ExceptionReport
	outputs        []responseOutputData
}

type responseOutputData struct {
	identifier string
	reference  string
	literal    string
}

func (r *wpsResponse) reference() string {
	for _, out := range r.outputs {
		if out.reference != "" {
			return out.reference
		}
	}
	return ""
}

func (r *wpsResponse) literal() string {
	for _, out := range r.outputs {
		if out.literal != "" {
			return out.literal
		}
	}
	return ""
}

type executeResponseDoc struct {
	XMLName        xml.Name
	StatusLocation string `xml:"statusLocation,attr"`
	Status         struct {
		ProcessSucceeded *struct{}         `xml:"ProcessSucceeded"`
		ProcessFailed    *processFailedDoc `xml:"ProcessFailed"`
	} `xml:"Status"`
	Outputs []struct {
		Identifier string `xml:"Identifier"`
		Reference  struct {
			Href string `xml:"href,attr"`
		} `xml:"Reference"`
		Literal string `xml:"Data>LiteralData"`
	} `xml:"ProcessOutputs>Output"`
	Exceptions []string `xml:"Exception>ExceptionText"`
}

type processFailedDoc struct {
	Exceptions []string `xml:"ExceptionReport>Exception>ExceptionText"`
}

func parseResponse(raw []byte) (*wpsResponse, error) {
	var doc executeResponseDoc
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse WPS response: %w", err)
	}

	r := &wpsResponse{statusLocation: doc.StatusLocation}

	if doc.XMLName.Local == "ExceptionReport" {
		r.exception = firstOr(doc.Exceptions, "service exception")
		return r, nil
	}

	if doc.Status.ProcessFailed != nil {
		r.failed = firstOr(doc.Status.ProcessFailed.Exceptions, "process failed")
	}
	r.succeeded = doc.Status.ProcessSucceeded != nil

	for _, out := range doc.Outputs {
		r.outputs = append(r.outputs, responseOutputData{
			identifier: out.Identifier,
			reference:  out.Reference.Href,
			literal:    out.Literal,
		})
	}
	return r, nil
}

func firstOr(values []string, fallback string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return fallback
}
