package wfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"geoexport/internal/apperrors"
)

// maxSniff bounds how much of an XML response body is inspected for
// exception markers.
const maxSniff = 64 << 10 // 64 KB

// Saver persists the bytes of a finished download and returns where they
// were written.
type Saver interface {
	Save(filename string, r io.Reader) (string, error)
}

// Downloader runs the synchronous flow. Single job, no persistence: the
// outcome is a saved file or a dialog-level error.
type Downloader struct {
	http   *http.Client
	saver  Saver
	logger *slog.Logger
}

// NewDownloader creates a synchronous downloader. The timeout is the hard
// upper bound per request.
func NewDownloader(timeout time.Duration, saver Saver) *Downloader {
	return &Downloader{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		saver:  saver,
		logger: slog.With("component", "wfs"),
	}
}

// Download issues the export request and saves the response bytes exactly
// once. On the first failure it retries once with the default sort: some
// servers require an explicit ordering for pagination-correct export. The
// final failure is classified as an invalid output format.
func (d *Downloader) Download(ctx context.Context, req Request, resourceName string, attributes []string) (string, error) {
	body, err := d.attempt(ctx, req)
	if err != nil {
		sort := DefaultSort(attributes)
		d.logger.Info("Download failed, retrying with default sort",
			"resource", resourceName, "sortBy", sort, "error", err)

		retry := req
		retry.SortBy = sort
		body, err = d.attempt(ctx, retry)
		if err != nil {
			return "", apperrors.InvalidFormat("wfs.getFeature", err)
		}
	}

	path, err := d.saver.Save(Filename(resourceName, req.OutputFormat), bytes.NewReader(body))
	if err != nil {
		return "", apperrors.Internal("wfs.save", err)
	}

	d.logger.Info("Download saved", "resource", resourceName, "path", path)
	return path, nil
}

// attempt performs one request and returns the response bytes. An HTTP 200
// carrying an XML exception document counts as a failure: some servers
// disguise rejected requests as successes.
func (d *Downloader) attempt(ctx context.Context, r Request) ([]byte, error) {
	payload := BuildQuery(r).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, strings.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if isException(resp.Header.Get("Content-Type"), body) {
		return nil, fmt.Errorf("server returned exception document")
	}
	return body, nil
}

// isException detects an error payload disguised as a success.
func isException(contentType string, body []byte) bool {
	ct := strings.ToLower(contentType)
	if !strings.Contains(ct, "xml") {
		return false
	}
	head := body
	if len(head) > maxSniff {
		head = head[:maxSniff]
	}
	return bytes.Contains(head, []byte("ExceptionReport")) ||
		bytes.Contains(head, []byte("ServiceException"))
}
