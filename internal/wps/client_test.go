package wps

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDescribeProcessesSupported(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("request") != "DescribeProcess" {
			t.Errorf("request = %q, want DescribeProcess", q.Get("request"))
		}
		if q.Get("identifier") != "gs:DownloadEstimator,gs:Download" {
			t.Errorf("identifier = %q, want both process ids", q.Get("identifier"))
		}
		w.Header().Set("Content-Type", "application/xml")
		io.WriteString(w, `<wps:ProcessDescriptions xmlns:wps="http://www.opengis.net/wps/1.0.0">`+
			`<ProcessDescription><ows:Identifier>gs:DownloadEstimator</ows:Identifier></ProcessDescription>`+
			`<ProcessDescription><ows:Identifier>gs:Download</ows:Identifier></ProcessDescription>`+
			`</wps:ProcessDescriptions>`)
	}))
	t.Cleanup(server.Close)

	c := NewClient(5 * time.Second)
	capability := c.DescribeProcesses(context.Background(), server.URL)

	if !capability.Supported {
		t.Error("expected supported")
	}
	if len(capability.Missing) != 0 {
		t.Errorf("Missing = %v, want none", capability.Missing)
	}
}

func TestDescribeProcessesMissingDownload(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		io.WriteString(w, `<ProcessDescriptions>`+
			`<ProcessDescription><Identifier>gs:DownloadEstimator</Identifier></ProcessDescription>`+
			`</ProcessDescriptions>`)
	}))
	t.Cleanup(server.Close)

	c := NewClient(5 * time.Second)
	capability := c.DescribeProcesses(context.Background(), server.URL)

	if capability.Supported {
		t.Error("expected unsupported")
	}
	if !reflect.DeepEqual(capability.Missing, []string{ProcessDownload}) {
		t.Errorf("Missing = %v, want [gs:Download]", capability.Missing)
	}
}

// The probe fails open: any transport, HTTP, or parse failure reports
// unsupported rather than an error.
func TestDescribeProcessesFailsOpen(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "http error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "unparseable body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, "this is not xml <<<")
			},
		},
		{
			name: "empty description",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `<ProcessDescriptions/>`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(tt.handler)
			t.Cleanup(server.Close)

			c := NewClient(5 * time.Second)
			capability := c.DescribeProcesses(context.Background(), server.URL)
			if capability.Supported {
				t.Error("expected unsupported")
			}
			if len(capability.Missing) == 0 {
				t.Error("expected missing identifiers")
			}
		})
	}
}

func TestDescribeProcessesUnreachableServer(t *testing.T) {
	t.Parallel()
	c := NewClient(500 * time.Millisecond)
	capability := c.DescribeProcesses(context.Background(), "http://127.0.0.1:1/geoserver/ows")
	if capability.Supported {
		t.Error("expected unsupported for unreachable endpoint")
	}
}

func TestDescribeURLPreservesExistingQuery(t *testing.T) {
	t.Parallel()
	u, err := describeURL("http://example.com/geoserver/ows?foo=bar")
	if err != nil {
		t.Fatalf("describeURL failed: %v", err)
	}
	for _, want := range []string{"foo=bar", "service=WPS", "request=DescribeProcess"} {
		if !strings.Contains(u, want) {
			t.Errorf("url %q missing %q", u, want)
		}
	}
}
