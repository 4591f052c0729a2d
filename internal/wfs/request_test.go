package wfs

import (
	"testing"
)

func TestBuildQuery(t *testing.T) {
	t.Parallel()
	q := BuildQuery(Request{
		Endpoint:     "http://example.com/geoserver/ows",
		TypeName:     "topp:states",
		OutputFormat: "shape-zip",
		Filter:       "<ogc:Filter/>",
		PageSize:     1000,
		StartIndex:   2000,
	})

	want := map[string]string{
		"service":      "WFS",
		"version":      "1.1.0",
		"request":      "GetFeature",
		"typeName":     "topp:states",
		"outputFormat": "shape-zip",
		"filter":       "<ogc:Filter/>",
		"maxFeatures":  "1000",
		"startIndex":   "2000",
	}
	for key, expected := range want {
		if got := q.Get(key); got != expected {
			t.Errorf("%s = %q, want %q", key, got, expected)
		}
	}
	if q.Has("sortBy") {
		t.Error("sortBy must be absent unless a retry set it")
	}
}

func TestBuildQueryOmitsEmptyFields(t *testing.T) {
	t.Parallel()
	q := BuildQuery(Request{TypeName: "ws:layer"})

	for _, key := range []string{"outputFormat", "filter", "maxFeatures", "startIndex", "sortBy"} {
		if q.Has(key) {
			t.Errorf("expected %s to be absent", key)
		}
	}
}

func TestBuildQuerySortOnRetry(t *testing.T) {
	t.Parallel()
	q := BuildQuery(Request{TypeName: "ws:layer", SortBy: "STATE_NAME A"})
	if got := q.Get("sortBy"); got != "STATE_NAME A" {
		t.Errorf("sortBy = %q, want 'STATE_NAME A'", got)
	}
}

func TestDefaultSort(t *testing.T) {
	t.Parallel()
	if got := DefaultSort([]string{"STATE_NAME", "PERSONS"}); got != "STATE_NAME A" {
		t.Errorf("DefaultSort = %q, want 'STATE_NAME A'", got)
	}
	if got := DefaultSort(nil); got != "" {
		t.Errorf("DefaultSort(nil) = %q, want empty", got)
	}
}

func TestExtensionFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		format string
		want   string
	}{
		{"application/json", ".json"},
		{"json", ".json"},
		{"csv", ".csv"},
		{"shape-zip", ".zip"},
		{"SHAPE-ZIP", ".zip"},
		{"excel", ".xls"},
		{"excel2007", ".xlsx"},
		{"application/vnd.google-earth.kml+xml", ".kml"},
		{"text/xml; subtype=gml/3.1.1", ".gml"},
		{"image/tiff", ".tiff"},
		{"application/x-mystery", ".bin"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			t.Parallel()
			if got := ExtensionFor(tt.format); got != tt.want {
				t.Errorf("ExtensionFor(%q) = %q, want %q", tt.format, got, tt.want)
			}
		})
	}
}

func TestFilename(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		resource string
		format   string
		want     string
	}{
		{"qualified name", "topp:states", "shape-zip", "states.zip"},
		{"unqualified name", "states", "csv", "states.csv"},
		{"empty local part", "topp:", "csv", "export.csv"},
		{"unknown format", "states", "weird", "states.bin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Filename(tt.resource, tt.format); got != tt.want {
				t.Errorf("Filename(%q, %q) = %q, want %q", tt.resource, tt.format, got, tt.want)
			}
		})
	}
}
