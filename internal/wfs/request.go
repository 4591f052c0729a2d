// Package wfs implements the synchronous export flow: a direct GetFeature
// download with a single retry using a default ordering when the server
// rejects the initial request.
package wfs

import (
	"net/url"
	"strconv"
	"strings"
)

// Request describes a single synchronous download attempt.
type Request struct {
	Endpoint     string
	TypeName     string
	OutputFormat string
	Filter       string // serialized OGC filter expression
	PageSize     int
	StartIndex   int
	SortBy       string // empty means no explicit ordering; set only on retry
}

// BuildQuery renders the form-encoded GetFeature body. Pure and
// deterministic; the sort stays absent unless a retry set it.
func BuildQuery(r Request) url.Values {
	q := url.Values{}
	q.Set("service", "WFS")
	q.Set("version", "1.1.0")
	q.Set("request", "GetFeature")
	q.Set("typeName", r.TypeName)
	if r.OutputFormat != "" {
		q.Set("outputFormat", r.OutputFormat)
	}
	if r.Filter != "" {
		q.Set("filter", r.Filter)
	}
	if r.PageSize > 0 {
		q.Set("maxFeatures", strconv.Itoa(r.PageSize))
		q.Set("startIndex", strconv.Itoa(r.StartIndex))
	}
	if r.SortBy != "" {
		q.Set("sortBy", r.SortBy)
	}
	return q
}

// DefaultSort returns the deterministic retry ordering: first available
// attribute, ascending. Empty when the resource exposes no attributes.
func DefaultSort(attributes []string) string {
	if len(attributes) == 0 {
		return ""
	}
	return attributes[0] + " A"
}

// extensions maps requested output formats to the artifact file extension.
var extensions = map[string]string{
	"application/json":                       ".json",
	"json":                                   ".json",
	"csv":                                    ".csv",
	"shape-zip":                              ".zip",
	"excel":                                  ".xls",
	"excel2007":                              ".xlsx",
	"dxf":                                    ".dxf",
	"application/vnd.google-earth.kml+xml":   ".kml",
	"application/vnd.google-earth.kmz":       ".kmz",
	"gml2":                                   ".gml",
	"gml3":                                   ".gml",
	"text/xml; subtype=gml/3.1.1":            ".gml",
	"image/tiff":                             ".tiff",
}

// ExtensionFor returns the file extension for an output format.
func ExtensionFor(format string) string {
	if ext, ok := extensions[strings.ToLower(format)]; ok {
		return ext
	}
	return ".bin"
}

// Filename computes the artifact name for a resource: the unqualified
// resource name plus the format extension.
func Filename(resourceName, format string) string {
	name := resourceName
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		name = "export"
	}
	return name + ExtensionFor(format)
}
