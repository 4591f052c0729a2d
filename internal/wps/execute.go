package wps

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"geoexport/internal/apperrors"
)

// DownloadParams are the inputs of a gs:Download execution, assembled by the
// request builder from user options and spatial context.
type DownloadParams struct {
	LayerName    string
	OutputFormat string
	TargetCRS    string            // optional reprojection
	ROI          string            // optional GeoJSON crop geometry
	RoiCRS       string            // CRS of the ROI geometry
	CropToROI    bool
	Filter       string            // optional serialized OGC filter
	WriteParams  map[string]string // optional tiling/compression parameters
}

// BuildDownloadParams maps user options into execute inputs. Pure and
// deterministic. If crop is requested but no geometry is available, the
// ROI inputs are omitted rather than sent empty. A pre-existing layer-level
// filter is merged with the user filter.
func BuildDownloadParams(layerName, baseFilter, outputFormat string, opts DownloadOptions) DownloadParams {
	p := DownloadParams{
		LayerName:    layerName,
		OutputFormat: outputFormat,
		TargetCRS:    opts.TargetCRS,
		WriteParams:  opts.WriteParams,
	}
	if opts.UseFilteredData {
		p.Filter = MergeFilters(baseFilter, opts.Filter)
	}
	if opts.CropToROI && opts.ROI != "" {
		p.ROI = opts.ROI
		p.RoiCRS = opts.RoiCRS
		p.CropToROI = true
	}
	return p
}

// DownloadOptions are the user-selected knobs relevant to the asynchronous
// flow.
type DownloadOptions struct {
	Filter          string
	UseFilteredData bool
	TargetCRS       string
	ROI             string
	RoiCRS          string
	CropToROI       bool
	WriteParams     map[string]string
}

// MergeFilters combines a layer-level filter with a user filter. Both are
// serialized OGC filter fragments; when both are present they are joined
// under a single And.
func MergeFilters(base, user string) string {
	base = strings.TrimSpace(base)
	user = strings.TrimSpace(user)
	switch {
	case base == "":
		return user
	case user == "":
		return base
	default:
		return "<ogc:And>" + base + user + "</ogc:And>"
	}
}

// SubmitOutcome is the result of a successful submission. Exactly one of the
// two shapes applies: an accepted asynchronous execution to be resolved by
// polling, or a direct reference resolving the job immediately.
type SubmitOutcome struct {
	Accepted       bool
	ExecutionID    string
	BaseURL        string
	StatusLocation string
	ReferenceURL   string
}

// Submit runs the pre-flight estimator and then posts the asynchronous
// download execution.
//
// Estimator rejections return apperrors.ErrEstimatorRejected so callers can
// surface a blocking dialog without creating a ledger entry. Every other
// failure carries an export failure code for the failed ledger entry.
func (c *Client) Submit(ctx context.Context, endpoint string, p DownloadParams) (SubmitOutcome, error) {
	if err := c.runEstimator(ctx, endpoint, p); err != nil {
		return SubmitOutcome{}, err
	}

	body, err := xml.Marshal(downloadExecute(p))
	if err != nil {
		return SubmitOutcome{}, apperrors.Export(apperrors.CodeExecuteFailed, "wps.executeProcess", err)
	}

	resp, err := c.post(ctx, endpoint, body)
	if err != nil {
		return SubmitOutcome{}, apperrors.Export(apperrors.CodeExecuteFailed, "wps.executeProcess", err)
	}

	if resp.exception != "" {
		return SubmitOutcome{}, apperrors.Export(apperrors.CodeProcessFailed, "wps.executeProcess", errors.New(resp.exception))
	}
	if resp.failed != "" {
		return SubmitOutcome{}, apperrors.Export(apperrors.CodeProcessFailed, "wps.executeProcess", errors.New(resp.failed))
	}

	if resp.statusLocation != "" {
		base, execID, err := ExecutionFromLocation(resp.statusLocation)
		if err != nil {
			return SubmitOutcome{}, err
		}
		return SubmitOutcome{
			Accepted:       true,
			ExecutionID:    execID,
			BaseURL:        base,
			StatusLocation: resp.statusLocation,
		}, nil
	}

	if ref := resp.reference(); ref != "" {
		return SubmitOutcome{ReferenceURL: ref}, nil
	}

	return SubmitOutcome{}, apperrors.Export(apperrors.CodeNoStatusLocation, "wps.executeProcess", nil)
}

// runEstimator executes gs:DownloadEstimator synchronously. The estimator
// answers true or raises an exception describing why the export is too
// expensive to run.
func (c *Client) runEstimator(ctx context.Context, endpoint string, p DownloadParams) error {
	body, err := xml.Marshal(estimatorExecute(p))
	if err != nil {
		return apperrors.Export(apperrors.CodeExecuteFailed, "wps.downloadEstimator", err)
	}

	resp, err := c.post(ctx, endpoint, body)
	if err != nil {
		return apperrors.Export(apperrors.CodeExecuteFailed, "wps.downloadEstimator", err)
	}

	switch {
	case resp.exception != "":
		return apperrors.EstimatorRejected(resp.exception)
	case resp.failed != "":
		return apperrors.EstimatorRejected(resp.failed)
	case resp.succeeded && strings.EqualFold(strings.TrimSpace(resp.literal()), "false"):
		return apperrors.EstimatorRejected("")
	case !resp.succeeded:
		return apperrors.Export(apperrors.CodeUnexpectedStatus, "wps.downloadEstimator", nil)
	}
	return nil
}

// post sends an Execute document and decodes whichever document comes back:
// an ExecuteResponse or a bare ExceptionReport.
func (c *Client) post(ctx context.Context, endpoint string, body []byte) (*wpsResponse, error) {
	payload := append([]byte(xml.Header), body...)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return parseResponse(raw)
}

// Execute request document. Namespace prefixes are emitted literally; the
// encoding/xml package has no namespace-prefix support on marshal.

type executeRequest struct {
	XMLName    xml.Name      `xml:"wps:Execute"`
	Service    string        `xml:"service,attr"`
	Version    string        `xml:"version,attr"`
	XmlnsWPS   string        `xml:"xmlns:wps,attr"`
	XmlnsOWS   string        `xml:"xmlns:ows,attr"`
	XmlnsOGC   string        `xml:"xmlns:ogc,attr"`
	XmlnsXlink string        `xml:"xmlns:xlink,attr"`
	Identifier string        `xml:"ows:Identifier"`
	Inputs     []input       `xml:"wps:DataInputs>wps:Input"`
	Response   *responseForm `xml:"wps:ResponseForm,omitempty"`
}

type input struct {
	Identifier string       `xml:"ows:Identifier"`
	Literal    string       `xml:"wps:Data>wps:LiteralData,omitempty"`
	Complex    *complexData `xml:"wps:Data>wps:ComplexData,omitempty"`
}

type complexData struct {
	MimeType string `xml:"mimeType,attr,omitempty"`
	Body     string `xml:",cdata"`
}

type responseForm struct {
	Document responseDocument `xml:"wps:ResponseDocument"`
}

type responseDocument struct {
	Store  string         `xml:"storeExecuteResponse,attr,omitempty"`
	Status string         `xml:"status,attr,omitempty"`
	Output responseOutput `xml:"wps:Output"`
}

type responseOutput struct {
	AsReference string `xml:"asReference,attr"`
	Identifier  string `xml:"ows:Identifier"`
}

func newExecute(identifier string) executeRequest {
	return executeRequest{
		Service:    "WPS",
		Version:    "1.0.0",
		XmlnsWPS:   "http://www.opengis.net/wps/1.0.0",
		XmlnsOWS:   "http://www.opengis.net/ows/1.1",
		XmlnsOGC:   "http://www.opengis.net/ogc",
		XmlnsXlink: "http://www.w3.org/1999/xlink",
		Identifier: identifier,
	}
}

func estimatorExecute(p DownloadParams) executeRequest {
	req := newExecute(ProcessEstimator)
	req.Inputs = commonInputs(p)
	return req
}

func downloadExecute(p DownloadParams) executeRequest {
	req := newExecute(ProcessDownload)
	req.Inputs = append(commonInputs(p),
		input{Identifier: "outputFormat", Literal: p.OutputFormat},
		input{Identifier: "asynchronous", Literal: "true"},
		input{Identifier: "outputAsReference", Literal: "true"},
	)
	if len(p.WriteParams) > 0 {
		req.Inputs = append(req.Inputs, input{
			Identifier: "writeParameters",
			Complex:    &complexData{Body: writeParametersBody(p.WriteParams)},
		})
	}
	req.Response = &responseForm{
		Document: responseDocument{
			Store:  "true",
			Status: "true",
			Output: responseOutput{AsReference: "true", Identifier: "result"},
		},
	}
	return req
}

func commonInputs(p DownloadParams) []input {
	inputs := []input{
		{Identifier: "layerName", Literal: p.LayerName},
	}
	if p.Filter != "" {
		inputs = append(inputs, input{
			Identifier: "filter",
			Complex:    &complexData{MimeType: "text/xml; subtype=filter/1.1", Body: p.Filter},
		})
	}
	if p.TargetCRS != "" {
		inputs = append(inputs, input{Identifier: "targetCRS", Literal: p.TargetCRS})
	}
	if p.ROI != "" {
		if p.RoiCRS != "" {
			inputs = append(inputs, input{Identifier: "RoiCRS", Literal: p.RoiCRS})
		}
		inputs = append(inputs,
			input{Identifier: "ROI", Complex: &complexData{MimeType: "application/json", Body: p.ROI}},
			input{Identifier: "cropToROI", Literal: fmt.Sprintf("%t", p.CropToROI)},
		)
	}
	return inputs
}

// writeParametersBody renders write parameters as the nested dwn:Parameter
// list GeoServer expects. Keys are emitted in sorted order so the payload is
// deterministic.
func writeParametersBody(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(`<dwn:Parameters xmlns:dwn="http://geoserver.org/wps/download">`)
	for _, k := range keys {
		var buf bytes.Buffer
		xml.EscapeText(&buf, []byte(params[k]))
		fmt.Fprintf(&b, `<dwn:Parameter key="%s">%s</dwn:Parameter>`, k, buf.String())
	}
	b.WriteString(`</dwn:Parameters>`)
	return b.String()
}
