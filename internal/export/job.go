// Package export implements the data-export orchestrator core: the job
// ledger, the command/event streams, and the process wiring the synchronous
// and asynchronous export flows together.
package export

import (
	"encoding/json"
	"time"

	"geoexport/internal/apperrors"
)

// Status is the lifecycle state of an export job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether a job in this status can no longer transition.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Result references the outcome of a resolved job: the artifact location on
// completion, or a message descriptor on failure.
type Result struct {
	Location string                `json:"location,omitempty"`
	Error    *apperrors.Descriptor `json:"error,omitempty"`
}

// Job is a single export job record kept in the ledger.
//
// The id is immutable once created; status only moves pending -> completed or
// pending -> failed. Removal is a ledger operation, not a status change.
type Job struct {
	ID            string    `json:"id"`
	ResourceName  string    `json:"resourceName"`
	ResourceTitle string    `json:"resourceTitle"`
	Status        Status    `json:"status"`
	Result        *Result   `json:"result,omitempty"`
	StartTime     time.Time `json:"startTime"`
}

// Resource identifies the data source being exported.
type Resource struct {
	Name       string   `json:"name"`
	Title      string   `json:"title"`
	Endpoint   string   `json:"endpoint"`             // OGC service base URL
	Attributes []string `json:"attributes,omitempty"` // feature attributes, first one seeds the default sort
	BaseFilter string   `json:"baseFilter,omitempty"` // pre-existing layer-level filter, merged into the export filter
}

// Options is the ephemeral request descriptor collected from the user. It is
// never persisted.
type Options struct {
	Format          string          `json:"format"`
	Filter          string          `json:"filter,omitempty"`    // serialized OGC filter expression
	TargetCRS       string          `json:"targetCRS,omitempty"` // output reprojection
	ROI             json.RawMessage `json:"roi,omitempty"`       // region-of-interest geometry (GeoJSON)
	RoiCRS          string          `json:"roiCRS,omitempty"`
	CropToROI       bool            `json:"cropToROI,omitempty"`
	UseFilteredData bool            `json:"useFilteredData,omitempty"`
	PageSize        int             `json:"pageSize,omitempty"`
	WriteParams     map[string]string `json:"writeParams,omitempty"` // output tiling/compression parameters
}

// DefaultOptions are the per-layer options primed when the download tool is
// opened for a resource.
func DefaultOptions() Options {
	return Options{
		Format:          "application/json",
		UseFilteredData: true,
	}
}
