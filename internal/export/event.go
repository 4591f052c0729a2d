package export

import (
	"fmt"
	"time"

	"geoexport/pkg/cloudevent"
)

// Event is a message on the orchestrator's outbound stream.
type Event interface {
	isEvent()
}

// Notification levels.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelError   = "error"
	// LevelDialog marks blocking failures the UI must surface immediately
	// (estimator rejection, synchronous total failure).
	LevelDialog = "dialog"
)

// Notification message keys.
const (
	KeyNewExport        = "export.notification.newExport"
	KeyExportCompleted  = "export.notification.completed"
	KeyExportFailed     = "export.notification.failed"
	KeyInvalidFormat    = "export.error.invalidOutputFormat"
	KeyEstimatorBlocked = "export.error.estimatorRejected"
)

// JobAdded fires when a job enters the ledger.
type JobAdded struct {
	Job Job
}

// JobUpdated fires when a pending job resolves.
type JobUpdated struct {
	ID     string
	Status Status
	Result *Result
}

// JobsRemoved fires when jobs leave the ledger, by user command or by the
// staleness reconciler.
type JobsRemoved struct {
	IDs []string
}

// DownloadFinished fires on every terminal outcome of a StartExport, success
// or failure, so the caller can clear its loading state.
type DownloadFinished struct{}

// NotificationRaised carries a transient user-facing message.
type NotificationRaised struct {
	Level      string
	MessageKey string
	Params     map[string]string
}

// CapabilityChecking fires as soon as a probe starts; the probe is
// non-blocking and always follows up with CapabilityResolved.
type CapabilityChecking struct {
	Endpoint string
}

// CapabilityResolved reports the export strategy chosen for an endpoint.
type CapabilityResolved struct {
	Endpoint string
	Strategy Strategy
}

func (JobAdded) isEvent()           {}
func (JobUpdated) isEvent()         {}
func (JobsRemoved) isEvent()        {}
func (DownloadFinished) isEvent()   {}
func (NotificationRaised) isEvent() {}
func (CapabilityChecking) isEvent() {}
func (CapabilityResolved) isEvent() {}

// Strategy selects the export flow.
type Strategy string

const (
	StrategyWFS Strategy = "wfs" // synchronous bulk download
	StrategyWPS Strategy = "wps" // asynchronous server-side job
)

// CloudEvent types for webhook publication of the event stream.
const (
	EventTypeStarted      = "geoexport.export.started"
	EventTypeCompleted    = "geoexport.export.completed"
	EventTypeFailed       = "geoexport.export.failed"
	EventTypeRemoved      = "geoexport.export.removed"
	EventTypeFinished     = "geoexport.download.finished"
	EventTypeNotification = "geoexport.notification"
)

const eventSource = "geoexport/export-agent"

// ToCloudEvent converts an event to its webhook payload. Events with no
// webhook representation (capability signals) return nil.
func ToCloudEvent(ev Event) *cloudevent.CloudEvent {
	switch e := ev.(type) {
	case JobAdded:
		eventType := EventTypeStarted
		switch e.Job.Status {
		case StatusCompleted:
			eventType = EventTypeCompleted
		case StatusFailed:
			eventType = EventTypeFailed
		}
		return build(eventType, e.Job.ID, map[string]any{
			"jobId":    e.Job.ID,
			"resource": e.Job.ResourceName,
			"status":   string(e.Job.Status),
		})
	case JobUpdated:
		eventType := EventTypeCompleted
		data := map[string]any{
			"jobId":  e.ID,
			"status": string(e.Status),
		}
		if e.Status == StatusFailed {
			eventType = EventTypeFailed
		}
		if e.Result != nil && e.Result.Location != "" {
			data["location"] = e.Result.Location
		}
		return build(eventType, e.ID, data)
	case JobsRemoved:
		return build(EventTypeRemoved, "", map[string]any{"jobIds": e.IDs})
	case DownloadFinished:
		return build(EventTypeFinished, "", map[string]any{})
	case NotificationRaised:
		return build(EventTypeNotification, "", map[string]any{
			"level":      e.Level,
			"messageKey": e.MessageKey,
			"params":     e.Params,
		})
	default:
		return nil
	}
}

func build(eventType, subject string, data map[string]any) *cloudevent.CloudEvent {
	id := fmt.Sprintf("%s-%d", eventType, time.Now().UnixNano())
	return cloudevent.New(eventType, eventSource, subject, id, data)
}
