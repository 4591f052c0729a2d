package apperrors

import "errors"

// Export failure codes. The asynchronous flow records failed jobs with one of
// these so the UI can localize the message; everything unknown falls back to
// the generic descriptor.
const (
	CodeProcessFailed    = "ProcessFailed"
	CodeNoStatusLocation = "NoStatusLocation"
	CodeNoExecutionID    = "NoExecutionId"
	CodeUnexpectedStatus = "UnexpectedProcessStatus"
	CodeExecuteFailed    = "ExecuteProcessFailed"
	CodeStatusPollFailed = "GetExecutionStatusFailed"
)

// Descriptor is a user-facing, localization-ready failure description stored
// on failed ledger entries: a message key plus interpolation parameters.
type Descriptor struct {
	MessageKey string            `json:"messageKey"`
	Params     map[string]string `json:"params,omitempty"`
}

var descriptorKeys = map[string]string{
	CodeProcessFailed:    "export.error.processFailed",
	CodeNoStatusLocation: "export.error.noStatusLocation",
	CodeNoExecutionID:    "export.error.noExecutionId",
	CodeUnexpectedStatus: "export.error.unexpectedStatus",
	CodeExecuteFailed:    "export.error.executeFailed",
	CodeStatusPollFailed: "export.error.statusPollFailed",
}

const fallbackKey = "export.error.unexpected"

// DescriptorFor maps an error to its user-facing descriptor. Unrecognized
// codes map to the generic unexpected-error key.
func DescriptorFor(err error) Descriptor {
	d := Descriptor{MessageKey: fallbackKey}
	if err == nil {
		return d
	}

	if key, ok := descriptorKeys[CodeOf(err)]; ok {
		d.MessageKey = key
	}

	var e *Error
	if errors.As(err, &e) && e.Cause != nil {
		d.Params = map[string]string{"reason": e.Cause.Error()}
	}
	return d
}
