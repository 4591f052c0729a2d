package export

import "time"

// Command is a message on the orchestrator's inbound stream. Commands are
// processed strictly in arrival order by a single dispatch loop; the flows
// they start run concurrently and report back through internal commands on
// the same stream.
type Command interface {
	isCommand()
}

// OpenTool primes the download tool for a resource: per-flow options are
// reset to defaults and any pre-existing layer filter becomes the filter
// context for subsequent exports.
type OpenTool struct {
	Resource Resource
}

// StartExport requests an export of a resource. The recorded strategy from
// the last capability check decides between the synchronous download and an
// asynchronous server-side job.
type StartExport struct {
	Resource Resource
	Options  Options
}

// CheckCapability probes an endpoint for the asynchronous export extension.
type CheckCapability struct {
	Endpoint string
}

// RemoveJob removes a job from the ledger and interrupts its in-flight
// resolution, if any. Removal always wins over late resolution.
type RemoveJob struct {
	ID string
}

// CheckStaleEntries reconciles completed ledger entries against the server,
// dropping jobs whose execution has been purged. Exclusive: a second check
// issued while one is running is dropped.
type CheckStaleEntries struct{}

// SessionLoaded restores the ledger from the persisted slot of the given
// user identity. Previously-pending entries are dropped on restore.
type SessionLoaded struct {
	User string
}

// LoginSucceeded behaves like SessionLoaded for a fresh login.
type LoginSucceeded struct {
	User string
}

// LoggedOut clears the in-memory ledger. The persisted slot is left for the
// next login of the same identity.
type LoggedOut struct{}

func (OpenTool) isCommand()          {}
func (StartExport) isCommand()       {}
func (CheckCapability) isCommand()   {}
func (RemoveJob) isCommand()         {}
func (CheckStaleEntries) isCommand() {}
func (SessionLoaded) isCommand()     {}
func (LoginSucceeded) isCommand()    {}
func (LoggedOut) isCommand()         {}

// Internal commands posted back into the stream by the flows. Keeping
// resolution results on the command stream gives the ledger a single writer.

type capabilityResolved struct {
	endpoint  string
	supported bool
}

type syncFinished struct {
	err     error
	started time.Time
}

// asyncAccepted reports a submission accepted by the estimator: the job is
// now running server-side and will be resolved by polling.
type asyncAccepted struct {
	job    Job
	base   string
	execID string
}

// asyncCompleted reports a submission that returned an output reference
// directly, resolving the job immediately.
type asyncCompleted struct {
	job Job
}

type asyncSubmitFailed struct {
	job       Job  // failed ledger entry, zero when rejected pre-flight
	estimator bool // estimator rejection: dialog error, no ledger entry
	err       error
}

type jobResolved struct {
	id     string
	result Result
}

type staleCheckDone struct {
	dead []string
}

func (capabilityResolved) isCommand() {}
func (syncFinished) isCommand()       {}
func (asyncAccepted) isCommand()      {}
func (asyncCompleted) isCommand()     {}
func (asyncSubmitFailed) isCommand()  {}
func (jobResolved) isCommand()        {}
func (staleCheckDone) isCommand()     {}
