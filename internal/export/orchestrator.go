package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"geoexport/internal/apperrors"
	"geoexport/internal/dispatcher"
	"geoexport/internal/observability"
	"geoexport/internal/wfs"
	"geoexport/internal/wps"
)

// ErrQueueFull is returned by Enqueue when the command buffer is full.
var ErrQueueFull = errors.New("command queue full")

// LedgerStore persists the ledger to a per-user slot.
type LedgerStore interface {
	Save(user string, jobs []Job) error
	Load(user string) ([]Job, error)
}

// Config holds the orchestrator's collaborators. WFS and WPS are required;
// everything else is optional.
type Config struct {
	WFS     *wfs.Downloader
	WPS     *wps.Client
	Store   LedgerStore
	Metrics *observability.Metrics

	// Webhook publication of the event stream.
	Webhooks    dispatcher.Dispatcher
	CallbackURL string
	SigningKey  string

	PollInterval  time.Duration // execution status polling interval (default: 2s)
	CommandBuffer int           // inbound command buffer (default: 64)
	EventBuffer   int           // outbound event buffer (default: 256)
}

// Orchestrator is the top-level reactive process: a single dispatch loop
// consumes the command stream in arrival order, owns the ledger, and fans
// work out to the export flows. Flows report back by posting internal
// commands onto the same stream, so the ledger has exactly one writer.
type Orchestrator struct {
	cfg    Config
	cmds   chan Command
	events chan Event
	logger *slog.Logger

	ledger   *Ledger
	snapshot atomic.Pointer[[]Job]
	running  atomic.Bool

	// Loop-local state, touched only by the dispatch loop.
	user       string
	strategies map[string]Strategy
	cancels    map[string]context.CancelFunc
	checking   bool // staleness reconciler exclusivity guard

	// Download-tool context primed by OpenTool.
	toolResource string
	toolFilter   string
	toolOptions  Options
}

// New creates an orchestrator. Call Run to start processing commands.
func New(cfg Config) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = 64
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}

	o := &Orchestrator{
		cfg:        cfg,
		cmds:       make(chan Command, cfg.CommandBuffer),
		events:     make(chan Event, cfg.EventBuffer),
		logger:     slog.With("component", "orchestrator"),
		ledger:     NewLedger(),
		strategies: make(map[string]Strategy),
		cancels:    make(map[string]context.CancelFunc),
	}
	empty := []Job{}
	o.snapshot.Store(&empty)
	return o
}

// Run processes commands until ctx is cancelled. It must be called exactly
// once.
func (o *Orchestrator) Run(ctx context.Context) {
	o.running.Store(true)
	defer o.running.Store(false)
	o.logger.Info("Orchestrator started")

	for {
		select {
		case <-ctx.Done():
			o.cancelAll()
			o.logger.Info("Orchestrator stopped")
			return
		case cmd := <-o.cmds:
			o.handle(ctx, cmd)
		}
	}
}

// Enqueue submits a command without blocking.
func (o *Orchestrator) Enqueue(cmd Command) error {
	select {
	case o.cmds <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

// Events returns the outbound event stream. Events are dropped when the
// buffer is full, so consumers must keep up.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// Jobs returns a snapshot of the ledger for display. Safe from any
// goroutine.
func (o *Orchestrator) Jobs() []Job {
	return *o.snapshot.Load()
}

// Ready implements the readiness check: the dispatch loop must be running.
func (o *Orchestrator) Ready(ctx context.Context) error {
	if !o.running.Load() {
		return errors.New("orchestrator not running")
	}
	return nil
}

func (o *Orchestrator) handle(ctx context.Context, cmd Command) {
	switch c := cmd.(type) {
	case OpenTool:
		o.handleOpenTool(c)
	case StartExport:
		o.handleStartExport(ctx, c)
	case CheckCapability:
		o.handleCheckCapability(ctx, c)
	case RemoveJob:
		o.handleRemoveJob(ctx, c)
	case CheckStaleEntries:
		o.handleCheckStale(ctx)
	case SessionLoaded:
		o.restoreLedger(c.User)
	case LoginSucceeded:
		o.restoreLedger(c.User)
	case LoggedOut:
		o.handleLoggedOut()

	case capabilityResolved:
		o.handleCapabilityResolved(ctx, c)
	case syncFinished:
		o.handleSyncFinished(ctx, c)
	case asyncAccepted:
		o.handleAsyncAccepted(ctx, c)
	case asyncCompleted:
		o.handleAsyncCompleted(ctx, c)
	case asyncSubmitFailed:
		o.handleAsyncSubmitFailed(ctx, c)
	case jobResolved:
		o.handleJobResolved(ctx, c)
	case staleCheckDone:
		o.handleStaleDone(ctx, c)

	default:
		o.logger.Warn("Unknown command", "type", fmt.Sprintf("%T", cmd))
	}
}

// handleOpenTool resets the flow options to per-layer defaults and primes
// the filter context of a layer that carries a pre-existing filter source.
func (o *Orchestrator) handleOpenTool(c OpenTool) {
	o.toolResource = c.Resource.Name
	o.toolFilter = c.Resource.BaseFilter
	o.toolOptions = DefaultOptions()
	o.logger.Debug("Download tool opened", "resource", c.Resource.Name)
}

func (o *Orchestrator) handleStartExport(ctx context.Context, c StartExport) {
	resource := c.Resource
	opts := c.Options
	if opts.Format == "" {
		opts.Format = o.toolOptions.Format
		if opts.Format == "" {
			opts.Format = DefaultOptions().Format
		}
	}
	if resource.BaseFilter == "" && resource.Name == o.toolResource {
		resource.BaseFilter = o.toolFilter
	}

	strategy := o.strategyFor(resource.Endpoint)
	o.logger.Info("Export started", "resource", resource.Name, "strategy", string(strategy), "format", opts.Format)
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordExportStarted(ctx, string(strategy))
	}

	if strategy == StrategyWPS {
		o.startAsync(ctx, resource, opts)
		return
	}
	o.startSync(ctx, resource, opts)
}

func (o *Orchestrator) strategyFor(endpoint string) Strategy {
	if s, ok := o.strategies[endpoint]; ok {
		return s
	}
	return StrategyWFS
}

func (o *Orchestrator) exportFilter(resource Resource, opts Options) string {
	if !opts.UseFilteredData {
		return resource.BaseFilter
	}
	return wps.MergeFilters(resource.BaseFilter, opts.Filter)
}

// startSync runs the synchronous flow in the background and reports the
// terminal outcome back onto the command stream.
func (o *Orchestrator) startSync(ctx context.Context, resource Resource, opts Options) {
	req := wfs.Request{
		Endpoint:     resource.Endpoint,
		TypeName:     resource.Name,
		OutputFormat: opts.Format,
		Filter:       o.exportFilter(resource, opts),
		PageSize:     opts.PageSize,
	}
	started := time.Now()

	go func() {
		_, err := o.cfg.WFS.Download(ctx, req, resource.Name, resource.Attributes)
		o.post(ctx, syncFinished{err: err, started: started})
	}()
}

func (o *Orchestrator) handleSyncFinished(ctx context.Context, c syncFinished) {
	if c.err != nil {
		o.logger.Warn("Synchronous export failed", "error", c.err)
		o.emit(NotificationRaised{
			Level:      LevelDialog,
			MessageKey: KeyInvalidFormat,
			Params:     map[string]string{"reason": c.err.Error()},
		})
	}
	// The flow always terminates with a finished signal so the caller can
	// clear its loading state.
	o.emit(DownloadFinished{})
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordExportResolved(ctx, string(StrategyWFS), c.err == nil, time.Since(c.started).Seconds())
	}
}

// startAsync submits the server-side export job in the background. The
// submission distinguishes three outcomes: accepted (estimator passed, job
// now pending), immediate (a direct output reference), and failed.
func (o *Orchestrator) startAsync(ctx context.Context, resource Resource, opts Options) {
	params := wps.BuildDownloadParams(resource.Name, resource.BaseFilter, opts.Format, wps.DownloadOptions{
		Filter:          opts.Filter,
		UseFilteredData: opts.UseFilteredData,
		TargetCRS:       opts.TargetCRS,
		ROI:             string(opts.ROI),
		RoiCRS:          opts.RoiCRS,
		CropToROI:       opts.CropToROI,
		WriteParams:     opts.WriteParams,
	})

	go func() {
		outcome, err := o.cfg.WPS.Submit(ctx, resource.Endpoint, params)
		now := time.Now()
		newJob := func(status Status, result *Result) Job {
			return Job{
				ID:            uuid.NewString(),
				ResourceName:  resource.Name,
				ResourceTitle: resource.Title,
				Status:        status,
				Result:        result,
				StartTime:     now,
			}
		}

		switch {
		case errors.Is(err, apperrors.ErrEstimatorRejected):
			o.post(ctx, asyncSubmitFailed{estimator: true, err: err})
		case err != nil:
			desc := apperrors.DescriptorFor(err)
			o.post(ctx, asyncSubmitFailed{
				job: newJob(StatusFailed, &Result{Error: &desc}),
				err: err,
			})
		case outcome.Accepted:
			o.post(ctx, asyncAccepted{
				job:    newJob(StatusPending, nil),
				base:   outcome.BaseURL,
				execID: outcome.ExecutionID,
			})
		default:
			o.post(ctx, asyncCompleted{
				job: newJob(StatusCompleted, &Result{Location: outcome.ReferenceURL}),
			})
		}
	}()
}

func (o *Orchestrator) handleAsyncAccepted(ctx context.Context, c asyncAccepted) {
	o.ledger.Add(c.job)
	o.sync()
	o.emit(JobAdded{Job: c.job})
	o.emit(NotificationRaised{
		Level:      LevelInfo,
		MessageKey: KeyNewExport,
		Params:     map[string]string{"title": c.job.ResourceTitle},
	})
	// The UI is released immediately even though the job keeps running.
	o.emit(DownloadFinished{})
	o.logger.Info("Export job accepted", "jobId", c.job.ID, "resource", c.job.ResourceName)

	o.startResolution(ctx, c.job, c.base, c.execID)
}

func (o *Orchestrator) handleAsyncCompleted(ctx context.Context, c asyncCompleted) {
	o.ledger.Add(c.job)
	o.sync()
	o.emit(JobAdded{Job: c.job})
	o.emit(NotificationRaised{
		Level:      LevelSuccess,
		MessageKey: KeyExportCompleted,
		Params:     map[string]string{"title": c.job.ResourceTitle},
	})
	o.emit(DownloadFinished{})
	o.logger.Info("Export job completed on submit", "jobId", c.job.ID)
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordExportResolved(ctx, string(StrategyWPS), true, time.Since(c.job.StartTime).Seconds())
	}
}

func (o *Orchestrator) handleAsyncSubmitFailed(ctx context.Context, c asyncSubmitFailed) {
	if c.estimator {
		// Pre-flight rejection: blocking dialog, no ledger entry.
		o.logger.Warn("Export rejected by estimator", "error", c.err)
		o.emit(NotificationRaised{
			Level:      LevelDialog,
			MessageKey: KeyEstimatorBlocked,
			Params:     map[string]string{"reason": c.err.Error()},
		})
	} else {
		o.ledger.Add(c.job)
		o.sync()
		o.emit(JobAdded{Job: c.job})
		o.emit(NotificationRaised{
			Level:      LevelError,
			MessageKey: KeyExportFailed,
			Params:     map[string]string{"title": c.job.ResourceTitle},
		})
		o.logger.Warn("Export submission failed", "jobId", c.job.ID, "error", c.err)
	}
	o.emit(DownloadFinished{})
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordExportResolved(ctx, string(StrategyWPS), false, 0)
	}
}

// startResolution subscribes to the job's execution lifecycle. The
// subscription terminates as soon as the job is removed: removal always
// wins over resolution.
func (o *Orchestrator) startResolution(ctx context.Context, job Job, base, execID string) {
	jobCtx, cancel := context.WithCancel(ctx)
	o.cancels[job.ID] = cancel

	go func() {
		location, err := o.cfg.WPS.WaitForCompletion(jobCtx, base, execID, o.cfg.PollInterval)
		if jobCtx.Err() != nil {
			return // removed or shutting down
		}

		var result Result
		if err != nil {
			desc := apperrors.DescriptorFor(err)
			result = Result{Error: &desc}
		} else {
			result = Result{Location: location}
		}
		o.post(ctx, jobResolved{id: job.ID, result: result})
	}()
}

func (o *Orchestrator) handleJobResolved(ctx context.Context, c jobResolved) {
	if cancel, ok := o.cancels[c.id]; ok {
		cancel()
		delete(o.cancels, c.id)
	}

	job, ok := o.ledger.Get(c.id)
	if !ok {
		// Removed while resolving; the late resolution must not
		// reintroduce the job.
		o.logger.Debug("Resolution for removed job dropped", "jobId", c.id)
		return
	}

	status := StatusCompleted
	level, key := LevelSuccess, KeyExportCompleted
	if c.result.Error != nil {
		status = StatusFailed
		level, key = LevelError, KeyExportFailed
	}

	o.ledger.UpdateByID(c.id, Update{Status: &status, Result: &c.result})
	o.sync()
	o.emit(JobUpdated{ID: c.id, Status: status, Result: &c.result})
	o.emit(NotificationRaised{
		Level:      level,
		MessageKey: key,
		Params:     map[string]string{"title": job.ResourceTitle},
	})
	o.logger.Info("Export job resolved", "jobId", c.id, "status", string(status))
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordExportResolved(ctx, string(StrategyWPS), status == StatusCompleted, time.Since(job.StartTime).Seconds())
	}
}

func (o *Orchestrator) handleCheckCapability(ctx context.Context, c CheckCapability) {
	// Emit the intermediate signal right away; the probe never blocks the
	// command loop.
	o.emit(CapabilityChecking{Endpoint: c.Endpoint})

	go func() {
		capability := o.cfg.WPS.DescribeProcesses(ctx, c.Endpoint)
		o.post(ctx, capabilityResolved{endpoint: c.Endpoint, supported: capability.Supported})
	}()
}

func (o *Orchestrator) handleCapabilityResolved(ctx context.Context, c capabilityResolved) {
	strategy := StrategyWFS
	if c.supported {
		strategy = StrategyWPS
	}
	o.strategies[c.endpoint] = strategy
	o.emit(CapabilityResolved{Endpoint: c.endpoint, Strategy: strategy})
	o.logger.Info("Capability resolved", "endpoint", c.endpoint, "strategy", string(strategy))
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordCapabilityCheck(ctx, c.supported)
	}
}

func (o *Orchestrator) handleRemoveJob(ctx context.Context, c RemoveJob) {
	if cancel, ok := o.cancels[c.ID]; ok {
		cancel()
		delete(o.cancels, c.ID)
	}

	job, existed := o.ledger.Get(c.ID)
	if !o.ledger.RemoveByID(c.ID) {
		return // idempotent: unknown ids are a no-op
	}
	o.sync()
	o.emit(JobsRemoved{IDs: []string{c.ID}})
	o.logger.Info("Export job removed", "jobId", c.ID)

	if existed && job.Status == StatusPending && o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordExportResolved(ctx, string(StrategyWPS), false, time.Since(job.StartTime).Seconds())
	}
}

// handleCheckStale reconciles completed entries against the server. The
// check is exclusive: a second command while one is in flight is dropped,
// never queued.
func (o *Orchestrator) handleCheckStale(ctx context.Context) {
	if o.checking {
		o.logger.Debug("Staleness check already running, dropped")
		return
	}

	type target struct {
		id       string
		location string
	}
	var targets []target
	for _, job := range o.ledger.Jobs() {
		if job.Status == StatusCompleted && job.Result != nil && job.Result.Location != "" {
			targets = append(targets, target{id: job.ID, location: job.Result.Location})
		}
	}
	if len(targets) == 0 {
		return
	}

	o.checking = true
	go func() {
		var mu sync.Mutex
		var dead []string
		var wg sync.WaitGroup

		for _, t := range targets {
			wg.Add(1)
			go func(t target) {
				defer wg.Done()
				base, execID, err := wps.ExecutionFromLocation(t.location)
				if err != nil {
					// No execution id to check against: the entry can
					// never be verified, drop it.
					mu.Lock()
					dead = append(dead, t.id)
					mu.Unlock()
					return
				}
				if _, err := o.cfg.WPS.ExecutionStatusRequest(ctx, base, execID); errors.Is(err, wps.ErrExecutionGone) {
					mu.Lock()
					dead = append(dead, t.id)
					mu.Unlock()
				}
			}(t)
		}
		wg.Wait()
		o.post(ctx, staleCheckDone{dead: dead})
	}()
}

func (o *Orchestrator) handleStaleDone(ctx context.Context, c staleCheckDone) {
	o.checking = false
	removed := o.ledger.RemoveMany(c.dead)
	if len(removed) == 0 {
		return
	}
	o.sync()
	o.emit(JobsRemoved{IDs: removed})
	o.logger.Info("Stale export jobs removed", "count", len(removed))
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordStaleRemoved(ctx, int64(len(removed)))
	}
}

// restoreLedger loads the persisted slot of the given identity. The file
// store already drops previously-pending entries on load.
func (o *Orchestrator) restoreLedger(user string) {
	o.user = user
	if o.cfg.Store == nil || user == "" {
		return
	}

	jobs, err := o.cfg.Store.Load(user)
	if err != nil {
		o.logger.Error("Ledger restore failed", "user", user, "error", err)
		return
	}
	o.ledger.ReplaceAll(jobs)
	o.publish()
	o.logger.Info("Ledger restored", "user", user, "jobs", len(jobs))
}

func (o *Orchestrator) handleLoggedOut() {
	o.cancelAll()
	o.ledger.ReplaceAll(nil)
	o.user = ""
	// The persisted slot is left for the next login of the same identity.
	o.publish()
	o.logger.Info("Ledger cleared on logout")
}

// sync publishes a fresh snapshot and persists the ledger when a user
// identity is available.
func (o *Orchestrator) sync() {
	o.publish()
	if o.user == "" || o.cfg.Store == nil {
		return
	}
	if err := o.cfg.Store.Save(o.user, o.ledger.Jobs()); err != nil {
		o.logger.Error("Ledger persist failed", "user", o.user, "error", err)
	}
}

func (o *Orchestrator) publish() {
	jobs := o.ledger.Jobs()
	o.snapshot.Store(&jobs)
}

func (o *Orchestrator) cancelAll() {
	for id, cancel := range o.cancels {
		cancel()
		delete(o.cancels, id)
	}
}

// post delivers an internal command back onto the stream, giving up when
// the orchestrator is shutting down.
func (o *Orchestrator) post(ctx context.Context, cmd Command) {
	select {
	case o.cmds <- cmd:
	case <-ctx.Done():
	}
}

// emit publishes an event to the in-process stream and, when configured, to
// the webhook dispatcher. The in-process send never blocks the loop.
func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	default:
		o.logger.Warn("Event dropped, buffer full", "type", fmt.Sprintf("%T", ev))
	}

	if o.cfg.Webhooks != nil && o.cfg.CallbackURL != "" {
		if ce := ToCloudEvent(ev); ce != nil {
			_ = o.cfg.Webhooks.Dispatch(&dispatcher.Event{
				Payload:     ce,
				Destination: o.cfg.CallbackURL,
				SigningKey:  o.cfg.SigningKey,
			})
		}
	}
}
