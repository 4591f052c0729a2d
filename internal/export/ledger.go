package export

// Ledger is an insertion-ordered collection of export jobs keyed by id.
//
// The ledger is not safe for concurrent use: it is owned by the orchestrator
// loop and mutated only there. All operations are idempotent with respect to
// unknown ids.
type Ledger struct {
	jobs []Job
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Update carries the fields UpdateByID may change on a job.
type Update struct {
	Status *Status
	Result *Result
}

// Add appends a job. A job whose id is already present is ignored.
func (l *Ledger) Add(job Job) bool {
	if job.ID == "" {
		return false
	}
	if _, ok := l.index(job.ID); ok {
		return false
	}
	l.jobs = append(l.jobs, job)
	return true
}

// UpdateByID applies the update to the job with the given id. Unknown ids are
// a no-op, which guards against races between removal and late resolution.
// Terminal jobs never transition back to pending.
func (l *Ledger) UpdateByID(id string, u Update) bool {
	i, ok := l.index(id)
	if !ok {
		return false
	}
	if u.Status != nil {
		if l.jobs[i].Status.Terminal() && *u.Status == StatusPending {
			return false
		}
		l.jobs[i].Status = *u.Status
	}
	if u.Result != nil {
		l.jobs[i].Result = u.Result
	}
	return true
}

// RemoveByID removes the job with the given id, if present.
func (l *Ledger) RemoveByID(id string) bool {
	i, ok := l.index(id)
	if !ok {
		return false
	}
	l.jobs = append(l.jobs[:i], l.jobs[i+1:]...)
	return true
}

// RemoveMany removes all listed ids and returns the ids actually removed.
func (l *Ledger) RemoveMany(ids []string) []string {
	var removed []string
	for _, id := range ids {
		if l.RemoveByID(id) {
			removed = append(removed, id)
		}
	}
	return removed
}

// ReplaceAll swaps the whole collection, preserving the order given.
func (l *Ledger) ReplaceAll(jobs []Job) {
	l.jobs = make([]Job, 0, len(jobs))
	for _, job := range jobs {
		l.Add(job)
	}
}

// Get returns the job with the given id.
func (l *Ledger) Get(id string) (Job, bool) {
	if i, ok := l.index(id); ok {
		return l.jobs[i], true
	}
	return Job{}, false
}

// Jobs returns a copy of the collection in insertion order.
func (l *Ledger) Jobs() []Job {
	out := make([]Job, len(l.jobs))
	copy(out, l.jobs)
	return out
}

// Len returns the number of jobs.
func (l *Ledger) Len() int {
	return len(l.jobs)
}

func (l *Ledger) index(id string) (int, bool) {
	for i := range l.jobs {
		if l.jobs[i].ID == id {
			return i, true
		}
	}
	return 0, false
}
