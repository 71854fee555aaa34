package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"profilescrape-engine/internal/domain"
)

// TabID identifies a browser tab.
type TabID string

type State int

const (
	StateIdle State = iota
	StateDispatching
	StateAwaitingDetailResult
	StateReturning
	StateAwaitingReturnLoad
	StateAwaitingFinalResult
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateDispatching:
		return "DISPATCHING"
	case StateAwaitingDetailResult:
		return "AWAITING_DETAIL_RESULT"
	case StateReturning:
		return "RETURNING"
	case StateAwaitingReturnLoad:
		return "AWAITING_RETURN_LOAD"
	case StateAwaitingFinalResult:
		return "AWAITING_FINAL_RESULT"
	case StateDone:
		return "DONE"
	}
	return "UNKNOWN"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// job is the session state that survives navigations. Only the scheduler
// loop reads or writes its fields.
type job struct {
	id          string
	tab         TabID
	record      domain.ProfileRecord
	queue       []string
	originalURL string
	current     string
	state       State
	updated     time.Time

	removeListener func()

	// navSeq identifies the newest navigation; results of older ones are
	// ignored.
	navSeq    int
	cancelNav context.CancelFunc
}

func (j *job) dropListener() {
	if j.removeListener != nil {
		j.removeListener()
		j.removeListener = nil
	}
}

// stopNav supersedes any navigation in flight.
func (j *job) stopNav() {
	j.navSeq++
	if j.cancelNav != nil {
		j.cancelNav()
		j.cancelNav = nil
	}
}

func (j *job) abort() {
	j.dropListener()
	j.stopNav()
}

// JobInfo is a read-only copy of a job for observers outside the loop.
type JobInfo struct {
	TabID       TabID     `json:"tab_id"`
	JobID       string    `json:"job_id"`
	State       State     `json:"state"`
	Pending     []string  `json:"pending"`
	Current     string    `json:"current,omitempty"`
	OriginalURL string    `json:"original_url"`
	Candidate   string    `json:"candidate,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (j *job) info() JobInfo {
	return JobInfo{
		TabID:       j.tab,
		JobID:       j.id,
		State:       j.state,
		Pending:     append([]string{}, j.queue...),
		Current:     j.current,
		OriginalURL: j.originalURL,
		Candidate:   j.record.CandidateName,
		UpdatedAt:   j.updated,
	}
}

// jobTable holds at most one job per tab. Mutations come only from the
// scheduler loop; the published copies may be read from anywhere.
type jobTable struct {
	mu    sync.RWMutex
	jobs  map[TabID]*job
	infos map[TabID]JobInfo
}

func newJobTable() *jobTable {
	return &jobTable{
		jobs:  make(map[TabID]*job),
		infos: make(map[TabID]JobInfo),
	}
}

// put stores j, returning the job it replaced.
func (t *jobTable) put(j *job) *job {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.jobs[j.tab]
	t.jobs[j.tab] = j
	t.infos[j.tab] = j.info()
	return prev
}

func (t *jobTable) get(tab TabID) *job {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.jobs[tab]
}

func (t *jobTable) delete(tab TabID) *job {
	t.mu.Lock()
	defer t.mu.Unlock()
	j := t.jobs[tab]
	delete(t.jobs, tab)
	delete(t.infos, tab)
	return j
}

// touch republishes j after a mutation.
func (t *jobTable) touch(j *job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.jobs[j.tab] == j {
		t.infos[j.tab] = j.info()
	}
}

func (t *jobTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.jobs)
}

func (t *jobTable) lookup(tab TabID) (JobInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ji, ok := t.infos[tab]
	return ji, ok
}

// snapshot returns the published jobs ordered by tab.
func (t *jobTable) snapshot() []JobInfo {
	t.mu.RLock()
	out := make([]JobInfo, 0, len(t.infos))
	for _, ji := range t.infos {
		out = append(out, ji)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool { return out[a].TabID < out[b].TabID })
	return out
}

// idle lists jobs whose last transition is older than cutoff.
func (t *jobTable) idle(cutoff time.Time) []*job {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*job
	for _, j := range t.jobs {
		if j.updated.Before(cutoff) {
			out = append(out, j)
		}
	}
	return out
}
