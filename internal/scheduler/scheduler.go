// Package scheduler coordinates multi-page scrape sessions. A single event
// loop owns the per-tab job table; page agents, load events, tab closures
// and reaper ticks all reach it through the inbox, so every job transition
// happens on one goroutine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"profilescrape-engine/internal/domain"
	"profilescrape-engine/internal/events"
	"profilescrape-engine/internal/metrics"
	"profilescrape-engine/internal/profile"
	"profilescrape-engine/internal/protocol"
)

var (
	// ErrUnknownTab reports a lookup for a tab with no job.
	ErrUnknownTab = errors.New("no scrape job for tab")
	ErrStopped    = errors.New("scheduler stopped")
)

// Navigator is the browser surface the scheduler drives.
type Navigator interface {
	Navigate(ctx context.Context, tab TabID, url string) error
	// Send delivers an instruction to the agent on the tab's current page
	// without waiting for it to be handled.
	Send(ctx context.Context, tab TabID, msg protocol.Message) error
	// AddLoadListener calls fn after each page load that completes in tab
	// until remove is called.
	AddLoadListener(tab TabID, fn func()) (remove func())
	// Controls reports whether tab can be navigated and instructed.
	Controls(tab TabID) bool
}

type Enricher interface {
	Describe(ctx context.Context, rec domain.ProfileRecord) string
}

type Persister interface {
	Save(ctx context.Context, payload map[string]any) protocol.Response
}

type StatusSetter interface {
	Set(status string)
}

type Publisher interface {
	Publish(evt string)
}

// Sender identifies the page a message came from.
type Sender struct {
	TabID TabID
	URL   string
}

type Options struct {
	Navigator Navigator
	Enricher  Enricher
	Persister Persister
	Status    StatusSetter
	Events    Publisher
	Metrics   *metrics.Metrics
	Logger    *zap.Logger

	EnrichTimeout time.Duration
	Now           func() time.Time
}

type Scheduler struct {
	nav     Navigator
	enrich  Enricher
	persist Persister
	status  StatusSetter
	events  Publisher
	m       *metrics.Metrics
	log     *zap.Logger

	enrichTimeout time.Duration
	now           func() time.Time

	jobs    *jobTable
	inbox   chan event
	stopped chan struct{}
	once    sync.Once
	bg      sync.WaitGroup
	runCtx  context.Context
}

func New(opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.EnrichTimeout <= 0 {
		opts.EnrichTimeout = 60 * time.Second
	}
	return &Scheduler{
		nav:           opts.Navigator,
		enrich:        opts.Enricher,
		persist:       opts.Persister,
		status:        opts.Status,
		events:        opts.Events,
		m:             opts.Metrics,
		log:           opts.Logger.Named("scheduler"),
		enrichTimeout: opts.EnrichTimeout,
		now:           opts.Now,
		jobs:          newJobTable(),
		inbox:         make(chan event),
		stopped:       make(chan struct{}),
	}
}

type eventKind int

const (
	evMessage eventKind = iota
	evLoad
	evTabClosed
	evReap
	evNavigated
)

// navLeg tells a detail-page navigation from a return to the profile.
type navLeg int

const (
	legDetail navLeg = iota
	legReturn
)

func (l navLeg) String() string {
	if l == legReturn {
		return "return"
	}
	return "detail"
}

type event struct {
	kind    eventKind
	from    Sender
	msg     protocol.Message
	jobID   string
	maxIdle time.Duration
	reply   chan outcome

	// navigation results
	leg    navLeg
	navSeq int
	url    string
	err    error
}

// outcome is what the loop hands back to a waiting caller. finish, when
// set, runs on the caller's goroutine after the loop has released the job.
type outcome struct {
	resp   protocol.Response
	finish func(ctx context.Context) protocol.Response
	n      int
}

// Run processes the inbox until ctx is done. Finalizations started by the
// loop itself are waited for before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.runCtx = ctx
	defer func() {
		s.once.Do(func() { close(s.stopped) })
		s.bg.Wait()
	}()
	s.log.Info("scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case ev := <-s.inbox:
			out := s.handle(ctx, ev)
			if ev.reply != nil {
				ev.reply <- out
			}
			s.m.ActiveJobs(s.jobs.len())
		}
	}
}

func (s *Scheduler) shutdown() {
	for _, ji := range s.jobs.snapshot() {
		if j := s.jobs.delete(ji.TabID); j != nil {
			j.abort()
			s.log.Info("job abandoned at shutdown", zap.String("tab", string(j.tab)), zap.String("job", j.id), zap.Stringer("state", j.state))
		}
	}
}

// post hands ev to the loop. It gives up when the loop is gone.
func (s *Scheduler) post(ctx context.Context, ev event) (outcome, error) {
	if ev.reply == nil {
		ev.reply = make(chan outcome, 1)
	}
	select {
	case s.inbox <- ev:
	case <-s.stopped:
		return outcome{}, ErrStopped
	case <-ctx.Done():
		return outcome{}, ctx.Err()
	}
	select {
	case out := <-ev.reply:
		return out, nil
	case <-ctx.Done():
		return outcome{}, ctx.Err()
	}
}

// Deliver routes a message from a page agent (or an external client
// speaking the same protocol) and waits for its acknowledgment.
func (s *Scheduler) Deliver(ctx context.Context, from Sender, msg protocol.Message) (protocol.Response, error) {
	out, err := s.post(ctx, event{kind: evMessage, from: from, msg: msg})
	if err != nil {
		return protocol.Response{}, err
	}
	if out.finish != nil {
		return out.finish(context.WithoutCancel(ctx)), nil
	}
	return out.resp, nil
}

// TabClosed drops the tab's job, if any.
func (s *Scheduler) TabClosed(tab TabID) {
	_, _ = s.post(context.Background(), event{kind: evTabClosed, from: Sender{TabID: tab}})
}

// Reap drops jobs that have not changed state for maxIdle and returns how
// many were dropped.
func (s *Scheduler) Reap(ctx context.Context, maxIdle time.Duration) (int, error) {
	out, err := s.post(ctx, event{kind: evReap, maxIdle: maxIdle})
	return out.n, err
}

func (s *Scheduler) Jobs() []JobInfo { return s.jobs.snapshot() }

func (s *Scheduler) Job(tab TabID) (JobInfo, error) {
	ji, ok := s.jobs.lookup(tab)
	if !ok {
		return JobInfo{}, fmt.Errorf("%w %s", ErrUnknownTab, tab)
	}
	return ji, nil
}

func (s *Scheduler) handle(ctx context.Context, ev event) outcome {
	switch ev.kind {
	case evLoad:
		s.onReturnLoad(ctx, ev.from.TabID, ev.jobID)
	case evNavigated:
		s.onNavigated(ctx, ev)
	case evTabClosed:
		if j := s.jobs.delete(ev.from.TabID); j != nil {
			j.abort()
			s.m.Reaped(1)
			s.log.Info("tab closed, job dropped", zap.String("tab", string(j.tab)), zap.String("job", j.id), zap.Stringer("state", j.state))
		}
	case evReap:
		return outcome{n: s.reap(ev.maxIdle)}
	case evMessage:
		return s.onMessage(ctx, ev.from, ev.msg)
	}
	return outcome{}
}

func (s *Scheduler) onMessage(ctx context.Context, from Sender, msg protocol.Message) outcome {
	switch m := msg.(type) {
	case protocol.SetupPlan:
		return outcome{resp: s.setupPlan(ctx, from.TabID, m.Record, m.Tasks, from.URL)}
	case protocol.DetailResult:
		s.onDetailResult(ctx, from.TabID, m.Section, m.Items)
		return outcome{resp: protocol.OK()}
	case protocol.FinalResult:
		return s.onFinalResult(from.TabID, m.Experience, m.Skills)
	case protocol.SaveSinglePage:
		return s.onSinglePageSave(from.TabID, m.Record)
	}
	s.log.Warn("message not meant for the scheduler", zap.String("kind", string(msg.Kind())))
	return outcome{resp: protocol.Error(fmt.Sprintf("unexpected message %s", msg.Kind()))}
}

func (s *Scheduler) transition(j *job, st State) {
	s.log.Debug("transition",
		zap.String("tab", string(j.tab)),
		zap.String("job", j.id),
		zap.Stringer("from", j.state),
		zap.Stringer("to", st))
	j.state = st
	j.updated = s.now()
	s.jobs.touch(j)
}

func (s *Scheduler) stale(tab TabID, kind string, reason string) {
	s.m.Stale(kind)
	s.log.Info("ignoring stale reference", zap.String("tab", string(tab)), zap.String("kind", kind), zap.String("reason", reason))
}

// setupPlan creates the tab's job, replacing any previous one wholesale,
// and starts dispatching. A tab the navigator cannot drive gets an error and
// no job, so nothing half-collected is ever saved for it.
func (s *Scheduler) setupPlan(ctx context.Context, tab TabID, rec domain.ProfileRecord, tasks []string, originalURL string) protocol.Response {
	if s.nav == nil || !s.nav.Controls(tab) {
		s.log.Warn("plan refused for a tab this engine does not drive",
			zap.String("tab", string(tab)),
			zap.String("candidate", rec.CandidateName),
			zap.Int("tasks", len(tasks)))
		return protocol.Error(fmt.Sprintf("tab %s is not driven by this engine; send %s with the full record instead", tab, protocol.KindSaveSinglePage))
	}
	if originalURL == "" {
		originalURL = rec.LinkedInURL
	}
	j := &job{
		id:          uuid.NewString(),
		tab:         tab,
		record:      profile.Normalize(rec),
		queue:       append([]string(nil), tasks...),
		originalURL: originalURL,
		state:       StateIdle,
		updated:     s.now(),
	}
	if prev := s.jobs.put(j); prev != nil {
		prev.abort()
		s.log.Info("plan replaced existing job", zap.String("tab", string(tab)), zap.String("old_job", prev.id), zap.String("job", j.id))
	}
	s.m.SessionStarted()
	s.log.Info("plan accepted",
		zap.String("tab", string(tab)),
		zap.String("job", j.id),
		zap.String("candidate", rec.CandidateName),
		zap.Int("tasks", len(tasks)))
	s.setStatus(fmt.Sprintf("Scraping %d detail page(s) for %s...", len(tasks), nameOr(rec.CandidateName)))
	s.executeNextTask(ctx, tab)
	return protocol.OK()
}

// executeNextTask visits the next queued detail page or, once the queue is
// empty, asks the restored profile page for its final sections.
func (s *Scheduler) executeNextTask(ctx context.Context, tab TabID) {
	j := s.jobs.get(tab)
	if j == nil {
		s.stale(tab, "execute_next_task", "no job")
		return
	}

	if len(j.queue) > 0 {
		next := j.queue[0]
		j.queue = j.queue[1:]
		j.current = next
		s.transition(j, StateDispatching)
		s.startNavigation(ctx, j, next, legDetail)
		return
	}

	j.current = ""
	s.transition(j, StateAwaitingFinalResult)
	if err := s.nav.Send(ctx, tab, protocol.ScrapeFinal{}); err != nil {
		s.log.Warn("final scrape instruction failed, finishing with collected data", zap.String("tab", string(tab)), zap.Error(err))
		s.finishDetached(j)
		return
	}
	s.log.Info("queue drained, final scrape requested", zap.String("tab", string(tab)), zap.String("job", j.id))
}

// onDetailResult stores a detail page's items and returns the tab to the
// profile. The next task is dispatched only after that return load fires.
func (s *Scheduler) onDetailResult(ctx context.Context, tab TabID, section domain.Section, items []domain.Item) {
	j := s.jobs.get(tab)
	if j == nil {
		s.stale(tab, string(protocol.KindDetailResult), "no job")
		return
	}
	switch j.state {
	case StateAwaitingDetailResult:
	case StateDispatching:
		// the page answered before its navigation was reported
		j.stopNav()
	default:
		s.stale(tab, string(protocol.KindDetailResult), "job is "+j.state.String())
		return
	}
	if section.Valid() {
		j.record = profile.ApplyDetail(j.record, section, items)
	} else {
		s.log.Warn("detail result for unknown section dropped", zap.String("tab", string(tab)), zap.String("section", string(section)))
	}
	s.log.Info("detail result merged", zap.String("tab", string(tab)), zap.String("section", string(section)), zap.Int("items", len(items)))

	s.transition(j, StateReturning)
	j.current = j.originalURL
	// listen before navigating so a fast load cannot be missed
	j.removeListener = s.nav.AddLoadListener(tab, s.returnLoadListener(tab, j.id))
	s.startNavigation(ctx, j, j.originalURL, legReturn)
}

// startNavigation runs Navigate off the loop and posts the outcome back.
// Only the newest navigation of the job is acted on.
func (s *Scheduler) startNavigation(ctx context.Context, j *job, url string, leg navLeg) {
	j.stopNav()
	nctx, cancel := context.WithCancel(ctx)
	j.cancelNav = cancel
	ev := event{kind: evNavigated, from: Sender{TabID: j.tab}, jobID: j.id, leg: leg, navSeq: j.navSeq, url: url}

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer cancel()
		ev.err = s.nav.Navigate(nctx, ev.from.TabID, url)
		s.m.Navigation(leg.String(), ev.err)
		_, _ = s.post(context.Background(), ev)
	}()
}

func (s *Scheduler) onNavigated(ctx context.Context, ev event) {
	tab := ev.from.TabID
	j := s.jobs.get(tab)
	if j == nil || j.id != ev.jobID || j.navSeq != ev.navSeq {
		s.log.Debug("superseded navigation result", zap.String("tab", string(tab)), zap.String("url", ev.url), zap.Error(ev.err))
		return
	}
	j.cancelNav = nil

	switch ev.leg {
	case legDetail:
		if ev.err != nil {
			s.log.Warn("detail navigation failed, skipping page", zap.String("tab", string(tab)), zap.String("url", ev.url), zap.Error(ev.err))
			s.executeNextTask(ctx, tab)
			return
		}
		s.log.Info("navigated to detail page", zap.String("tab", string(tab)), zap.String("job", j.id), zap.String("url", ev.url))
		s.transition(j, StateAwaitingDetailResult)
	case legReturn:
		if ev.err != nil {
			j.dropListener()
			s.log.Warn("return navigation failed, finishing with collected data", zap.String("tab", string(tab)), zap.Error(ev.err))
			s.finishDetached(j)
			return
		}
		s.transition(j, StateAwaitingReturnLoad)
	}
}

// returnLoadListener fires at most once. It never calls into the loop
// synchronously since drivers may invoke it from anywhere.
func (s *Scheduler) returnLoadListener(tab TabID, jobID string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			go func() {
				_, _ = s.post(context.Background(), event{kind: evLoad, from: Sender{TabID: tab}, jobID: jobID})
			}()
		})
	}
}

func (s *Scheduler) onReturnLoad(ctx context.Context, tab TabID, jobID string) {
	j := s.jobs.get(tab)
	if j == nil || j.id != jobID {
		s.stale(tab, "return_load", "job replaced or gone")
		return
	}
	if j.state != StateAwaitingReturnLoad && j.state != StateReturning {
		s.stale(tab, "return_load", "job is "+j.state.String())
		return
	}
	j.dropListener()
	j.stopNav()
	s.executeNextTask(ctx, tab)
}

// onFinalResult applies the final pass and releases the job. Enrichment and
// persistence run on the caller's goroutine.
func (s *Scheduler) onFinalResult(tab TabID, experience []domain.Item, skills []domain.SkillEntry) outcome {
	j := s.jobs.get(tab)
	if j == nil {
		s.stale(tab, string(protocol.KindFinalResult), "no job")
		return outcome{resp: protocol.OK()}
	}
	if j.state != StateAwaitingFinalResult {
		s.stale(tab, string(protocol.KindFinalResult), "job is "+j.state.String())
		return outcome{resp: protocol.OK()}
	}
	j.record = profile.ApplyFinal(j.record, experience, skills)
	rec, id := s.release(j)
	return outcome{finish: func(ctx context.Context) protocol.Response {
		return s.finalize(ctx, tab, id, rec)
	}}
}

func (s *Scheduler) onSinglePageSave(tab TabID, rec domain.ProfileRecord) outcome {
	id := uuid.NewString()
	s.m.SessionStarted()
	s.log.Info("single page record received", zap.String("tab", string(tab)), zap.String("job", id), zap.String("candidate", rec.CandidateName))
	return outcome{finish: func(ctx context.Context) protocol.Response {
		return s.finalize(ctx, tab, id, rec)
	}}
}

// release moves j to DONE and removes it from the table.
func (s *Scheduler) release(j *job) (domain.ProfileRecord, string) {
	s.transition(j, StateDone)
	j.abort()
	s.jobs.delete(j.tab)
	return j.record, j.id
}

// finishDetached finalizes a job from inside the loop, where no caller is
// waiting for the acknowledgment.
func (s *Scheduler) finishDetached(j *job) {
	rec, id := s.release(j)
	ctx := context.Background()
	if s.runCtx != nil {
		ctx = context.WithoutCancel(s.runCtx)
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		s.finalize(ctx, j.tab, id, rec)
	}()
}

// finalize assembles, enriches and persists rec. It always produces a
// terminal response.
func (s *Scheduler) finalize(ctx context.Context, tab TabID, jobID string, rec domain.ProfileRecord) protocol.Response {
	rec = profile.Assemble(rec)
	log := s.log.With(zap.String("tab", string(tab)), zap.String("job", jobID), zap.String("candidate", rec.CandidateName))

	s.setStatus("Generating description for " + nameOr(rec.CandidateName) + "...")
	if s.enrich != nil {
		ectx, cancel := context.WithTimeout(ctx, s.enrichTimeout)
		rec.CandidateDescription = s.enrich.Describe(ectx, rec)
		cancel()
	}

	resp := protocol.Error("no persistence configured")
	if s.persist != nil {
		resp = s.persist.Save(ctx, profile.Payload(rec))
	}
	log.Info("session finished", zap.String("status", resp.Status), zap.String("message", resp.Message))

	s.m.SessionFinished(resp.Status)
	s.setStatus(resp.Message)
	if s.events != nil {
		s.events.Publish(events.MakeEvent(jobID, events.TypeSessionFinished, 1, map[string]any{
			"tab_id":       tab,
			"job_id":       jobID,
			"status":       resp.Status,
			"message":      resp.Message,
			"linkedin_url": rec.LinkedInURL,
			"candidate":    rec.CandidateName,
		}))
	}
	return resp
}

func (s *Scheduler) reap(maxIdle time.Duration) int {
	n := 0
	for _, j := range s.jobs.idle(s.now().Add(-maxIdle)) {
		j.abort()
		s.jobs.delete(j.tab)
		n++
		s.log.Info("idle job reaped", zap.String("tab", string(j.tab)), zap.String("job", j.id), zap.Stringer("state", j.state))
	}
	s.m.Reaped(n)
	return n
}

func (s *Scheduler) setStatus(msg string) {
	if s.status != nil && msg != "" {
		s.status.Set(msg)
	}
}

func nameOr(name string) string {
	if name == "" {
		return "candidate"
	}
	return name
}
