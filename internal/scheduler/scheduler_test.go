package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"profilescrape-engine/internal/domain"
	"profilescrape-engine/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	tab    TabID = "tab-1"
	origin       = "https://www.linkedin.com/in/jane"
	eduURL       = "https://www.linkedin.com/in/jane/details/education/"
	expURL       = "https://www.linkedin.com/in/jane/details/experience/"
)

type fakeNav struct {
	mu        sync.Mutex
	calls     []string
	listeners map[int]func()
	next      int
	navErr    map[string]error
	sendErr   error
	undriven  bool
	blockNav  chan struct{}
}

func newFakeNav() *fakeNav {
	return &fakeNav{listeners: make(map[int]func()), navErr: make(map[string]error)}
}

func (f *fakeNav) Navigate(ctx context.Context, _ TabID, url string) error {
	f.mu.Lock()
	f.calls = append(f.calls, "navigate "+url)
	err, block := f.navErr[url], f.blockNav
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeNav) Controls(TabID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.undriven
}

func (f *fakeNav) Send(_ context.Context, _ TabID, msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "send "+string(msg.Kind()))
	return f.sendErr
}

func (f *fakeNav) AddLoadListener(_ TabID, fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.listeners[id] = fn
	f.calls = append(f.calls, "listen")
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.listeners[id]; ok {
			delete(f.listeners, id)
			f.calls = append(f.calls, "unlisten")
		}
	}
}

// fireLoad simulates a page load completing in the tab.
func (f *fakeNav) fireLoad() {
	f.mu.Lock()
	fns := make([]func(), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (f *fakeNav) failNavigation(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navErr[url] = err
}

func (f *fakeNav) listening() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeNav) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type sink struct {
	mu        sync.Mutex
	payloads  []map[string]any
	described []domain.ProfileRecord
	statuses  []string
	resp      protocol.Response
}

func (s *sink) Describe(_ context.Context, rec domain.ProfileRecord) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.described = append(s.described, rec)
	return "generated"
}

func (s *sink) Save(_ context.Context, payload map[string]any) protocol.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	if s.resp.Status != "" {
		return s.resp
	}
	return protocol.Success("Profile saved successfully!")
}

func (s *sink) Set(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
}

func (s *sink) saved() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.payloads...)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	s     *Scheduler
	nav   *fakeNav
	sink  *sink
	clock *clock
}

func start(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		nav:   newFakeNav(),
		sink:  &sink{},
		clock: &clock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
	}
	h.s = New(Options{
		Navigator: h.nav,
		Enricher:  h.sink,
		Persister: h.sink,
		Status:    h.sink,
		Logger:    zap.NewNop(),
		Now:       h.clock.Now,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) deliver(t *testing.T, msg protocol.Message) protocol.Response {
	t.Helper()
	resp, err := h.s.Deliver(context.Background(), Sender{TabID: tab, URL: origin}, msg)
	require.NoError(t, err)
	return resp
}

func (h *harness) waitState(t *testing.T, st State) {
	t.Helper()
	require.Eventually(t, func() bool {
		ji, err := h.s.Job(tab)
		return err == nil && ji.State == st
	}, time.Second, time.Millisecond, "waiting for %s", st)
}

func plan(name string, tasks ...string) protocol.SetupPlan {
	return protocol.SetupPlan{
		Record: domain.ProfileRecord{CandidateName: name, LinkedInURL: origin},
		Tasks:  tasks,
	}
}

func TestEndToEndOrderIsStrictlySequential(t *testing.T) {
	h := start(t)

	resp := h.deliver(t, plan("Jane Doe", eduURL, expURL))
	assert.Equal(t, protocol.StatusOK, resp.Status)
	h.waitState(t, StateAwaitingDetailResult)
	assert.Equal(t, []string{"navigate " + eduURL}, h.nav.history())

	h.deliver(t, protocol.DetailResult{Section: domain.SectionEducation, Items: []domain.Item{{"School": "MIT"}}})
	h.waitState(t, StateAwaitingReturnLoad)
	assert.Equal(t, []string{"navigate " + eduURL, "listen", "navigate " + origin}, h.nav.history())

	h.nav.fireLoad()
	h.waitState(t, StateAwaitingDetailResult)

	h.deliver(t, protocol.DetailResult{Section: domain.SectionExperience, Items: []domain.Item{{"Position": "Staff Engineer", "Company": "Acme"}}})
	h.waitState(t, StateAwaitingReturnLoad)

	h.nav.fireLoad()
	h.waitState(t, StateAwaitingFinalResult)
	assert.Zero(t, h.nav.listening())

	resp = h.deliver(t, protocol.FinalResult{
		Experience: []domain.Item{{"Position": "fallback"}},
		Skills:     []domain.SkillEntry{{SkillName: "Go", Details: []domain.SkillDetail{}}},
	})
	assert.Equal(t, protocol.Success("Profile saved successfully!"), resp)

	assert.Equal(t, []string{
		"navigate " + eduURL,
		"listen",
		"navigate " + origin,
		"unlisten",
		"navigate " + expURL,
		"listen",
		"navigate " + origin,
		"unlisten",
		"send SCRAPE_FINAL",
	}, h.nav.history())

	saved := h.sink.saved()
	require.Len(t, saved, 1)
	p := saved[0]
	assert.Equal(t, []domain.Item{{"School": "MIT"}}, p["education"])
	assert.Equal(t, []domain.Item{{"Position": "Staff Engineer", "Company": "Acme"}}, p["experience"])
	assert.Equal(t, []domain.SkillEntry{{SkillName: "Go", Details: []domain.SkillDetail{}}}, p["skills"])
	assert.Equal(t, "generated", p["candidate_description"])
	assert.Equal(t, "Acme", p["current_company"])

	_, err := h.s.Job(tab)
	assert.ErrorIs(t, err, ErrUnknownTab)
	h.sink.mu.Lock()
	assert.Contains(t, h.sink.statuses, "Profile saved successfully!")
	h.sink.mu.Unlock()
}

func TestNextTaskWaitsForReturnLoad(t *testing.T) {
	h := start(t)
	h.deliver(t, plan("Jane", eduURL, expURL))
	h.deliver(t, protocol.DetailResult{Section: domain.SectionEducation})

	// a duplicate result while returning must not dispatch anything
	h.deliver(t, protocol.DetailResult{Section: domain.SectionEducation})
	assert.Never(t, func() bool {
		for _, c := range h.nav.history() {
			if c == "navigate "+expURL {
				return true
			}
		}
		return false
	}, 50*time.Millisecond, 5*time.Millisecond)

	h.nav.fireLoad()
	h.waitState(t, StateAwaitingDetailResult)
	ji, err := h.s.Job(tab)
	require.NoError(t, err)
	assert.Equal(t, expURL, ji.Current)
	assert.Empty(t, ji.Pending)
}

func TestListenerFiresOnlyOnce(t *testing.T) {
	h := start(t)
	h.deliver(t, plan("Jane", eduURL, expURL))
	h.deliver(t, protocol.DetailResult{Section: domain.SectionEducation})

	h.nav.mu.Lock()
	var fn func()
	for _, l := range h.nav.listeners {
		fn = l
	}
	h.nav.mu.Unlock()
	require.NotNil(t, fn)

	fn()
	fn()
	h.waitState(t, StateAwaitingDetailResult)
	h.deliver(t, protocol.DetailResult{Section: domain.SectionExperience})
	h.waitState(t, StateAwaitingReturnLoad)

	// the earlier listener is spent even though it is invoked again
	fn()
	assert.Never(t, func() bool {
		ji, err := h.s.Job(tab)
		return err != nil || ji.State != StateAwaitingReturnLoad
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestReplacingPlanDiscardsOldJob(t *testing.T) {
	h := start(t)
	h.deliver(t, plan("Old Name", eduURL, expURL))
	h.deliver(t, protocol.DetailResult{Section: domain.SectionEducation, Items: []domain.Item{{"School": "Old"}}})
	h.waitState(t, StateAwaitingReturnLoad)
	require.Equal(t, 1, h.nav.listening())

	h.nav.mu.Lock()
	var oldListener func()
	for _, l := range h.nav.listeners {
		oldListener = l
	}
	h.nav.mu.Unlock()

	h.deliver(t, plan("New Name"))
	h.waitState(t, StateAwaitingFinalResult)
	assert.Zero(t, h.nav.listening())

	ji, err := h.s.Job(tab)
	require.NoError(t, err)
	assert.Equal(t, "New Name", ji.Candidate)

	oldListener()
	assert.Never(t, func() bool {
		ji, err := h.s.Job(tab)
		return err != nil || ji.State != StateAwaitingFinalResult
	}, 50*time.Millisecond, 5*time.Millisecond)

	h.deliver(t, protocol.FinalResult{})
	saved := h.sink.saved()
	require.Len(t, saved, 1)
	assert.Equal(t, "New Name", saved[0]["candidate_name"])
	assert.Equal(t, []domain.Item{}, saved[0]["education"])
}

func TestFinalExperienceIsOnlyAFallback(t *testing.T) {
	h := start(t)
	h.deliver(t, plan("Jane", eduURL))
	h.deliver(t, protocol.DetailResult{Section: domain.SectionEducation})
	h.nav.fireLoad()
	h.waitState(t, StateAwaitingFinalResult)

	a := domain.Item{"Position": "A"}
	b := domain.Item{"Position": "B"}
	h.deliver(t, protocol.FinalResult{Experience: []domain.Item{a, b}})

	saved := h.sink.saved()
	require.Len(t, saved, 1)
	assert.Equal(t, []domain.Item{a, b}, saved[0]["experience"])
	assert.Equal(t, []domain.SkillEntry{}, saved[0]["skills"])
}

func TestUnknownTabMessagesAreIgnored(t *testing.T) {
	h := start(t)

	resp := h.deliver(t, protocol.DetailResult{Section: domain.SectionEducation})
	assert.Equal(t, protocol.StatusOK, resp.Status)
	resp = h.deliver(t, protocol.FinalResult{})
	assert.Equal(t, protocol.StatusOK, resp.Status)

	assert.Empty(t, h.nav.history())
	assert.Empty(t, h.sink.saved())
}

func TestOutOfStateFinalResultIsIgnored(t *testing.T) {
	h := start(t)
	h.deliver(t, plan("Jane", eduURL))
	h.deliver(t, protocol.FinalResult{})

	assert.Empty(t, h.sink.saved())
	h.waitState(t, StateAwaitingDetailResult)
}

func TestFailedDetailNavigationSkipsPage(t *testing.T) {
	h := start(t)
	h.nav.failNavigation(eduURL, errors.New("net::ERR_ABORTED"))

	h.deliver(t, plan("Jane", eduURL, expURL))
	h.waitState(t, StateAwaitingDetailResult)
	assert.Equal(t, []string{"navigate " + eduURL, "navigate " + expURL}, h.nav.history())

	h.nav.failNavigation(expURL, errors.New("gone"))
	h.deliver(t, plan("Jane", expURL))
	h.waitState(t, StateAwaitingFinalResult)
}

func TestFailedReturnNavigationStillPersists(t *testing.T) {
	h := start(t)
	h.deliver(t, plan("Jane", eduURL, expURL))
	h.nav.failNavigation(origin, errors.New("tab crashed"))

	h.deliver(t, protocol.DetailResult{Section: domain.SectionEducation, Items: []domain.Item{{"School": "MIT"}}})

	require.Eventually(t, func() bool { return len(h.sink.saved()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []domain.Item{{"School": "MIT"}}, h.sink.saved()[0]["education"])
	assert.Zero(t, h.nav.listening())
	_, err := h.s.Job(tab)
	assert.ErrorIs(t, err, ErrUnknownTab)
}

func TestFailedFinalInstructionStillPersists(t *testing.T) {
	h := start(t)
	h.nav.sendErr = errors.New("no agent")
	h.deliver(t, plan("Jane"))

	require.Eventually(t, func() bool { return len(h.sink.saved()) == 1 }, time.Second, time.Millisecond)
	_, err := h.s.Job(tab)
	assert.ErrorIs(t, err, ErrUnknownTab)
}

func TestSinglePageSaveBypassesJobs(t *testing.T) {
	h := start(t)
	h.sink.resp = protocol.Error("This profile already exists.")

	var rec domain.ProfileRecord
	rec.CandidateName = "Jane"
	rec.Extra = map[string]json.RawMessage{"rogue": json.RawMessage(`1`)}
	resp := h.deliver(t, protocol.SaveSinglePage{Record: rec})

	assert.Equal(t, protocol.Error("This profile already exists."), resp)
	assert.Empty(t, h.s.Jobs())
	saved := h.sink.saved()
	require.Len(t, saved, 1)
	assert.NotContains(t, saved[0], "rogue")
	assert.Equal(t, domain.SourceTag, saved[0]["source"])
	assert.Equal(t, []domain.Item{}, saved[0]["experience"])
}

func TestTabClosedDropsJob(t *testing.T) {
	h := start(t)
	h.deliver(t, plan("Jane", eduURL, expURL))
	h.deliver(t, protocol.DetailResult{Section: domain.SectionEducation})
	require.Equal(t, 1, h.nav.listening())

	h.s.TabClosed(tab)
	assert.Empty(t, h.s.Jobs())
	assert.Zero(t, h.nav.listening())
}

func TestReapDropsIdleJobs(t *testing.T) {
	h := start(t)
	h.deliver(t, plan("Jane", eduURL))
	h.waitState(t, StateAwaitingDetailResult)

	n, err := h.s.Reap(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(11 * time.Minute)
	n, err = h.s.Reap(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, h.s.Jobs())
}

func TestWrongDirectionMessageIsRejected(t *testing.T) {
	h := start(t)
	resp := h.deliver(t, protocol.StartSession{})
	assert.Equal(t, protocol.StatusError, resp.Status)
}

func TestDeliverAfterStop(t *testing.T) {
	s := New(Options{Navigator: newFakeNav()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))

	_, err := s.Deliver(context.Background(), Sender{TabID: tab}, plan("x"))
	assert.ErrorIs(t, err, ErrStopped)
}

func TestStateNames(t *testing.T) {
	b, err := StateAwaitingReturnLoad.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "AWAITING_RETURN_LOAD", string(b))
	assert.Equal(t, "UNKNOWN", State(42).String())
}

func TestEveryRunsImmediatelyAndOnTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	runs := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		Every(ctx, 5*time.Millisecond, "test", zap.NewNop(), func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			runs++
			return errors.New("logged, not fatal")
		})
	}()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs >= 3
	}, time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestPlanForUndrivenTabIsRefused(t *testing.T) {
	h := start(t)
	h.nav.undriven = true

	resp := h.deliver(t, plan("Jane", eduURL, expURL))
	assert.Equal(t, protocol.StatusError, resp.Status)
	assert.Contains(t, resp.Message, string(protocol.KindSaveSinglePage))

	resp = h.deliver(t, plan("Jane"))
	assert.Equal(t, protocol.StatusError, resp.Status)

	assert.Never(t, func() bool { return len(h.sink.saved()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Empty(t, h.nav.history())
	assert.Empty(t, h.s.Jobs())

	// the full record still goes through
	resp = h.deliver(t, protocol.SaveSinglePage{Record: domain.ProfileRecord{CandidateName: "Jane", LinkedInURL: origin}})
	assert.Equal(t, protocol.StatusSuccess, resp.Status)
	require.Len(t, h.sink.saved(), 1)
}

func TestSlowNavigationDoesNotBlockOtherTabs(t *testing.T) {
	h := start(t)
	h.nav.blockNav = make(chan struct{})
	defer close(h.nav.blockNav)

	h.deliver(t, plan("Jane", eduURL))
	h.waitState(t, StateDispatching)

	other := TabID("tab-2")
	done := make(chan protocol.Response, 1)
	go func() {
		resp, err := h.s.Deliver(context.Background(), Sender{TabID: other}, protocol.SaveSinglePage{Record: domain.ProfileRecord{CandidateName: "Ann"}})
		if err == nil {
			done <- resp
		}
	}()
	select {
	case resp := <-done:
		assert.Equal(t, protocol.StatusSuccess, resp.Status)
	case <-time.After(time.Second):
		t.Fatal("a pending navigation held up another tab")
	}

	n, err := h.s.Reap(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDetailResultBeforeNavigationIsReported(t *testing.T) {
	h := start(t)
	h.nav.blockNav = make(chan struct{})

	h.deliver(t, plan("Jane", eduURL, expURL))
	h.waitState(t, StateDispatching)

	// the detail page can answer before Navigate returns
	h.deliver(t, protocol.DetailResult{Section: domain.SectionEducation, Items: []domain.Item{{"School": "MIT"}}})
	h.waitState(t, StateReturning)
	h.nav.fireLoad()
	h.waitState(t, StateDispatching)

	close(h.nav.blockNav)
	h.waitState(t, StateAwaitingDetailResult)
	ji, err := h.s.Job(tab)
	require.NoError(t, err)
	assert.Equal(t, expURL, ji.Current)
}

func TestClosingTabCancelsNavigation(t *testing.T) {
	h := start(t)
	h.nav.blockNav = make(chan struct{})
	defer close(h.nav.blockNav)

	h.deliver(t, plan("Jane", eduURL))
	h.waitState(t, StateDispatching)
	h.s.TabClosed(tab)

	assert.Empty(t, h.s.Jobs())
	assert.Never(t, func() bool { return len(h.sink.saved()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}
