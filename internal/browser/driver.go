// Package browser drives Chrome tabs over the DevTools protocol. Each page
// load of a tracked tab gets a fresh page agent whose context is cancelled
// when the tab navigates again or closes.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"profilescrape-engine/internal/agent"
	"profilescrape-engine/internal/dom"
	"profilescrape-engine/internal/protocol"
	"profilescrape-engine/internal/scheduler"
	"profilescrape-engine/internal/scrape/util"
)

var (
	ErrNotStarted = errors.New("browser not connected")
	ErrUnknownTab = errors.New("tab is not tracked")
	ErrNoAgent    = errors.New("tab has no loaded page")
)

// Router receives what page agents report and learns about closed tabs.
type Router interface {
	Deliver(ctx context.Context, from scheduler.Sender, msg protocol.Message) (protocol.Response, error)
	TabClosed(tab scheduler.TabID)
}

type Options struct {
	// ControlURL attaches to a running browser. Empty launches one.
	ControlURL        string
	Bin               string
	Headless          bool
	NavigationTimeout time.Duration
	Limiter           *util.HostLimiter

	Selectors agent.Selectors
	Timings   dom.Timings
	Logger    *zap.Logger
}

type Driver struct {
	opts Options
	log  *zap.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	launched *launcher.Launcher
	router   Router
	ctx      context.Context
	tabs     map[scheduler.TabID]*tab
}

type tab struct {
	id   scheduler.TabID
	page *rod.Page

	mu        sync.Mutex
	url       string
	agent     *agent.Agent
	agentCtx  context.Context
	cancel    context.CancelFunc
	listeners map[int]func()
	nextID    int
}

func New(opts Options) *Driver {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	return &Driver{
		opts: opts,
		log:  opts.Logger.Named("browser"),
		tabs: make(map[scheduler.TabID]*tab),
	}
}

// Start connects to (or launches) the browser and begins watching for
// closed targets. Agent output is routed to r until ctx is done.
func (d *Driver) Start(ctx context.Context, r Router) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browser != nil {
		return nil
	}

	controlURL := d.opts.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(d.opts.Headless)
		if d.opts.Bin != "" {
			l = l.Bin(d.opts.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		d.launched = l
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		if d.launched != nil {
			d.launched.Kill()
			d.launched = nil
		}
		return fmt.Errorf("connect to chrome: %w", err)
	}
	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(b); err != nil {
		d.log.Warn("target discovery unavailable, closed tabs rely on the idle reaper", zap.Error(err))
	}

	d.browser = b
	d.router = r
	d.ctx = ctx

	go b.EachEvent(func(ev *proto.TargetTargetDestroyed) {
		d.dropTab(scheduler.TabID(ev.TargetID))
	})()

	d.log.Info("browser connected", zap.String("control_url", controlURL), zap.Bool("launched", d.launched != nil))
	return nil
}

// Shutdown stops every agent and closes the browser if this driver
// launched it. An attached browser is left running.
func (d *Driver) Shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, t := range d.tabs {
		t.stopAgent()
		delete(d.tabs, id)
	}
	if d.browser == nil {
		return nil
	}

	var err error
	if d.launched != nil {
		err = d.browser.Close()
		d.launched.Kill()
		d.launched = nil
	}
	d.browser = nil
	return err
}

// Open creates a tab, starts tracking it and navigates it to url.
func (d *Driver) Open(ctx context.Context, url string) (scheduler.TabID, error) {
	b, err := d.connected()
	if err != nil {
		return "", err
	}
	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}
	t := d.track(page)
	if err := d.Navigate(ctx, t.id, url); err != nil {
		return t.id, err
	}
	return t.id, nil
}

// Attach tracks an existing tab and gives its current page an agent.
func (d *Driver) Attach(ctx context.Context, targetID string) (scheduler.TabID, error) {
	b, err := d.connected()
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	t, ok := d.tabs[scheduler.TabID(targetID)]
	d.mu.Unlock()
	if ok {
		return t.id, nil
	}

	page, err := b.PageFromTarget(proto.TargetTargetID(targetID))
	if err != nil {
		return "", fmt.Errorf("attach to target %s: %w", targetID, err)
	}
	t = d.track(page)
	d.loaded(t)
	return t.id, nil
}

// Close closes the tab. Its job is dropped when the browser reports the
// target destroyed.
func (d *Driver) Close(id scheduler.TabID) error {
	t, err := d.tab(id)
	if err != nil {
		return err
	}
	return t.page.Close()
}

func (d *Driver) Navigate(ctx context.Context, id scheduler.TabID, url string) error {
	t, err := d.tab(id)
	if err != nil {
		return err
	}
	if err := d.opts.Limiter.WaitURL(ctx, url); err != nil {
		return err
	}
	d.log.Debug("navigate", zap.String("tab", string(id)), zap.String("url", url))
	if err := t.page.Context(ctx).Timeout(d.opts.NavigationTimeout).Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Send hands msg to the agent of the tab's current page and returns
// without waiting for it to be handled.
func (d *Driver) Send(_ context.Context, id scheduler.TabID, msg protocol.Message) error {
	t, err := d.tab(id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	a, actx := t.agent, t.agentCtx
	t.mu.Unlock()
	if a == nil {
		return ErrNoAgent
	}

	log := d.log.With(zap.String("tab", string(id)), zap.String("kind", string(msg.Kind())))
	go func() {
		resp, err := a.Handle(actx, msg)
		switch {
		case err != nil && actx.Err() != nil:
			log.Debug("instruction abandoned by navigation", zap.Error(err))
		case err != nil:
			log.Warn("instruction failed", zap.Error(err))
		default:
			log.Debug("instruction handled", zap.String("status", resp.Status), zap.String("message", resp.Message))
		}
	}()
	return nil
}

// SendWhenReady retries Send until the tab's page has loaded, giving up
// after the navigation timeout.
func (d *Driver) SendWhenReady(ctx context.Context, id scheduler.TabID, msg protocol.Message) error {
	ctx, cancel := context.WithTimeout(ctx, d.opts.NavigationTimeout)
	defer cancel()

	t := time.NewTicker(200 * time.Millisecond)
	defer t.Stop()
	for {
		err := d.Send(ctx, id, msg)
		if !errors.Is(err, ErrNoAgent) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", err, ctx.Err())
		case <-t.C:
		}
	}
}

func (d *Driver) AddLoadListener(id scheduler.TabID, fn func()) (remove func()) {
	t, err := d.tab(id)
	if err != nil {
		return func() {}
	}
	t.mu.Lock()
	key := t.nextID
	t.nextID++
	t.listeners[key] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, key)
		t.mu.Unlock()
	}
}

// Controls reports whether id is a tab this driver tracks.
func (d *Driver) Controls(id scheduler.TabID) bool {
	_, err := d.tab(id)
	return err == nil
}

// Tabs lists tracked tab ids.
func (d *Driver) Tabs() []scheduler.TabID {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]scheduler.TabID, 0, len(d.tabs))
	for id := range d.tabs {
		out = append(out, id)
	}
	return out
}

func (d *Driver) connected() (*rod.Browser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browser == nil {
		return nil, ErrNotStarted
	}
	return d.browser, nil
}

func (d *Driver) tab(id scheduler.TabID) (*tab, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tabs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTab, id)
	}
	return t, nil
}

func (d *Driver) track(page *rod.Page) *tab {
	t := &tab{
		id:        scheduler.TabID(page.TargetID),
		page:      page,
		listeners: make(map[int]func()),
	}
	d.mu.Lock()
	d.tabs[t.id] = t
	ctx := d.ctx
	d.mu.Unlock()

	go page.Context(ctx).EachEvent(func(*proto.PageLoadEventFired) {
		d.loaded(t)
	})()
	return t
}

// loaded replaces the tab's agent, tells load listeners and runs the new
// agent's on-load routine.
func (d *Driver) loaded(t *tab) {
	d.mu.Lock()
	parent, r := d.ctx, d.router
	d.mu.Unlock()

	url := ""
	if info, err := t.page.Info(); err == nil {
		url = info.URL
	}
	if url == "" || strings.HasPrefix(url, "about:") {
		return
	}

	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	actx, cancel := context.WithCancel(parent)
	sender := scheduler.Sender{TabID: t.id, URL: url}
	out := agent.OutboxFunc(func(ctx context.Context, msg protocol.Message) (protocol.Response, error) {
		return r.Deliver(ctx, sender, msg)
	})
	a := agent.New(dom.NewRodDocument(t.page.Context(actx), d.opts.Logger), out, agent.Options{
		Selectors: d.opts.Selectors,
		Timings:   d.opts.Timings,
		Logger:    d.opts.Logger,
	})
	t.url, t.agent, t.agentCtx, t.cancel = url, a, actx, cancel
	listeners := make([]func(), 0, len(t.listeners))
	for _, fn := range t.listeners {
		listeners = append(listeners, fn)
	}
	t.mu.Unlock()

	d.log.Debug("page loaded", zap.String("tab", string(t.id)), zap.String("url", url))
	for _, fn := range listeners {
		fn()
	}

	go func() {
		if err := a.OnLoad(actx); err != nil && actx.Err() == nil {
			d.log.Warn("page agent failed", zap.String("tab", string(t.id)), zap.String("url", url), zap.Error(err))
		}
	}()
}

func (d *Driver) dropTab(id scheduler.TabID) {
	d.mu.Lock()
	t, ok := d.tabs[id]
	delete(d.tabs, id)
	r := d.router
	d.mu.Unlock()
	if !ok {
		return
	}
	t.stopAgent()
	d.log.Info("tab closed", zap.String("tab", string(id)))
	if r != nil {
		go r.TabClosed(id)
	}
}

func (t *tab) stopAgent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
	t.agent = nil
	t.listeners = make(map[int]func())
}
