package dom

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/ysmood/gson"
	"go.uber.org/zap"
)

var bindingSeq atomic.Uint64

// teardownTimeout bounds the calls that remove an observer after its
// page-load context is gone.
const teardownTimeout = 5 * time.Second

// RodDocument adapts a go-rod page. Bind the page to the page-load context
// with page.Context(ctx) before wrapping it so every call is cancelled when
// the tab navigates away.
type RodDocument struct {
	page *rod.Page
	log  *zap.Logger
}

func NewRodDocument(page *rod.Page, log *zap.Logger) *RodDocument {
	if log == nil {
		log = zap.NewNop()
	}
	return &RodDocument{page: page, log: log.Named("dom")}
}

func (d *RodDocument) Query(selector string) (Node, error) {
	els, err := d.page.Elements(selector)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, nil
	}
	return &rodNode{el: els[0]}, nil
}

func (d *RodDocument) QueryAll(selector string) ([]Node, error) {
	els, err := d.page.Elements(selector)
	if err != nil {
		return nil, err
	}
	return wrap(els), nil
}

const observeJS = `(name) => {
	const obs = new MutationObserver(() => { window[name](); });
	obs.observe(document.documentElement || document.body, { childList: true, subtree: true, characterData: true });
	window[name + "_obs"] = obs;
}`

const unobserveJS = `(name) => {
	const obs = window[name + "_obs"];
	if (obs) { obs.disconnect(); delete window[name + "_obs"]; }
}`

// Observe bridges a MutationObserver in the page to a Go channel through an
// exposed binding. The binding is registered outside the page-load context
// so stop can still remove it after the tab has navigated away.
func (d *RodDocument) Observe() (<-chan struct{}, func(), error) {
	name := fmt.Sprintf("__profileMutation%d", bindingSeq.Add(1))
	ch := make(chan struct{}, 1)

	bctx, bcancel := context.WithCancel(context.WithoutCancel(d.page.GetContext()))
	stopBinding, err := d.page.Context(bctx).Expose(name, func(gson.JSON) (interface{}, error) {
		select {
		case ch <- struct{}{}:
		default:
		}
		return nil, nil
	})
	if err != nil {
		bcancel()
		return nil, nil, fmt.Errorf("expose %s: %w", name, err)
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			timer := time.AfterFunc(teardownTimeout, bcancel)
			defer timer.Stop()
			defer bcancel()

			// the observer dies with its document, so this only matters
			// when the page is still the one we observed
			if _, err := d.page.Context(bctx).Eval(unobserveJS, name); err != nil {
				d.log.Debug("disconnect mutation observer", zap.String("binding", name), zap.Error(err))
			}
			if err := stopBinding(); err != nil {
				d.log.Warn("remove mutation binding", zap.String("binding", name), zap.Error(err))
			}
		})
	}

	if _, err := d.page.Eval(observeJS, name); err != nil {
		stop()
		return nil, nil, fmt.Errorf("observe mutations: %w", err)
	}
	return ch, stop, nil
}

func (d *RodDocument) ScrollBy(px int) error {
	_, err := d.page.Eval(`(y) => window.scrollBy(0, y)`, px)
	return err
}

func (d *RodDocument) ScrollHeight() (int, error) {
	res, err := d.page.Eval(`() => document.body ? document.body.scrollHeight : 0`)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

func (d *RodDocument) HTML() (string, error) {
	return d.page.HTML()
}

func (d *RodDocument) URL() (string, error) {
	info, err := d.page.Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

type rodNode struct {
	el *rod.Element
}

func wrap(els rod.Elements) []Node {
	out := make([]Node, 0, len(els))
	for _, el := range els {
		out = append(out, &rodNode{el: el})
	}
	return out
}

func (n *rodNode) Query(selector string) (Node, error) {
	els, err := n.el.Elements(selector)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, nil
	}
	return &rodNode{el: els[0]}, nil
}

func (n *rodNode) QueryAll(selector string) ([]Node, error) {
	els, err := n.el.Elements(selector)
	if err != nil {
		return nil, err
	}
	return wrap(els), nil
}

func (n *rodNode) Closest(selector string) (Node, error) {
	obj, err := n.el.Evaluate(rod.Eval(`(s) => this.closest(s)`, selector).ByObject())
	if err != nil {
		return nil, err
	}
	if obj == nil || obj.ObjectID == "" {
		return nil, nil
	}
	el, err := n.el.Page().ElementFromObject(obj)
	if err != nil {
		return nil, err
	}
	return &rodNode{el: el}, nil
}

func (n *rodNode) Visible() (bool, error) {
	return n.el.Visible()
}

func (n *rodNode) Enabled() (bool, error) {
	res, err := n.el.Eval(`() => !this.disabled`)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

// Click dispatches a DOM click rather than a synthetic mouse event so a
// control partially covered by a sticky header still fires.
func (n *rodNode) Click() error {
	_, err := n.el.Eval(`() => this.click()`)
	return err
}

func (n *rodNode) ScrollIntoView() error {
	return n.el.ScrollIntoView()
}

func (n *rodNode) ScrollHeight() (int, error) {
	res, err := n.el.Eval(`() => this.scrollHeight`)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

func (n *rodNode) Text() (string, error) {
	return n.el.Text()
}

func (n *rodNode) HTML() (string, error) {
	return n.el.HTML()
}

func (n *rodNode) Attr(name string) (string, bool, error) {
	v, err := n.el.Attribute(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}
