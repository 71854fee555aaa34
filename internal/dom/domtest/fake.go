// Package domtest is an in-memory dom.Document for tests. Selectors are not
// parsed: each selector string maps to an explicitly registered node list.
package domtest

import (
	"sync"

	"profilescrape-engine/internal/dom"
)

type Doc struct {
	mu       sync.Mutex
	url      string
	html     string
	height   int
	scrolled int
	nodes    map[string][]*Node
	subs     map[int]chan struct{}
	nextSub  int
	observed int
}

func NewDoc(url string) *Doc {
	return &Doc{
		url:   url,
		nodes: make(map[string][]*Node),
		subs:  make(map[int]chan struct{}),
	}
}

// Put registers the nodes a selector matches and notifies observers as a
// mutation would.
func (d *Doc) Put(selector string, nodes ...*Node) {
	d.mu.Lock()
	d.nodes[selector] = nodes
	d.mu.Unlock()
	d.Mutate()
}

// Mutate notifies every active observer.
func (d *Doc) Mutate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (d *Doc) SetHTML(html string) {
	d.mu.Lock()
	d.html = html
	d.mu.Unlock()
}

func (d *Doc) SetScrollHeight(h int) {
	d.mu.Lock()
	d.height = h
	d.mu.Unlock()
}

// Scrolled is the accumulated ScrollBy distance.
func (d *Doc) Scrolled() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scrolled
}

// ActiveObservers counts subscriptions not yet stopped.
func (d *Doc) ActiveObservers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// Observed counts every subscription ever made.
func (d *Doc) Observed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.observed
}

func (d *Doc) Query(selector string) (dom.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ns := d.nodes[selector]; len(ns) > 0 {
		return ns[0], nil
	}
	return nil, nil
}

func (d *Doc) QueryAll(selector string) ([]dom.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return asNodes(d.nodes[selector]), nil
}

func (d *Doc) Observe() (<-chan struct{}, func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSub
	d.nextSub++
	d.observed++
	ch := make(chan struct{}, 1)
	d.subs[id] = ch

	var once sync.Once
	stop := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs, id)
			d.mu.Unlock()
		})
	}
	return ch, stop, nil
}

func (d *Doc) ScrollBy(px int) error {
	d.mu.Lock()
	d.scrolled += px
	d.mu.Unlock()
	return nil
}

func (d *Doc) ScrollHeight() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.height, nil
}

func (d *Doc) HTML() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.html, nil
}

func (d *Doc) URL() (string, error) {
	return d.url, nil
}

// Node is a fake element. Configure the exported fields before handing the
// node to code under test and use the setters afterwards.
type Node struct {
	mu sync.Mutex

	TextValue string
	HTMLValue string
	Hidden    bool
	Disabled  bool
	Attrs     map[string]string
	Children  map[string][]*Node
	Ancestors map[string]*Node

	// Heights are successive ScrollHeight results; the last one repeats.
	Heights []int

	OnClick func(n *Node)

	clicks int
}

func (n *Node) Query(selector string) (dom.Node, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ns := n.Children[selector]; len(ns) > 0 {
		return ns[0], nil
	}
	return nil, nil
}

func (n *Node) QueryAll(selector string) ([]dom.Node, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return asNodes(n.Children[selector]), nil
}

// SetChildren replaces the nodes selector matches below n.
func (n *Node) SetChildren(selector string, nodes ...*Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Children == nil {
		n.Children = make(map[string][]*Node)
	}
	n.Children[selector] = nodes
}

func (n *Node) Closest(selector string) (dom.Node, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if a, ok := n.Ancestors[selector]; ok && a != nil {
		return a, nil
	}
	return nil, nil
}

func (n *Node) Visible() (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return !n.Hidden, nil
}

func (n *Node) Enabled() (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return !n.Disabled, nil
}

func (n *Node) SetHidden(v bool) {
	n.mu.Lock()
	n.Hidden = v
	n.mu.Unlock()
}

func (n *Node) Click() error {
	n.mu.Lock()
	n.clicks++
	fn := n.OnClick
	n.mu.Unlock()
	if fn != nil {
		fn(n)
	}
	return nil
}

func (n *Node) Clicks() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.clicks
}

func (n *Node) ScrollIntoView() error { return nil }

func (n *Node) ScrollHeight() (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.Heights) == 0 {
		return 0, nil
	}
	h := n.Heights[0]
	if len(n.Heights) > 1 {
		n.Heights = n.Heights[1:]
	}
	return h, nil
}

func (n *Node) Text() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.TextValue, nil
}

func (n *Node) HTML() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.HTMLValue, nil
}

func (n *Node) Attr(name string) (string, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.Attrs[name]
	return v, ok, nil
}

func asNodes(ns []*Node) []dom.Node {
	out := make([]dom.Node, 0, len(ns))
	for _, n := range ns {
		out = append(out, n)
	}
	return out
}
