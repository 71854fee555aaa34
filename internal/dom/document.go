// Package dom holds the page-local suspension primitives page agents use to
// wait for asynchronously rendered content.
package dom

import (
	"fmt"
	"time"
)

// Node is one element of a live page.
// Query returns nil, nil when nothing matches.
type Node interface {
	Query(selector string) (Node, error)
	QueryAll(selector string) ([]Node, error)
	Closest(selector string) (Node, error)
	Visible() (bool, error)
	Enabled() (bool, error)
	Click() error
	ScrollIntoView() error
	ScrollHeight() (int, error)
	Text() (string, error)
	HTML() (string, error)
	Attr(name string) (string, bool, error)
}

// Document is the page currently loaded in a tab.
type Document interface {
	Query(selector string) (Node, error)
	QueryAll(selector string) ([]Node, error)

	// Observe subscribes to subtree mutations of the whole document. The
	// channel receives coalesced notifications; stop tears the subscription
	// down and is safe to call more than once.
	Observe() (changes <-chan struct{}, stop func(), err error)

	ScrollBy(px int) error
	ScrollHeight() (int, error)
	HTML() (string, error)
	URL() (string, error)
}

// Region is any subtree that can be searched and measured.
type Region interface {
	QueryAll(selector string) ([]Node, error)
	ScrollHeight() (int, error)
}

// TimeoutError reports that a selector did not appear within its budget.
type TimeoutError struct {
	Selector string
	After    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("element %q not found within %s", e.Selector, e.After)
}

// Timings are the fixed delays the primitives use.
type Timings struct {
	ElementTimeout time.Duration
	SectionTimeout time.Duration
	ScrollDistance int
	ScrollStep     time.Duration
	ExpandSettle   time.Duration
	LoadMoreSettle time.Duration
	ProbeDelay     time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		ElementTimeout: 15 * time.Second,
		SectionTimeout: 7 * time.Second,
		ScrollDistance: 300,
		ScrollStep:     300 * time.Millisecond,
		ExpandSettle:   400 * time.Millisecond,
		LoadMoreSettle: 900 * time.Millisecond,
		ProbeDelay:     600 * time.Millisecond,
	}
}
