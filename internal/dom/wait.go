package dom

import (
	"context"
	"time"
)

// WaitForElement resolves with the first node matching selector. It returns
// immediately when the node already exists, otherwise re-queries on every
// document mutation until timeout. The mutation subscription never outlives
// the call.
func WaitForElement(ctx context.Context, doc Document, selector string, timeout time.Duration) (Node, error) {
	if n, err := doc.Query(selector); err != nil || n != nil {
		return n, err
	}

	changes, stop, err := doc.Observe()
	if err != nil {
		return nil, err
	}
	defer stop()

	// the node may have appeared between the first query and the subscription
	if n, err := doc.Query(selector); err != nil || n != nil {
		return n, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, &TimeoutError{Selector: selector, After: timeout}
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			n, err := doc.Query(selector)
			if err != nil || n != nil {
				return n, err
			}
		}
	}
}

// ScrollToRevealAll scrolls by distance every step until the accumulated
// distance reaches the document height measured once up front. Growth caused
// by the scrolling itself is not chased.
func ScrollToRevealAll(ctx context.Context, doc Document, distance int, step time.Duration) error {
	height, err := doc.ScrollHeight()
	if err != nil {
		return err
	}
	if distance <= 0 {
		distance = 1
	}

	t := time.NewTicker(step)
	defer t.Stop()

	total := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if err := doc.ScrollBy(distance); err != nil {
			return err
		}
		total += distance
		if total >= height {
			return nil
		}
	}
}

// ExpandAll clicks every visible, enabled control matching selector inside
// root, one at a time, waiting settle after each click. It returns how many
// controls were clicked.
func ExpandAll(ctx context.Context, root Region, selector string, settle time.Duration) (int, error) {
	buttons, err := root.QueryAll(selector)
	if err != nil {
		return 0, err
	}
	clicked := 0
	for _, b := range buttons {
		if !clickable(b) {
			continue
		}
		if err := b.Click(); err != nil {
			continue
		}
		clicked++
		if err := Sleep(ctx, settle); err != nil {
			return clicked, err
		}
	}
	return clicked, nil
}

// ExhaustProgressiveLoad keeps clicking the load-more control inside root
// until none is left and two consecutive height measurements of root are
// equal. Only ctx bounds it.
func ExhaustProgressiveLoad(ctx context.Context, root Region, selector string, clickSettle, probeDelay time.Duration) error {
	last := -1
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if btn := firstClickable(root, selector); btn != nil {
			_ = btn.ScrollIntoView()
			if err := btn.Click(); err == nil {
				if err := Sleep(ctx, clickSettle); err != nil {
					return err
				}
				continue
			}
		}

		h, err := root.ScrollHeight()
		if err != nil {
			return err
		}
		if h == last {
			return nil
		}
		last = h
		if err := Sleep(ctx, probeDelay); err != nil {
			return err
		}
	}
}

// Sleep waits d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func firstClickable(root Region, selector string) Node {
	nodes, err := root.QueryAll(selector)
	if err != nil {
		return nil
	}
	for _, n := range nodes {
		if clickable(n) {
			return n
		}
	}
	return nil
}

func clickable(n Node) bool {
	vis, err := n.Visible()
	if err != nil || !vis {
		return false
	}
	en, err := n.Enabled()
	return err == nil && en
}
