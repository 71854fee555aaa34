// Package status holds the single process-wide status line shown to users.
package status

import (
	"sync"
	"time"

	"profilescrape-engine/internal/events"
)

const Initial = "Ready to scrape."

type Snapshot struct {
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Publisher interface {
	Publish(evt string)
}

type Board struct {
	mu  sync.RWMutex
	cur Snapshot
	pub Publisher
}

// NewBoard starts at Initial. pub may be nil.
func NewBoard(pub Publisher) *Board {
	return &Board{cur: Snapshot{Status: Initial, UpdatedAt: time.Now().UTC()}, pub: pub}
}

func (b *Board) Set(status string) {
	b.mu.Lock()
	b.cur = Snapshot{Status: status, UpdatedAt: time.Now().UTC()}
	snap := b.cur
	b.mu.Unlock()

	if b.pub != nil {
		b.pub.Publish(events.MakeEvent("", events.TypeStatus, 1, snap))
	}
}

func (b *Board) Get() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cur
}
