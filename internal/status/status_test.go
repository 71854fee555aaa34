package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profilescrape-engine/internal/events"
)

func TestBoardStartsReady(t *testing.T) {
	assert.Equal(t, "Ready to scrape.", NewBoard(nil).Get().Status)
}

func TestBoardPublishesUpdates(t *testing.T) {
	hub := events.NewHub()
	ch, unsub := hub.Subscribe()
	defer unsub()

	b := NewBoard(hub)
	b.Set("Scraping profile...")
	assert.Equal(t, "Scraping profile...", b.Get().Status)

	e, err := events.Parse(<-ch)
	require.NoError(t, err)
	assert.Equal(t, events.TypeStatus, e.Type)
	assert.Contains(t, string(e.Data), "Scraping profile...")
}
