package httpapi

import (
	"context"
	"database/sql"
	"sync/atomic"

	"go.uber.org/zap"

	"profilescrape-engine/internal/config"
	"profilescrape-engine/internal/events"
	"profilescrape-engine/internal/metrics"
	"profilescrape-engine/internal/protocol"
	"profilescrape-engine/internal/scheduler"
	"profilescrape-engine/internal/status"
)

// Browser opens or adopts tabs and instructs their page agents.
type Browser interface {
	Open(ctx context.Context, url string) (scheduler.TabID, error)
	Attach(ctx context.Context, targetID string) (scheduler.TabID, error)
	// SendWhenReady delivers msg once the tab's current page has an agent.
	SendWhenReady(ctx context.Context, tab scheduler.TabID, msg protocol.Message) error
}

type Scheduler interface {
	Deliver(ctx context.Context, from scheduler.Sender, msg protocol.Message) (protocol.Response, error)
	Jobs() []scheduler.JobInfo
}

type Deps struct {
	DB *sql.DB

	Hub     *events.Hub
	Status  *status.Board
	Metrics *metrics.Metrics
	Logger  *zap.Logger

	// Browser is nil when the engine only serves external agents.
	Browser   Browser
	Scheduler Scheduler

	// Atomic stores
	CfgVal *atomic.Value // stores config.Config

	// Config persistence
	UserCfgPath string
	LoadCfg     func() (config.Config, error)

	// SetSecret stores the Gemini key (keychain in production).
	SetSecret func(account, key string) error
}
