package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"profilescrape-engine/internal/events"
	"profilescrape-engine/internal/protocol"
	"profilescrape-engine/internal/scheduler"
	"profilescrape-engine/internal/scrape/util"
)

type finished struct {
	TabID   scheduler.TabID `json:"tab_id"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
}

func newScrapeCmd(f *rootFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "scrape <profile-url>",
		Short: "Scrape one profile and store it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return scrapeOne(cmd.Context(), f, args[0], timeout, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Minute, "give up after this long")
	return cmd
}

func scrapeOne(ctx context.Context, f *rootFlags, url string, timeout time.Duration, out io.Writer) error {
	if !util.IsProfileURL(url) {
		fmt.Fprintf(out, "warning: %s does not look like a profile url\n", url)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a, err := newApp(ctx, f)
	if err != nil {
		return err
	}
	defer a.close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.sched.Run(gctx) })
	defer func() {
		cancel()
		_ = g.Wait()
	}()

	if err := a.driver.Start(gctx, a.sched); err != nil {
		return err
	}

	ch, unsubscribe := a.hub.Subscribe()
	defer unsubscribe()

	tab, err := a.driver.Open(gctx, url)
	if err != nil {
		return err
	}
	a.board.Set("Scraping...")
	if err := a.driver.SendWhenReady(gctx, tab, protocol.StartSession{}); err != nil {
		return err
	}

	for {
		select {
		case <-gctx.Done():
			return fmt.Errorf("scrape did not finish: %w", context.Cause(gctx))
		case raw, ok := <-ch:
			if !ok {
				return errors.New("event stream closed")
			}
			evt, err := events.Parse(raw)
			if err != nil {
				continue
			}
			switch evt.Type {
			case events.TypeStatus:
				var s struct {
					Status string `json:"status"`
				}
				if json.Unmarshal(evt.Data, &s) == nil {
					fmt.Fprintln(out, s.Status)
				}
			case events.TypeSessionFinished:
				var done finished
				if err := json.Unmarshal(evt.Data, &done); err != nil || done.TabID != tab {
					continue
				}
				if done.Status == protocol.StatusError {
					return errors.New(done.Message)
				}
				return nil
			}
		}
	}
}
