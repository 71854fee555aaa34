package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"profilescrape-engine/internal/httpapi"
	"profilescrape-engine/internal/scheduler"
	"profilescrape-engine/internal/secrets"
)

func newServeCmd(f *rootFlags) *cobra.Command {
	var noBrowser bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with its local HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), f, noBrowser)
		},
	}
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "do not drive a browser; external agents may only send SAVE_SINGLE_PAGE to POST /api/messages")
	return cmd
}

func serve(ctx context.Context, f *rootFlags, noBrowser bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, f)
	if err != nil {
		return err
	}
	defer a.close()
	cfg := a.cfg()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.sched.Run(gctx) })

	var br httpapi.Browser
	if !noBrowser {
		if err := a.driver.Start(gctx, a.sched); err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
		br = a.driver
	}

	g.Go(func() error {
		scheduler.Every(gctx, cfg.ReapInterval(), "reaper", a.log, a.reap)
		return nil
	})

	mux := httpapi.NewMux(httpapi.Deps{
		DB:          a.db.Pool,
		Hub:         a.hub,
		Status:      a.board,
		Metrics:     a.metrics,
		Logger:      a.log,
		Browser:     br,
		Scheduler:   a.sched,
		CfgVal:      a.cfgVal,
		UserCfgPath: a.cfgPath,
		LoadCfg:     a.loadCfg,
		SetSecret:   secrets.SetGeminiKey,
	})
	if token := os.Getenv("PROFILESCRAPE_SHUTDOWN_TOKEN"); token != "" {
		mux.HandleFunc("/shutdown", shutdownHandler(token, cancel))
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.App.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		cancel()
		_ = g.Wait()
		return err
	}
	srv := &http.Server{
		Handler:           httpapi.Wrap(mux, a.log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.log.Info("engine listening", zap.String("addr", "http://"+addr), zap.Bool("browser", br != nil))

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	a.log.Info("engine stopped")
	return err
}
