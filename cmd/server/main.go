package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/poker-planning-backend/internal/config"
	"github.com/DoyleJ11/poker-planning-backend/internal/engine"
	"github.com/DoyleJ11/poker-planning-backend/internal/httpapi"
	"github.com/DoyleJ11/poker-planning-backend/internal/hub"
	"github.com/DoyleJ11/poker-planning-backend/internal/store"
	"github.com/DoyleJ11/poker-planning-backend/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}
	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	deck, err := cfg.Deck()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hcfg := hub.Config{
		Rules:       engine.Rules{Deck: deck},
		Logger:      log,
		IdleTimeout: cfg.SessionIdleTimeout,
	}

	var archive *store.Archive
	if cfg.DatabaseURL != "" {
		var repo *store.Repository
		repo, err = store.Open(cfg.DatabaseURL, log)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, repo.Close()) }()

		archive = store.NewArchive(repo, log)
		hcfg.Archive = archive
		hcfg.Loader = repo
	} else {
		log.Info("DATABASE_URL not set, session archive disabled")
	}

	// the hub outlives the signal context so shutdown can drain it in order
	h := hub.NewHub(context.Background(), hcfg)

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Hub:            h,
			Logger:         log,
			AllowedOrigins: cfg.AllowedOrigins,
			WS: ws.Options{
				OriginPatterns:  originPatterns(cfg.AllowedOrigins),
				IdentifyTimeout: cfg.IdentifyTimeout,
				WriteTimeout:    cfg.WriteTimeout,
				PingInterval:    cfg.PingInterval,
				OutboxSize:      cfg.OutboxSize,
			},
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	archiveCtx, stopArchive := context.WithCancel(context.Background())
	defer stopArchive()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if archive != nil {
		g.Go(func() error { return archive.Run(archiveCtx, cfg.ShutdownTimeout) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)

		// rooms stop before the archive's last flush
		h.Shutdown()
		<-h.Done()
		stopArchive()
		return err
	})

	return g.Wait()
}

// originPatterns turns allowed origins into the host patterns the websocket
// accept check matches against.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			out = append(out, "*")
			continue
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			continue
		}
		out = append(out, u.Host)
	}
	return out
}
