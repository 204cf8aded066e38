package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/securecall/internal/adapters/http"
	"github.com/dkeye/securecall/internal/adapters/janus"
	"github.com/dkeye/securecall/internal/adapters/keyagree"
	"github.com/dkeye/securecall/internal/adapters/notify"
	wsignal "github.com/dkeye/securecall/internal/adapters/signal"
	"github.com/dkeye/securecall/internal/adapters/store"
	"github.com/dkeye/securecall/internal/app"
	"github.com/dkeye/securecall/internal/app/metrics"
	"github.com/dkeye/securecall/internal/app/orch"
	"github.com/dkeye/securecall/internal/app/turn"
	"github.com/dkeye/securecall/internal/core"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the call server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	calls, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer calls.Close()

	hub := wsignal.NewHub(cfg.ReadLimit, cfg.PingPeriod)
	defer hub.Close()

	notifiers := notify.Fanout{hub}
	if cfg.NATS.URL != "" {
		nc, err := notify.NewNATS(notify.NATSConfig{
			URL:             cfg.NATS.URL,
			Name:            cfg.NATS.Name,
			SubjectPrefix:   cfg.NATS.SubjectPrefix,
			CredentialsFile: cfg.NATS.Credentials,
			ReconnectWait:   cfg.NATS.ReconnectWait,
			MaxReconnects:   cfg.NATS.MaxReconnects,
		})
		if err != nil {
			return err
		}
		defer nc.Close()
		notifiers = append(notifiers, nc)
	}

	var rooms core.RoomClient = core.NoRooms{}
	if cfg.SFU.URL != "" {
		rooms = janus.New(cfg.SFU.URL, cfg.SFU.APISecret, cfg.SFU.Timeout)
	}

	keys := keyagree.NewMemory()
	m := metrics.New()
	registry := app.NewRegistry(app.WithActiveGauge(m.ActiveCalls))
	defer registry.Close()

	o := orch.New(orch.Deps{
		Registry: registry,
		Calls:    calls,
		Rooms:    rooms,
		Keys:     keys,
		Notifier: notifiers,
		Issuer:   turn.NewIssuer(cfg.TURN.Host, cfg.TURN.Port, cfg.TURN.Secret, turn.WithTTL(cfg.TURN.TTL)),
		Metrics:  m,
	}, orch.Options{
		RingTimeout:         cfg.Calls.RingTimeout,
		GroupRingTimeout:    cfg.Calls.GroupRingTimeout,
		KeyRotationInterval: cfg.Calls.KeyRotationInterval,
		MaxParticipants:     cfg.Calls.MaxParticipants,
		MaxCallDuration:     cfg.Calls.MaxDuration,
	})
	defer o.Close()

	if _, err := o.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover calls: %w", err)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router.SetupRouter(ctx, cfg, o, hub, keys),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("sfu", rooms.URL()).Str("turn_realm", cfg.TURN.Realm).Msg("securecall server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
