package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wyydra/loop/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/loop/internal/adapter/driven/media/pion"
	"github.com/Wyydra/loop/internal/adapter/driven/persistence/memory"
	"github.com/Wyydra/loop/internal/adapter/driven/persistence/sqlite"
	progressws "github.com/Wyydra/loop/internal/adapter/driven/progress/ws"
	"github.com/Wyydra/loop/internal/adapter/driven/rest"
	handler "github.com/Wyydra/loop/internal/adapter/driving/http"
	"github.com/Wyydra/loop/internal/core/dispatcher"
	"github.com/Wyydra/loop/internal/core/domain"
	"github.com/Wyydra/loop/internal/core/service"
	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// contextStore is what both the memory and the sqlite registries offer.
type contextStore interface {
	AddConversationContext(windowID domain.WindowID, sessionID, callID string)
	Contexts(ctx context.Context) ([]domain.ConversationContext, error)
}

func main() {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Stdout.WriteString(err.Error() + "\n")
			return
		}
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}

	w := zerolog.ConsoleWriter{Out: os.Stdout}
	log.Logger = zerolog.New(w).With().Timestamp().Caller().Logger()

	cfg, err := opts.load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := dispatcher.New()
	hub := ws.NewHub()
	registry := memory.NewRegistry()

	var contexts contextStore = registry
	if cfg.SQLitePath != "" {
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.SQLitePath).Msg("Failed to open context database")
		}
		defer db.Close()
		contexts = db
	}

	driver, err := pion.NewDriver(cfg.ICEServers, cfg.PublishVideo, d, hub)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create media driver")
	}

	store, err := service.NewConversationStore(d, service.ConversationDeps{
		Client:      rest.NewClient(cfg.ServerURL, cfg.Channel),
		Media:       driver,
		Connections: progressws.NewDialer(cfg.HandshakeTimeout),
		Marker:      registry,
		Contexts:    contexts,
		Desktop:     cfg.Desktop,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create conversation store")
	}
	defer store.Close()

	store.OnChange(func(st domain.ConversationState) {
		driver.SetMuted(domain.MuteAudio, st.AudioMuted)
		driver.SetMuted(domain.MuteVideo, st.VideoMuted)
		if err := hub.BroadcastState(ctx, st); err != nil {
			log.Warn().Err(err).Msg("Failed to broadcast state")
		}
	})

	windows := memory.NewWindowDataStore(d)
	d.Register(windows, domain.ActionGetWindowData)

	go hub.Run()
	go d.Run(ctx)

	if opts.Call != "" {
		id, err := windows.Open(opts.outgoingWindow())
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid --call window")
		}
		log.Info().Str("window_id", id.String()).Str("callee", opts.Call).Msg("Opening outgoing call window")
		d.Post(domain.GetWindowData{WindowID: id})
	}

	h := &handler.Handler{
		Actions:   d,
		Store:     store,
		Contexts:  contexts,
		Signals:   driver,
		Windows:   windows,
		Hub:       hub,
		StaticDir: cfg.StaticDir,
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: h.NewRouter(),
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Let the store hang up before the turn loop stops.
	unloaded := make(chan struct{})
	d.Post(domain.WindowUnload{})
	d.Enqueue(func() { close(unloaded) })
	select {
	case <-unloaded:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Window unload did not finish")
	}

	cancel()
	hub.Stop()
	log.Info().Msg("Server exited")
}
