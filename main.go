package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"verabot/config"
	"verabot/internal/adapters/gemini"
	"verabot/internal/adapters/whatsapp"
	"verabot/internal/adapters/woocommerce"
	"verabot/internal/ai"
	"verabot/internal/breaker"
	"verabot/internal/catalog"
	"verabot/internal/db"
	"verabot/internal/events"
	"verabot/internal/handlers"
	"verabot/internal/mediastore"
	"verabot/internal/services"
	"verabot/internal/store"
	"verabot/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	log.Info().Msg("Initializing database...")
	conn, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer conn.Close()
	if err := db.Migrate(conn); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	convs := store.NewConversations(conn)
	msgs := store.NewMessages(conn)
	cache := catalog.NewCache(conn)

	wa := whatsapp.NewClient(cfg)
	if !wa.Enabled() {
		log.Warn().Msg("WhatsApp credentials not configured, outbound sending disabled")
	}
	wc := woocommerce.NewClient(cfg)
	if !wc.Enabled() {
		log.Warn().Msg("WooCommerce credentials not configured, live catalog disabled")
	}

	gen := gemini.NewClient(cfg)
	media := ai.NewMedia(gen)

	var voice services.Voice
	if cfg.VoiceEnabled {
		if synth := ai.NewSynthesizer(cfg); synth != nil {
			voice = synth
			log.Info().Str("provider", string(synth.Provider())).Msg("Voice replies enabled")
		} else {
			log.Warn().Str("provider", cfg.TTSProvider).Msg("Unknown TTS provider, voice replies disabled")
		}
	}

	brk := breaker.New("woocommerce", cfg.BreakerFailThreshold,
		time.Duration(cfg.BreakerCooldownSec)*time.Second)
	publisher := events.NewPublisher(cfg)
	defer publisher.Close()
	archive := mediastore.NewArchive(cfg)

	syncer := catalog.NewSyncer(cache, wc, conn,
		time.Duration(cfg.SyncIntervalSec)*time.Second, cfg.SyncPageSize, cfg.SyncMaxPages)

	disp := services.NewDispatcher(cfg, wa, msgs, convs, wc, cache, brk, voice)
	engine := services.NewEngine(cfg, convs, msgs, disp, wa, media, wc, cache, brk, archive, publisher)

	srv := handlers.NewServer(cfg, engine, convs, msgs, cache, syncer, brk)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if wc.Enabled() {
		go syncer.RunPeriodic(ctx)
	}

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 6 * time.Minute,
	}
	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	log.Info().Msg("Bye")
}
