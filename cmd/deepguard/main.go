// DeepGuard is a web console for a deepfake image detection service. It serves
// the single-page UI, brokers logins, and relays uploads to the detector API.
package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ahnjh51-tft/deepguard-v1/internal/api"
	"github.com/ahnjh51-tft/deepguard-v1/internal/auth"
	"github.com/ahnjh51-tft/deepguard-v1/internal/cache"
	"github.com/ahnjh51-tft/deepguard-v1/internal/config"
	"github.com/ahnjh51-tft/deepguard-v1/internal/database"
	"github.com/ahnjh51-tft/deepguard-v1/internal/detect"
	"github.com/ahnjh51-tft/deepguard-v1/internal/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

//go:embed static
var staticFS embed.FS

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	generateConfig := flag.Bool("generate-config", false, "write a sample configuration file and exit")
	flag.Parse()

	if *generateConfig {
		if err := config.GenerateSample(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Sample configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg.Logging)

	var archive database.Store
	if cfg.Database.Archive {
		archive, err = database.New(cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open archive database")
		}
		defer archive.Close()
		log.Info().Str("path", cfg.Database.Path).Msg("Detection archive enabled")
	}

	verdicts, err := cache.New(cfg.Cache)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize verdict cache")
	}
	if verdicts != nil {
		log.Info().Str("backend", cfg.Cache.Backend).Msg("Verdict cache enabled")
	}

	provider, err := auth.NewProvider(cfg.Auth)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize auth provider")
	}

	client := detect.NewClient(cfg.Detector)
	sessions := session.NewManager(provider, client, archive, verdicts,
		cfg.Auth.JWTSecret, time.Duration(cfg.Auth.SessionTTLHours)*time.Hour)

	router := api.NewRouter(cfg, sessions, archive, staticFS)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Str("detector", cfg.Detector.BaseURL).
			Bool("ui", cfg.Server.EnableUI).
			Msg("DeepGuard console listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("Server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown did not complete cleanly")
	}
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
