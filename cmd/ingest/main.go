// ingest catalogs deepfake training images: it walks a local real/fake folder
// tree (or scans the bucket when no local data is present), uploads originals
// and thumbnails, records every image in the dataset catalog and optionally
// writes a signed-URL manifest for training jobs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ahnjh51-tft/deepguard-v1/internal/config"
	"github.com/ahnjh51-tft/deepguard-v1/internal/database"
	"github.com/ahnjh51-tft/deepguard-v1/internal/dataset"
	"github.com/ahnjh51-tft/deepguard-v1/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	dataRoot := flag.String("data", "./data", "local folder with real/ and fake/ subfolders")
	manifestPath := flag.String("manifest", "", "write a signed-URL manifest of ingested images to this path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg.Logging)

	ctx := context.Background()

	catalog, err := database.New(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open catalog database")
	}
	defer catalog.Close()

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize object storage")
	}

	ing := dataset.NewIngester(store, catalog)

	rows, err := ing.Ingest(ctx, *dataRoot)
	if err != nil {
		log.Fatal().Err(err).Int("ingested", len(rows)).Msg("Ingestion aborted")
	}

	if *manifestPath != "" {
		if err := ing.WriteManifest(ctx, rows, *manifestPath); err != nil {
			log.Fatal().Err(err).Msg("Failed to write manifest")
		}
		log.Info().Str("path", *manifestPath).Int("entries", len(rows)).Msg("Manifest written")
	}

	counts, err := catalog.DatasetCounts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count catalog rows")
		return
	}
	log.Info().
		Int("ingested", len(rows)).
		Int("train", counts["train"]).
		Int("val", counts["val"]).
		Int("test", counts["test"]).
		Msg("Ingestion complete")
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
