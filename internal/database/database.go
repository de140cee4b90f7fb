// Package database provides the data access layer for durable records.
package database

import (
	"context"
	"fmt"

	"github.com/ahnjh51-tft/deepguard-v1/internal/config"
	"github.com/ahnjh51-tft/deepguard-v1/internal/models"
)

// Store defines the interface for data persistence. Session history stays in
// memory; the store holds the optional detection archive and the training
// dataset catalog.
type Store interface {
	// Detection archive
	ArchiveDetection(ctx context.Context, sessionID string, entry models.HistoryEntry) error
	ListArchivedDetections(ctx context.Context, limit, offset int) ([]*models.ArchivedDetection, error)

	// Dataset catalog
	SaveDatasetImage(ctx context.Context, img *models.DatasetImage) error
	GetDatasetImageByChecksum(ctx context.Context, checksum string) (*models.DatasetImage, error)
	ListDatasetImages(ctx context.Context, domain string, limit, offset int) ([]*models.DatasetImage, error)
	DatasetCounts(ctx context.Context) (map[string]int, error)

	// Lifecycle
	Close() error
	Migrate() error
}

// New creates a store based on configuration.
func New(cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}
