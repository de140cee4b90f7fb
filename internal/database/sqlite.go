// Package database provides SQLite implementation of the Store interface.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ahnjh51-tft/deepguard-v1/internal/models"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS detections (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			user_id TEXT NOT NULL,
			model_id TEXT NOT NULL,
			model_name TEXT NOT NULL,
			result_label TEXT NOT NULL,
			confidence REAL NOT NULL,
			preview_data_url TEXT NOT NULL,
			original_with_boxes TEXT NOT NULL,
			ela_heatmap TEXT NOT NULL,
			ela_with_boxes TEXT NOT NULL,
			archived_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_session ON detections(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_archived ON detections(archived_at)`,
		`CREATE TABLE IF NOT EXISTS dataset_images (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bucket_name TEXT NOT NULL,
			object_path TEXT NOT NULL,
			domain TEXT NOT NULL,
			authenticity TEXT NOT NULL,
			split TEXT NOT NULL,
			filename TEXT NOT NULL,
			size INTEGER NOT NULL,
			content_type TEXT NOT NULL,
			checksum TEXT UNIQUE NOT NULL,
			phash INTEGER NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			thumb_path TEXT NOT NULL,
			thumb_width INTEGER NOT NULL,
			thumb_height INTEGER NOT NULL,
			source TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dataset_domain ON dataset_images(domain)`,
		`CREATE INDEX IF NOT EXISTS idx_dataset_split ON dataset_images(split)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ArchiveDetection mirrors one history entry into the archive table.
func (s *SQLiteStore) ArchiveDetection(ctx context.Context, sessionID string, entry models.HistoryEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO detections (id, session_id, timestamp, user_id, model_id, model_name,
			result_label, confidence, preview_data_url, original_with_boxes, ela_heatmap,
			ela_with_boxes, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, sessionID, entry.Timestamp, entry.UserID, entry.ModelID, entry.ModelName,
		entry.ResultLabel, entry.Confidence, entry.PreviewDataURL, entry.OriginalWithBoxes,
		entry.ElaHeatmap, entry.ElaWithBoxes, time.Now().UTC(),
	)
	return err
}

// ListArchivedDetections returns archived entries, most recent first.
func (s *SQLiteStore) ListArchivedDetections(ctx context.Context, limit, offset int) ([]*models.ArchivedDetection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, timestamp, user_id, model_id, model_name, result_label,
			confidence, preview_data_url, original_with_boxes, ela_heatmap, ela_with_boxes, archived_at
		FROM detections ORDER BY archived_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var detections []*models.ArchivedDetection
	for rows.Next() {
		var d models.ArchivedDetection
		if err := rows.Scan(&d.ID, &d.SessionID, &d.Timestamp, &d.UserID, &d.ModelID,
			&d.ModelName, &d.ResultLabel, &d.Confidence, &d.PreviewDataURL,
			&d.OriginalWithBoxes, &d.ElaHeatmap, &d.ElaWithBoxes, &d.ArchivedAt); err != nil {
			return nil, err
		}
		detections = append(detections, &d)
	}
	return detections, rows.Err()
}

// SaveDatasetImage stores a dataset catalog row and assigns its ID.
func (s *SQLiteStore) SaveDatasetImage(ctx context.Context, img *models.DatasetImage) error {
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO dataset_images (bucket_name, object_path, domain, authenticity, split,
			filename, size, content_type, checksum, phash, width, height, thumb_path,
			thumb_width, thumb_height, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		img.BucketName, img.ObjectPath, img.Domain, img.Authenticity, img.Split,
		img.Filename, img.Size, img.ContentType, img.Checksum, img.PHash, img.Width,
		img.Height, img.ThumbPath, img.ThumbWidth, img.ThumbHeight, img.Source, img.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	img.ID = id
	return nil
}

// GetDatasetImageByChecksum retrieves a dataset row by content checksum.
func (s *SQLiteStore) GetDatasetImageByChecksum(ctx context.Context, checksum string) (*models.DatasetImage, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, bucket_name, object_path, domain, authenticity, split, filename, size,
			content_type, checksum, phash, width, height, thumb_path, thumb_width,
			thumb_height, source, created_at
		FROM dataset_images WHERE checksum = ?`, checksum)

	var img models.DatasetImage
	err := row.Scan(&img.ID, &img.BucketName, &img.ObjectPath, &img.Domain, &img.Authenticity,
		&img.Split, &img.Filename, &img.Size, &img.ContentType, &img.Checksum, &img.PHash,
		&img.Width, &img.Height, &img.ThumbPath, &img.ThumbWidth, &img.ThumbHeight,
		&img.Source, &img.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// ListDatasetImages returns catalog rows, optionally filtered by domain.
func (s *SQLiteStore) ListDatasetImages(ctx context.Context, domain string, limit, offset int) ([]*models.DatasetImage, error) {
	query := `
		SELECT id, bucket_name, object_path, domain, authenticity, split, filename, size,
			content_type, checksum, phash, width, height, thumb_path, thumb_width,
			thumb_height, source, created_at
		FROM dataset_images`
	args := []any{}
	if domain != "" {
		query += ` WHERE domain = ?`
		args = append(args, domain)
	}
	query += ` ORDER BY id LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []*models.DatasetImage
	for rows.Next() {
		var img models.DatasetImage
		if err := rows.Scan(&img.ID, &img.BucketName, &img.ObjectPath, &img.Domain,
			&img.Authenticity, &img.Split, &img.Filename, &img.Size, &img.ContentType,
			&img.Checksum, &img.PHash, &img.Width, &img.Height, &img.ThumbPath,
			&img.ThumbWidth, &img.ThumbHeight, &img.Source, &img.CreatedAt); err != nil {
			return nil, err
		}
		images = append(images, &img)
	}
	return images, rows.Err()
}

// DatasetCounts returns the number of catalog rows per split.
func (s *SQLiteStore) DatasetCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT split, COUNT(*) FROM dataset_images GROUP BY split`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var split string
		var n int
		if err := rows.Scan(&split, &n); err != nil {
			return nil, err
		}
		counts[split] = n
	}
	return counts, rows.Err()
}
