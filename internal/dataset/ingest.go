// Package dataset ingests training images into object storage and the catalog:
// checksum dedupe, perceptual hashing, square thumbnails and a deterministic
// train/val/test split derived from the content checksum.
package dataset

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"mime"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/ahnjh51-tft/deepguard-v1/internal/database"
	"github.com/ahnjh51-tft/deepguard-v1/internal/models"
	"github.com/ahnjh51-tft/deepguard-v1/internal/storage"
)

const (
	thumbSize        = 256
	thumbJPEGQuality = 85
	signedURLExpiry  = time.Hour
)

var (
	authFolders = []string{"real", "fake"}
	domainList  = []string{"id", "receipt", "car_accident"}

	validDomains = map[string]bool{"id": true, "receipt": true, "car_accident": true}
	domainAliases = map[string]string{
		"caraccident":   "car_accident",
		"car_accidents": "car_accident",
	}
	domainCleanRe = regexp.MustCompile(`[^a-z_]`)
)

// NormalizeDomain maps a folder name onto a recognized dataset domain:
// lowercased, stripped of everything but letters and underscores, with known
// aliases folded in.
func NormalizeDomain(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = domainCleanRe.ReplaceAllString(n, "")
	if alias, ok := domainAliases[n]; ok {
		n = alias
	}
	if !validDomains[n] {
		return "", fmt.Errorf("unsupported domain folder %q, use one of %v", name, domainList)
	}
	return n, nil
}

// AssignSplit buckets a checksum into train/val/test by its leading 32 bits:
// train below 0.8, val below 0.9, test above. The same image always lands in
// the same split.
func AssignSplit(checksum string) string {
	if len(checksum) < 8 {
		return "test"
	}
	v, err := strconv.ParseUint(checksum[:8], 16, 64)
	if err != nil {
		return "test"
	}
	r := float64(v) / float64(0xFFFFFFFF)
	switch {
	case r < 0.8:
		return "train"
	case r < 0.9:
		return "val"
	default:
		return "test"
	}
}

// Ingester walks image folders or the bucket itself and records each new image
// in the catalog, uploading originals and thumbnails as needed.
type Ingester struct {
	store   storage.ObjectStore
	catalog database.Store
	source  string
}

// NewIngester creates an ingester writing to the given store and catalog.
func NewIngester(store storage.ObjectStore, catalog database.Store) *Ingester {
	return &Ingester{store: store, catalog: catalog}
}

// Ingest reads from the local root when it contains real/ or fake/ folders and
// falls back to scanning the bucket otherwise.
func (ing *Ingester) Ingest(ctx context.Context, root string) ([]*models.DatasetImage, error) {
	for _, auth := range authFolders {
		if info, err := os.Stat(filepath.Join(root, auth)); err == nil && info.IsDir() {
			return ing.IngestLocal(ctx, root)
		}
	}
	log.Info().Str("root", root).Msg("no local data found, scanning bucket")
	return ing.IngestBucket(ctx)
}

// IngestLocal walks root/{real,fake}/<domain>/ and ingests every file,
// uploading the original and its thumbnail. Per-file failures are logged and
// skipped; an unrecognized domain folder aborts the walk.
func (ing *Ingester) IngestLocal(ctx context.Context, root string) ([]*models.DatasetImage, error) {
	ing.source = "local_import"

	var rows []*models.DatasetImage
	for _, auth := range authFolders {
		authDir := filepath.Join(root, auth)
		if _, err := os.Stat(authDir); os.IsNotExist(err) {
			continue
		}
		domainDirs, err := os.ReadDir(authDir)
		if err != nil {
			return rows, fmt.Errorf("failed to read %s: %w", authDir, err)
		}
		for _, domainDir := range domainDirs {
			if !domainDir.IsDir() {
				continue
			}
			domain, err := NormalizeDomain(domainDir.Name())
			if err != nil {
				return rows, err
			}
			files, err := os.ReadDir(filepath.Join(authDir, domainDir.Name()))
			if err != nil {
				return rows, fmt.Errorf("failed to read %s: %w", domainDir.Name(), err)
			}
			for _, f := range files {
				if f.IsDir() {
					continue
				}
				filePath := filepath.Join(authDir, domainDir.Name(), f.Name())
				row, err := ing.ingestFile(ctx, filePath, root, auth, domain)
				if err != nil {
					log.Error().Err(err).Str("file", filePath).Msg("failed to ingest file")
					continue
				}
				if row != nil {
					rows = append(rows, row)
					log.Info().Str("object", row.ObjectPath).Str("thumb", row.ThumbPath).
						Str("authenticity", auth).Str("domain", domain).Str("split", row.Split).
						Msg("ingested")
				}
			}
		}
	}
	return rows, nil
}

// IngestBucket scans the bucket's real/ and fake/ prefixes and catalogs every
// object not yet recorded, generating and uploading the missing thumbnails.
func (ing *Ingester) IngestBucket(ctx context.Context) ([]*models.DatasetImage, error) {
	ing.source = "bucket_scan"

	var rows []*models.DatasetImage
	for _, auth := range authFolders {
		for _, domain := range domainList {
			prefix := auth + "/" + domain
			keys, err := ing.store.List(ctx, prefix)
			if err != nil {
				log.Error().Err(err).Str("prefix", prefix).Msg("failed to list objects")
				continue
			}
			for _, key := range keys {
				row, err := ing.ingestObject(ctx, key, auth, domain)
				if err != nil {
					log.Error().Err(err).Str("object", key).Msg("failed to ingest object")
					continue
				}
				if row != nil {
					rows = append(rows, row)
					log.Info().Str("object", key).Str("authenticity", auth).
						Str("domain", domain).Str("split", row.Split).Msg("ingested")
				}
			}
		}
	}
	return rows, nil
}

func (ing *Ingester) ingestFile(ctx context.Context, filePath, root, auth, domain string) (*models.DatasetImage, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	checksum := sha256Hex(data)
	if existing, err := ing.catalog.GetDatasetImageByChecksum(ctx, checksum); err != nil {
		return nil, fmt.Errorf("failed to check for duplicate: %w", err)
	} else if existing != nil {
		log.Debug().Str("file", filePath).Str("checksum", checksum).Msg("skipping duplicate")
		return nil, nil
	}

	d, err := derive(data)
	if err != nil {
		return nil, err
	}

	rel, err := filepath.Rel(root, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to build object path: %w", err)
	}
	objectPath := filepath.ToSlash(rel)

	contentType := mime.TypeByExtension(filepath.Ext(filePath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if err := ing.store.Put(ctx, objectPath, data, contentType); err != nil {
		return nil, err
	}
	thumbPath := thumbKey(objectPath)
	if err := ing.store.Put(ctx, thumbPath, d.thumb, "image/jpeg"); err != nil {
		return nil, err
	}

	row := &models.DatasetImage{
		BucketName:   ing.store.Bucket(),
		ObjectPath:   objectPath,
		Domain:       domain,
		Authenticity: auth,
		Split:        AssignSplit(checksum),
		Filename:     filepath.Base(filePath),
		Size:         int64(len(data)),
		ContentType:  contentType,
		Checksum:     checksum,
		PHash:        d.phash,
		Width:        d.width,
		Height:       d.height,
		ThumbPath:    thumbPath,
		ThumbWidth:   d.thumbW,
		ThumbHeight:  d.thumbH,
		Source:       ing.source,
	}
	if err := ing.catalog.SaveDatasetImage(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to save catalog row: %w", err)
	}
	return row, nil
}

func (ing *Ingester) ingestObject(ctx context.Context, key, auth, domain string) (*models.DatasetImage, error) {
	data, err := ing.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	checksum := sha256Hex(data)
	if existing, err := ing.catalog.GetDatasetImageByChecksum(ctx, checksum); err != nil {
		return nil, fmt.Errorf("failed to check for duplicate: %w", err)
	} else if existing != nil {
		log.Debug().Str("object", key).Str("checksum", checksum).Msg("skipping duplicate")
		return nil, nil
	}

	d, err := derive(data)
	if err != nil {
		return nil, err
	}

	thumbPath := thumbKey(key)
	if err := ing.store.Put(ctx, thumbPath, d.thumb, "image/jpeg"); err != nil {
		return nil, err
	}

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "image/jpeg"
	}

	row := &models.DatasetImage{
		BucketName:   ing.store.Bucket(),
		ObjectPath:   key,
		Domain:       domain,
		Authenticity: auth,
		Split:        AssignSplit(checksum),
		Filename:     path.Base(key),
		Size:         int64(len(data)),
		ContentType:  contentType,
		Checksum:     checksum,
		PHash:        d.phash,
		Width:        d.width,
		Height:       d.height,
		ThumbPath:    thumbPath,
		ThumbWidth:   d.thumbW,
		ThumbHeight:  d.thumbH,
		Source:       ing.source,
	}
	if err := ing.catalog.SaveDatasetImage(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to save catalog row: %w", err)
	}
	return row, nil
}

// ManifestEntry is one row of the export manifest handed to training jobs.
type ManifestEntry struct {
	Bucket       string `json:"bucket"`
	Path         string `json:"path"`
	ThumbPath    string `json:"thumb_path"`
	Domain       string `json:"domain"`
	Authenticity string `json:"authenticity"`
	Split        string `json:"split"`
	URL          string `json:"url"`
	ThumbURL     string `json:"thumb_url"`
}

// WriteManifest writes a pretty-printed manifest of the given rows with
// hour-limited signed URLs for each object and thumbnail.
func (ing *Ingester) WriteManifest(ctx context.Context, rows []*models.DatasetImage, outPath string) error {
	entries := make([]ManifestEntry, 0, len(rows))
	for _, r := range rows {
		url, err := ing.store.SignedURL(ctx, r.ObjectPath, signedURLExpiry)
		if err != nil {
			log.Warn().Err(err).Str("object", r.ObjectPath).Msg("failed to sign object url")
		}
		var thumbURL string
		if r.ThumbPath != "" {
			thumbURL, err = ing.store.SignedURL(ctx, r.ThumbPath, signedURLExpiry)
			if err != nil {
				log.Warn().Err(err).Str("object", r.ThumbPath).Msg("failed to sign thumb url")
			}
		}
		entries = append(entries, ManifestEntry{
			Bucket:       r.BucketName,
			Path:         r.ObjectPath,
			ThumbPath:    r.ThumbPath,
			Domain:       r.Domain,
			Authenticity: r.Authenticity,
			Split:        r.Split,
			URL:          url,
			ThumbURL:     thumbURL,
		})
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

type derived struct {
	width, height  int
	phash          int64
	thumb          []byte
	thumbW, thumbH int
}

// derive decodes the image and computes everything the catalog stores about
// it: dimensions, perceptual hash and the thumbnail JPEG. The perceptual hash
// is kept as a signed 64-bit value.
func derive(data []byte) (*derived, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return nil, fmt.Errorf("failed to compute perceptual hash: %w", err)
	}

	thumb, err := thumbnailJPEG(img)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	return &derived{
		width:  b.Dx(),
		height: b.Dy(),
		phash:  int64(hash.GetHash()),
		thumb:  thumb,
		thumbW: thumbSize,
		thumbH: thumbSize,
	}, nil
}

// thumbnailJPEG center-crops the image to a square and scales it to the fixed
// thumbnail size, so thumbnails keep the framing without letterboxing.
func thumbnailJPEG(src image.Image) ([]byte, error) {
	b := src.Bounds()
	side := b.Dx()
	if b.Dy() < side {
		side = b.Dy()
	}
	x0 := b.Min.X + (b.Dx()-side)/2
	y0 := b.Min.Y + (b.Dy()-side)/2
	crop := image.Rect(x0, y0, x0+side, y0+side)

	dst := image.NewRGBA(image.Rect(0, 0, thumbSize, thumbSize))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: thumbJPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func thumbKey(objectPath string) string {
	ext := path.Ext(objectPath)
	return "thumbs/" + strings.TrimSuffix(objectPath, ext) + ".jpg"
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
