package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahnjh51-tft/deepguard-v1/internal/database"
	"github.com/ahnjh51-tft/deepguard-v1/internal/storage"
)

// pngBytes renders a small gradient PNG. The seed shifts the gradient so
// different seeds produce different checksums.
func pngBytes(t *testing.T, w, h int, seed uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x) + seed, G: uint8(y), B: seed, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

type ingestEnv struct {
	ing     *Ingester
	store   *storage.LocalStore
	catalog *database.SQLiteStore
}

func newIngestEnv(t *testing.T) *ingestEnv {
	t.Helper()
	store, err := storage.NewLocalStore(filepath.Join(t.TempDir(), "objects"))
	require.NoError(t, err)
	catalog, err := database.NewSQLiteStore(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })
	return &ingestEnv{ing: NewIngester(store, catalog), store: store, catalog: catalog}
}

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"id", "id"},
		{"ID", "id"},
		{" receipt ", "receipt"},
		{"car_accident", "car_accident"},
		{"car_accidents", "car_accident"},
		{"Car-Accident", "car_accident"},
		{"CarAccident", "car_accident"},
	}
	for _, tt := range tests {
		got, err := NormalizeDomain(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := NormalizeDomain("passport")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported domain")
}

func TestAssignSplit(t *testing.T) {
	// The leading 32 bits of the checksum pick the bucket: train below 0.8,
	// val below 0.9, test above.
	assert.Equal(t, "train", AssignSplit("00000000aabbcc"))
	assert.Equal(t, "train", AssignSplit("cc000000aabbcc")) // ~0.797
	assert.Equal(t, "val", AssignSplit("e6000000aabbcc"))   // ~0.898
	assert.Equal(t, "test", AssignSplit("ff000000aabbcc"))  // ~0.996

	// Degenerate checksums land in test rather than skewing train.
	assert.Equal(t, "test", AssignSplit("ab"))
	assert.Equal(t, "test", AssignSplit("zzzzzzzz00"))

	// Same checksum, same split.
	assert.Equal(t, AssignSplit("cafebabe00"), AssignSplit("cafebabe00"))
}

func TestIngestLocal(t *testing.T) {
	env := newIngestEnv(t)
	ctx := context.Background()
	root := t.TempDir()

	a := pngBytes(t, 64, 48, 1)
	b := pngBytes(t, 64, 48, 2)
	writeFile(t, filepath.Join(root, "real", "id", "a.png"), a)
	writeFile(t, filepath.Join(root, "fake", "receipt", "b.png"), b)
	// Same bytes as a.png under another name: deduplicated by checksum.
	writeFile(t, filepath.Join(root, "real", "id", "dup.png"), a)

	rows, err := env.ing.IngestLocal(ctx, root)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byPath := map[string]bool{}
	for _, row := range rows {
		byPath[row.ObjectPath] = true
		assert.Contains(t, []string{"train", "val", "test"}, row.Split)
		assert.Equal(t, 64, row.Width)
		assert.Equal(t, 48, row.Height)
		assert.Equal(t, 256, row.ThumbWidth)
		assert.Equal(t, 256, row.ThumbHeight)
		assert.Equal(t, "image/png", row.ContentType)
		assert.Equal(t, "local_import", row.Source)
		assert.Equal(t, env.store.Bucket(), row.BucketName)
	}
	assert.True(t, byPath["real/id/a.png"])
	assert.True(t, byPath["fake/receipt/b.png"])

	// Original uploaded unchanged, thumbnail decodes as a square JPEG.
	stored, err := env.store.Get(ctx, "real/id/a.png")
	require.NoError(t, err)
	assert.Equal(t, a, stored)

	thumb, err := env.store.Get(ctx, "thumbs/real/id/a.jpg")
	require.NoError(t, err)
	timg, err := jpeg.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, 256, timg.Bounds().Dx())
	assert.Equal(t, 256, timg.Bounds().Dy())

	// Catalog rows exist for both images.
	for _, row := range rows {
		got, err := env.catalog.GetDatasetImageByChecksum(ctx, row.Checksum)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, row.ObjectPath, got.ObjectPath)
	}

	// A second pass finds nothing new.
	again, err := env.ing.IngestLocal(ctx, root)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestIngestLocal_UnknownDomainAborts(t *testing.T) {
	env := newIngestEnv(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "real", "passport", "x.png"), pngBytes(t, 32, 32, 1))

	_, err := env.ing.IngestLocal(context.Background(), root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported domain")
}

func TestIngestLocal_SkipsUndecodableFiles(t *testing.T) {
	env := newIngestEnv(t)
	ctx := context.Background()
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "real", "id", "notes.txt"), []byte("not an image"))
	writeFile(t, filepath.Join(root, "real", "id", "ok.png"), pngBytes(t, 32, 32, 3))

	rows, err := env.ing.IngestLocal(ctx, root)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "real/id/ok.png", rows[0].ObjectPath)
}

func TestIngestBucket(t *testing.T) {
	env := newIngestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.Put(ctx, "real/id/c.png", pngBytes(t, 40, 40, 4), "image/png"))
	require.NoError(t, env.store.Put(ctx, "fake/car_accident/d.png", pngBytes(t, 40, 40, 5), "image/png"))
	// Objects outside the real/ and fake/ prefixes are not dataset images.
	require.NoError(t, env.store.Put(ctx, "misc/readme.png", pngBytes(t, 40, 40, 6), "image/png"))

	rows, err := env.ing.IngestBucket(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "bucket_scan", row.Source)
	}

	_, err = env.store.Get(ctx, "thumbs/real/id/c.jpg")
	assert.NoError(t, err)
}

func TestIngest_DispatchesOnLocalLayout(t *testing.T) {
	env := newIngestEnv(t)
	ctx := context.Background()

	// No real/ or fake/ folder: falls back to scanning the (empty) bucket.
	rows, err := env.ing.Ingest(ctx, t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, rows)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "fake", "id", "e.png"), pngBytes(t, 32, 32, 7))
	rows, err = env.ing.Ingest(ctx, root)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "local_import", rows[0].Source)
}

func TestWriteManifest(t *testing.T) {
	env := newIngestEnv(t)
	ctx := context.Background()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "real", "id", "m.png"), pngBytes(t, 32, 32, 8))

	rows, err := env.ing.IngestLocal(ctx, root)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	outPath := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, env.ing.WriteManifest(ctx, rows, outPath))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  {")

	var entries []ManifestEntry
	require.NoError(t, json.Unmarshal(data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "real/id/m.png", entries[0].Path)
	assert.Equal(t, "thumbs/real/id/m.jpg", entries[0].ThumbPath)
	assert.Equal(t, "id", entries[0].Domain)
	assert.Equal(t, "real", entries[0].Authenticity)
	assert.True(t, len(entries[0].URL) > 0 && entries[0].URL[:7] == "file://")
	assert.Contains(t, entries[0].ThumbURL, "file://")
}

func TestDerive_CropsToCenterSquare(t *testing.T) {
	// Wide input: the thumbnail still comes out square at the fixed size.
	d, err := derive(pngBytes(t, 400, 200, 9))
	require.NoError(t, err)
	assert.Equal(t, 400, d.width)
	assert.Equal(t, 200, d.height)

	img, err := jpeg.Decode(bytes.NewReader(d.thumb))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())
	assert.Equal(t, 256, img.Bounds().Dy())
}
