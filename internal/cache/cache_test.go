package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahnjh51-tft/deepguard-v1/internal/config"
	"github.com/ahnjh51-tft/deepguard-v1/internal/models"
)

func TestNew_DisabledReturnsNil(t *testing.T) {
	c, err := New(config.CacheConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestNew_UnsupportedBackend(t *testing.T) {
	_, err := New(config.CacheConfig{Enabled: true, Backend: "memcached"})
	assert.Error(t, err)
}

func TestMemoryCache_SetGet(t *testing.T) {
	c := NewMemoryCache(time.Hour)
	ctx := context.Background()

	got, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	want := models.DetectionResult{IsFake: true, Confidence: 0.77}
	require.NoError(t, c.Set(ctx, "k", want))

	got, err = c.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }
	require.NoError(t, c.Set(ctx, "k", models.DetectionResult{IsFake: false, Confidence: 0.1}))

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryCache_GetReturnsCopy(t *testing.T) {
	c := NewMemoryCache(time.Hour)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", models.DetectionResult{Confidence: 0.5}))

	first, err := c.Get(ctx, "k")
	require.NoError(t, err)
	first.Confidence = 0.9

	second, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 0.5, second.Confidence)
}
