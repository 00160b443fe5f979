package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/memeindex/internal/domain"
)

func TestSettingsPutAndGet(t *testing.T) {
	env := newTestEnv(t)
	s := NewSettingsService(env.settingRepo)
	ctx := context.Background()

	_, err := s.Get(ctx, "theme")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.Put(ctx, "theme", "dark")
	require.NoError(t, err)
	_, err = s.Put(ctx, "theme", "light")
	require.NoError(t, err)

	got, err := s.Get(ctx, "theme")
	require.NoError(t, err)
	assert.Equal(t, "light", got.Value)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = s.Put(ctx, "  ", "x")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSettingsScanPaths(t *testing.T) {
	env := newTestEnv(t)
	s := NewSettingsService(env.settingRepo)
	ctx := context.Background()

	paths, err := s.ScanPaths(ctx)
	require.NoError(t, err)
	assert.Nil(t, paths)

	_, err = s.Put(ctx, domain.SettingScanPaths, "/memes")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = s.Put(ctx, domain.SettingScanPaths, `["/memes", "  ", "s3://bucket/memes"]`)
	require.NoError(t, err)

	paths, err = s.ScanPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/memes", "s3://bucket/memes"}, paths)
}
