package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailbridge/backend/internal/config"
	"mailbridge/backend/internal/domain"
	"mailbridge/backend/internal/storage"
	"mailbridge/backend/internal/storage/memory"
)

func newTestRegistry() (*TargetRegistry, *memory.Store) {
	store := memory.NewStore()
	return NewTargetRegistry(store, zap.NewNop()), store
}

func TestTargetRegistry_SeedFromConfig(t *testing.T) {
	registry, _ := newTestRegistry()

	seeds := []config.TargetSeed{
		{Name: "Primary", URL: "https://dav.example.com/a", Login: "u", Password: "p", Timeout: 60, ChunkSize: 8192},
		{Name: "Backup", URL: "https://dav.example.com/b", Login: "u", Password: "p", Timeout: 30, ChunkSize: 4096},
	}

	require.NoError(t, registry.SeedFromConfig(seeds))

	targets, err := registry.List()
	require.NoError(t, err)
	require.Len(t, targets, 2)

	// First seeded target becomes the default
	assert.Equal(t, "Primary", targets[0].Name)
	assert.True(t, targets[0].IsDefault)
	assert.False(t, targets[1].IsDefault)
	assert.True(t, targets[0].Enabled)
}

func TestTargetRegistry_SeedOnlyWhenEmpty(t *testing.T) {
	registry, _ := newTestRegistry()

	require.NoError(t, registry.Create(&domain.StorageTarget{
		Name: "Existing", URL: "https://dav.example.com/x", Login: "u", Password: "p",
	}))

	// Seeding is skipped once the registry has any target
	seeds := []config.TargetSeed{
		{Name: "Primary", URL: "https://dav.example.com/a", Login: "u", Password: "p"},
	}
	require.NoError(t, registry.SeedFromConfig(seeds))

	targets, err := registry.List()
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "Existing", targets[0].Name)
}

func TestTargetRegistry_SeedValidation(t *testing.T) {
	registry, _ := newTestRegistry()

	err := registry.SeedFromConfig([]config.TargetSeed{
		{Name: "Broken", URL: "ftp://not-webdav", Login: "u", Password: "p"},
	})
	assert.Error(t, err)
}

func TestTargetRegistry_ResolveUploadTarget(t *testing.T) {
	registry, _ := newTestRegistry()

	// No targets at all
	_, err := registry.ResolveUploadTarget()
	assert.ErrorIs(t, err, storage.ErrNoTargetConfigured)

	require.NoError(t, registry.Create(&domain.StorageTarget{
		Name: "Primary", URL: "https://dav.example.com/a", Login: "u", Password: "p",
		Enabled: true,
	}))
	require.NoError(t, registry.Create(&domain.StorageTarget{
		Name: "Backup", URL: "https://dav.example.com/b", Login: "u", Password: "p",
		Enabled: true, Priority: 1,
	}))

	// Enabled default wins
	target, err := registry.ResolveUploadTarget()
	require.NoError(t, err)
	assert.Equal(t, "Primary", target.Name)

	// Disabled default falls back to the first enabled target by priority
	primary, err := registry.Get("Primary")
	require.NoError(t, err)
	primary.Enabled = false
	require.NoError(t, registry.Update(primary))

	target, err = registry.ResolveUploadTarget()
	require.NoError(t, err)
	assert.Equal(t, "Backup", target.Name)

	// All targets disabled
	backup, err := registry.Get("Backup")
	require.NoError(t, err)
	backup.Enabled = false
	require.NoError(t, registry.Update(backup))

	_, err = registry.ResolveUploadTarget()
	assert.ErrorIs(t, err, storage.ErrNoTargetConfigured)
}

func TestTargetRegistry_FirstCreatedBecomesDefault(t *testing.T) {
	registry, _ := newTestRegistry()

	require.NoError(t, registry.Create(&domain.StorageTarget{
		Name: "Only", URL: "https://dav.example.com/o", Login: "u", Password: "p",
		Enabled: true,
	}))

	target, err := registry.Get("Only")
	require.NoError(t, err)
	assert.True(t, target.IsDefault)
	assert.Equal(t, domain.DefaultTargetTimeout, target.Timeout)
	assert.Equal(t, domain.DefaultTargetChunkSize, target.ChunkSize)
}

func TestTargetRegistry_SetDefaultMovesFlag(t *testing.T) {
	registry, _ := newTestRegistry()

	require.NoError(t, registry.Create(&domain.StorageTarget{
		Name: "A", URL: "https://dav.example.com/a", Login: "u", Password: "p", Enabled: true,
	}))
	require.NoError(t, registry.Create(&domain.StorageTarget{
		Name: "B", URL: "https://dav.example.com/b", Login: "u", Password: "p", Enabled: true,
	}))

	require.NoError(t, registry.SetDefault("B"))

	a, err := registry.Get("A")
	require.NoError(t, err)
	b, err := registry.Get("B")
	require.NoError(t, err)
	assert.False(t, a.IsDefault)
	assert.True(t, b.IsDefault)

	assert.ErrorIs(t, registry.SetDefault("missing"), storage.ErrTargetNotFound)
}
