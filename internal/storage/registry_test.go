package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-router/internal/common/errors"
	"task-router/internal/config"
	"task-router/internal/storage"
	"task-router/internal/storage/memory"
)

type fakeFactory struct{ created int }

func (f *fakeFactory) Create(storage.StorageConfig) (storage.Storage, error) {
	f.created++
	return memory.New(), nil
}

func (f *fakeFactory) GetType() string { return "fake" }

func TestRegistry(t *testing.T) {
	r := storage.NewRegistry()
	factory := &fakeFactory{}
	r.Register("fake", factory)

	assert.True(t, r.IsRegistered("fake"))
	assert.False(t, r.IsRegistered("other"))
	assert.Equal(t, []string{"fake"}, r.GetAvailableTypes())

	s, err := r.Create("fake", storage.GenericConfig{"type": "fake"})
	require.NoError(t, err)
	assert.NotNil(t, s)
	assert.Equal(t, 1, factory.created)

	_, err = r.Create("other", storage.GenericConfig{})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestRegistry_InvalidConfig(t *testing.T) {
	r := storage.NewRegistry()
	factory := &fakeFactory{}
	r.Register("sqlite", factory)

	_, err := r.Create("sqlite", storage.GenericConfig{"type": "sqlite"})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
	assert.Equal(t, 0, factory.created)
}

func TestGenericConfig(t *testing.T) {
	gc := storage.GenericConfig{"type": "postgres", "connection_string": "postgres://db/tasks"}
	assert.Equal(t, "postgres", gc.GetType())
	assert.Equal(t, "postgres://db/tasks", gc.GetConnectionString())
	assert.NoError(t, gc.Validate())

	assert.Equal(t, "unknown", storage.GenericConfig{}.GetType())
	assert.Error(t, storage.GenericConfig{"type": "postgres"}.Validate())
}

func TestNewStorage(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{Type: "memory"}}
	s, err := storage.NewStorage(cfg)
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, s)

	cfg.Database.Type = "mongo"
	_, err = storage.NewStorage(cfg)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}
