package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-router/internal/common/errors"
)

type namedFactory struct {
	name string
}

func (f namedFactory) GetType() string { return f.name }

func TestRegistry(t *testing.T) {
	r := New[namedFactory]()
	r.RegisterFactory(namedFactory{name: "sqlite"})
	r.Register("memory", namedFactory{name: "memory"})

	assert.Equal(t, 2, r.Count())
	assert.True(t, r.IsRegistered("sqlite"))
	assert.False(t, r.IsRegistered("postgres"))
	assert.Equal(t, []string{"memory", "sqlite"}, r.GetAvailableTypes())

	f, err := r.Get("sqlite")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", f.GetType())

	_, err = r.Get("postgres")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}
