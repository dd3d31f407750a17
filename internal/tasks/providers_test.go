package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	mu      sync.Mutex
	name    string
	types   []string
	object  FieldAccessor
	err     error
	panics  bool
	delay   time.Duration
	lookups []map[string]string
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Supports(objectType string) bool {
	for _, t := range p.types {
		if t == objectType {
			return true
		}
	}
	return false
}

func (p *stubProvider) Lookup(ctx context.Context, objectType string, fields map[string]string) (FieldAccessor, error) {
	p.mu.Lock()
	p.lookups = append(p.lookups, fields)
	p.mu.Unlock()

	if p.panics {
		panic("boom")
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p.object, p.err
}

func (p *stubProvider) lookupCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.lookups)
}

func mustAdRef(t *testing.T, path string) adRef {
	t.Helper()
	ref, err := parseAdRef(path)
	require.NoError(t, err)
	return ref
}

func TestParseAdRef(t *testing.T) {
	ref := mustAdRef(t, "TEST.TestObject#1.field.id")
	assert.Equal(t, adRef{Provider: "TEST", Type: "TestObject", Index: 1, Path: []string{"field", "id"}}, ref)

	for _, bad := range []string{"TEST", "TEST.TestObject", "TEST.TestObject#x.id", "TEST.TestObject#1", ".TestObject#1.id", "TEST.#1.id"} {
		_, err := parseAdRef(bad)
		assert.ErrorIs(t, err, ErrObjectNotFound, bad)
	}
}

func TestProviderRegistry_Resolve(t *testing.T) {
	provider := &stubProvider{
		name:   "TEST",
		types:  []string{"TestObject"},
		object: Record{"field": map[string]interface{}{"id": 6789, "name": "clinic"}},
	}
	registry := NewProviderRegistry(time.Second)
	registry.SetProviders([]DataProvider{provider})
	scope := templateScope()

	v, err := registry.Resolve(context.Background(), scope, mustAdRef(t, "TEST.TestObject#1.field.id"))
	require.NoError(t, err)
	assert.Equal(t, "6789", v.String())

	v, err = registry.Resolve(context.Background(), scope, mustAdRef(t, "TEST.TestObject#1.field.name"))
	require.NoError(t, err)
	assert.Equal(t, "clinic", v.String())

	// the second placeholder reuses the object looked up for the first
	assert.Equal(t, 1, provider.lookupCount())
	assert.Equal(t, map[string]string{"id": "123456789"}, provider.lookups[0])

	v, err = registry.Resolve(context.Background(), scope, mustAdRef(t, "TEST.TestObject#1.field"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":6789,"name":"clinic"}`, v.String())
}

func TestProviderRegistry_Errors(t *testing.T) {
	ref := func(t *testing.T) adRef { return mustAdRef(t, "TEST.TestObject#1.field.id") }

	t.Run("no providers", func(t *testing.T) {
		registry := NewProviderRegistry(0)
		_, err := registry.Resolve(context.Background(), templateScope(), ref(t))
		assert.ErrorIs(t, err, ErrNoDataProvider)

		registry.SetProviders([]DataProvider{})
		_, err = registry.Resolve(context.Background(), templateScope(), ref(t))
		assert.ErrorIs(t, err, ErrNoDataProvider)
	})

	t.Run("provider does not support type", func(t *testing.T) {
		provider := &stubProvider{name: "TEST", types: []string{"Other"}}
		registry := NewProviderRegistry(0)
		registry.SetProviders([]DataProvider{provider})

		_, err := registry.Resolve(context.Background(), templateScope(), ref(t))
		assert.ErrorIs(t, err, ErrNoDataProvider)
		assert.Equal(t, 0, provider.lookupCount())
	})

	t.Run("object not found", func(t *testing.T) {
		registry := NewProviderRegistry(0)
		registry.SetProviders([]DataProvider{&stubProvider{name: "TEST", types: []string{"TestObject"}}})

		_, err := registry.Resolve(context.Background(), templateScope(), ref(t))
		assert.ErrorIs(t, err, ErrObjectNotFound)
	})

	t.Run("nil record", func(t *testing.T) {
		var rec Record
		registry := NewProviderRegistry(0)
		registry.SetProviders([]DataProvider{&stubProvider{name: "TEST", types: []string{"TestObject"}, object: rec}})

		_, err := registry.Resolve(context.Background(), templateScope(), ref(t))
		assert.ErrorIs(t, err, ErrObjectNotFound)
	})

	t.Run("field missing", func(t *testing.T) {
		registry := NewProviderRegistry(0)
		registry.SetProviders([]DataProvider{&stubProvider{name: "TEST", types: []string{"TestObject"}, object: Record{}}})

		_, err := registry.Resolve(context.Background(), templateScope(), ref(t))
		assert.ErrorIs(t, err, ErrFieldNotFound)

		var te *TaskError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, "field", te.Fields["field"])
	})

	t.Run("path through scalar", func(t *testing.T) {
		registry := NewProviderRegistry(0)
		registry.SetProviders([]DataProvider{&stubProvider{name: "TEST", types: []string{"TestObject"}, object: Record{"field": 1}}})

		_, err := registry.Resolve(context.Background(), templateScope(), ref(t))
		assert.ErrorIs(t, err, ErrFieldNotFound)
	})

	t.Run("no matching declaration", func(t *testing.T) {
		registry := NewProviderRegistry(0)
		registry.SetProviders([]DataProvider{&stubProvider{name: "TEST", types: []string{"TestObject"}, object: Record{}}})

		_, err := registry.Resolve(context.Background(), templateScope(), mustAdRef(t, "TEST.TestObject#2.field"))
		assert.ErrorIs(t, err, ErrObjectNotFound)
	})

	t.Run("lookup value missing", func(t *testing.T) {
		registry := NewProviderRegistry(0)
		registry.SetProviders([]DataProvider{&stubProvider{name: "TEST", types: []string{"TestObject"}, object: Record{}}})

		scope := templateScope()
		delete(scope.Params, "externalId")
		_, err := registry.Resolve(context.Background(), scope, ref(t))
		assert.ErrorIs(t, err, ErrTemplateNull)
	})

	t.Run("provider error", func(t *testing.T) {
		registry := NewProviderRegistry(0)
		registry.SetProviders([]DataProvider{&stubProvider{name: "TEST", types: []string{"TestObject"}, err: errors.New("connection refused")}})

		_, err := registry.Resolve(context.Background(), templateScope(), ref(t))
		assert.ErrorIs(t, err, ErrProviderFailure)
	})

	t.Run("provider panic", func(t *testing.T) {
		registry := NewProviderRegistry(0)
		registry.SetProviders([]DataProvider{&stubProvider{name: "TEST", types: []string{"TestObject"}, panics: true}})

		_, err := registry.Resolve(context.Background(), templateScope(), ref(t))
		assert.ErrorIs(t, err, ErrProviderFailure)
	})

	t.Run("provider timeout", func(t *testing.T) {
		registry := NewProviderRegistry(20 * time.Millisecond)
		registry.SetProviders([]DataProvider{&stubProvider{name: "TEST", types: []string{"TestObject"}, delay: time.Second}})

		_, err := registry.Resolve(context.Background(), templateScope(), ref(t))
		assert.ErrorIs(t, err, ErrProviderFailure)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestProviderRegistry_SetProvidersCopies(t *testing.T) {
	list := []DataProvider{&stubProvider{name: "A"}}
	registry := NewProviderRegistry(0)
	registry.SetProviders(list)

	list[0] = &stubProvider{name: "B"}
	assert.Equal(t, "A", registry.Providers()[0].Name())
}

type describingProvider struct {
	stubProvider
}

func (p *describingProvider) Describe() ProviderInfo {
	return ProviderInfo{Name: p.name, Objects: []ObjectInfo{{Type: "Patient", LookupFields: []string{"id"}}}}
}

func TestProviderRegistry_Describe(t *testing.T) {
	registry := NewProviderRegistry(0)
	registry.SetProviders([]DataProvider{
		&stubProvider{name: "zeta"},
		&describingProvider{stubProvider{name: "alpha"}},
	})

	infos := registry.Describe()
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.Len(t, infos[0].Objects, 1)
	assert.Equal(t, "zeta", infos[1].Name)
	assert.Empty(t, infos[1].Objects)
}

func TestRecordField(t *testing.T) {
	rec := Record{"flat": map[string]string{"a": "b"}}
	nested, ok := rec.Field("flat")
	require.True(t, ok)
	inner, ok := nested.(Record).Field("a")
	require.True(t, ok)
	assert.Equal(t, "b", inner)

	_, ok = rec.Field("nope")
	assert.False(t, ok)
}
