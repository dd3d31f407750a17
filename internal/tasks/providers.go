package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// FieldAccessor exposes the named fields of a looked-up object. Nested
// objects are returned as FieldAccessors themselves.
type FieldAccessor interface {
	Field(name string) (interface{}, bool)
}

// Record is a FieldAccessor over a plain map
type Record map[string]interface{}

// Field returns the named field, lifting nested maps into Records
func (r Record) Field(name string) (interface{}, bool) {
	v, ok := r[name]
	if !ok {
		return nil, false
	}
	switch nested := v.(type) {
	case map[string]interface{}:
		return Record(nested), true
	case map[string]string:
		rec := make(Record, len(nested))
		for k, s := range nested {
			rec[k] = s
		}
		return rec, true
	}
	return v, true
}

// DataProvider is a pluggable lookup source keyed by object type
type DataProvider interface {
	// Name is the provider name used by ad placeholders
	Name() string

	// Supports reports whether the provider can look up objectType
	Supports(objectType string) bool

	// Lookup finds one object matching fields. A nil accessor with a nil
	// error means no object matched.
	Lookup(ctx context.Context, objectType string, fields map[string]string) (FieldAccessor, error)
}

// ObjectInfo describes one object type a provider serves
type ObjectInfo struct {
	Type         string   `json:"type"`
	DisplayName  string   `json:"displayName,omitempty"`
	LookupFields []string `json:"lookupFields"`
	Fields       []string `json:"fields"`
}

// ProviderInfo describes a provider for administrative listings
type ProviderInfo struct {
	Name    string       `json:"name"`
	Objects []ObjectInfo `json:"objects"`
}

// Describer is implemented by providers able to describe their object types
type Describer interface {
	Describe() ProviderInfo
}

// ProviderRegistry holds the configured data providers. The list is only
// ever replaced as a whole so a lookup never observes a partial update.
type ProviderRegistry struct {
	providers atomic.Pointer[[]DataProvider]
	timeout   time.Duration
}

// NewProviderRegistry creates a registry whose lookups are bounded by timeout (0 disables the bound)
func NewProviderRegistry(timeout time.Duration) *ProviderRegistry {
	return &ProviderRegistry{timeout: timeout}
}

// SetProviders replaces the provider list. A nil or empty list disables every ad placeholder.
func (r *ProviderRegistry) SetProviders(providers []DataProvider) {
	list := append([]DataProvider(nil), providers...)
	r.providers.Store(&list)
}

// Providers returns a snapshot of the current provider list
func (r *ProviderRegistry) Providers() []DataProvider {
	list := r.providers.Load()
	if list == nil {
		return nil
	}
	return *list
}

// Describe lists the providers that can describe themselves
func (r *ProviderRegistry) Describe() []ProviderInfo {
	var infos []ProviderInfo
	for _, p := range r.Providers() {
		if d, ok := p.(Describer); ok {
			infos = append(infos, d.Describe())
		} else {
			infos = append(infos, ProviderInfo{Name: p.Name()})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// find selects the provider named name that supports objectType
func (r *ProviderRegistry) find(providers []DataProvider, name, objectType string) (DataProvider, error) {
	for _, p := range providers {
		if p.Name() == name && p.Supports(objectType) {
			return p, nil
		}
	}
	return nil, NewTaskError(KeyNoDataProvider, "provider", name, "type", objectType)
}

// adRef is a parsed ad placeholder path: PROVIDER.TYPE#INDEX.fieldPath
type adRef struct {
	Provider string
	Type     string
	Index    int64
	Path     []string
}

func (a adRef) cacheKey() string {
	return a.Provider + "." + a.Type + "#" + strconv.FormatInt(a.Index, 10)
}

// lookup resolves the object behind ref for one task run
func (r *ProviderRegistry) lookup(ctx context.Context, scope *Scope, ref adRef) (FieldAccessor, error) {
	if obj, ok := scope.objects[ref.cacheKey()]; ok {
		return obj, nil
	}

	providers := r.Providers()
	if len(providers) == 0 {
		return nil, NewTaskError(KeyNoDataProvider, "provider", ref.Provider, "type", ref.Type)
	}

	provider, err := r.find(providers, ref.Provider, ref.Type)
	if err != nil {
		return nil, err
	}

	fields, err := lookupFields(scope, ref)
	if err != nil {
		return nil, err
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	obj, err := safeLookup(ctx, provider, ref.Type, fields)
	if err != nil {
		return nil, AsTaskError(err, KeyProviderFailure).With("provider", ref.Provider).With("type", ref.Type)
	}
	if obj == nil || isNilRecord(obj) {
		return nil, NewTaskError(KeyObjectNotFound, "provider", ref.Provider, "type", ref.Type)
	}

	scope.objects[ref.cacheKey()] = obj
	return obj, nil
}

// Resolve looks up the object behind ref and walks its field path
func (r *ProviderRegistry) Resolve(ctx context.Context, scope *Scope, ref adRef) (Value, error) {
	obj, err := r.lookup(ctx, scope, ref)
	if err != nil {
		return Null(), err
	}
	return resolvePath(obj, ref)
}

// lookupFields builds the lookup field map from the declarations in ref's group
func lookupFields(scope *Scope, ref adRef) (map[string]string, error) {
	fields := make(map[string]string)
	for _, ad := range scope.Task.AdditionalData[ref.Provider] {
		if ad.ID != ref.Index {
			continue
		}
		v, ok := scope.Params[ad.LookupValue]
		if !ok || v.IsNull() {
			return nil, NewTaskError(KeyTemplateNull, "parameter", ad.LookupValue)
		}
		fields[ad.LookupField] = v.String()
	}

	if len(fields) == 0 {
		return nil, NewTaskError(KeyObjectNotFound, "provider", ref.Provider, "type", ref.Type,
			"index", strconv.FormatInt(ref.Index, 10))
	}
	return fields, nil
}

func resolvePath(obj FieldAccessor, ref adRef) (Value, error) {
	var current interface{} = obj
	for i, name := range ref.Path {
		accessor, ok := current.(FieldAccessor)
		if !ok {
			return Null(), fieldNotFound(ref, i)
		}
		current, ok = accessor.Field(name)
		if !ok {
			return Null(), fieldNotFound(ref, i)
		}
	}

	if rec, ok := current.(Record); ok {
		raw, err := json.Marshal(map[string]interface{}(rec))
		if err != nil {
			return Null(), fieldNotFound(ref, len(ref.Path)-1)
		}
		return TextValue(string(raw)), nil
	}

	v, err := ValueOf(current)
	if err != nil {
		return Null(), fieldNotFound(ref, len(ref.Path)-1).Wrap(err)
	}
	return v, nil
}

func fieldNotFound(ref adRef, depth int) *TaskError {
	return NewTaskError(KeyFieldNotFound,
		"provider", ref.Provider,
		"type", ref.Type,
		"field", strings.Join(ref.Path[:depth+1], "."),
	)
}

// safeLookup keeps a misbehaving provider from taking the engine down
func safeLookup(ctx context.Context, p DataProvider, objectType string, fields map[string]string) (obj FieldAccessor, err error) {
	defer func() {
		if r := recover(); r != nil {
			obj, err = nil, fmt.Errorf("provider %s panicked: %v", p.Name(), r)
		}
	}()
	return p.Lookup(ctx, objectType, fields)
}

func isNilRecord(obj FieldAccessor) bool {
	rec, ok := obj.(Record)
	return ok && rec == nil
}
