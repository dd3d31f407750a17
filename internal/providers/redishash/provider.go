// Package redishash serves objects stored as Redis hashes.
//
// An object of type T with id ID lives in the hash "T:ID". Every indexed
// field F with value V adds ID to the set "idx:T:F:V". A lookup intersects
// the index sets of its fields and loads the first matching hash; an "id"
// lookup field addresses the hash directly.
package redishash

import (
	"context"
	"fmt"
	"sort"
	"strings"

	goredis "github.com/go-redis/redis/v8"

	"task-router/internal/common/errors"
	"task-router/internal/redis"
	"task-router/internal/tasks"
)

// IDField is the lookup field naming the hash directly
const IDField = "id"

// Provider implements tasks.DataProvider over Redis hashes
type Provider struct {
	name   string
	types  map[string]bool
	client *redis.Client
}

// New creates a provider named name serving objectTypes
func New(name string, client *redis.Client, objectTypes ...string) (*Provider, error) {
	if name == "" {
		return nil, errors.ConfigError("redishash provider name is required")
	}
	if client == nil {
		return nil, errors.ConfigError("redishash provider needs a redis client")
	}
	if len(objectTypes) == 0 {
		return nil, errors.ConfigError("redishash provider needs at least one object type")
	}

	p := &Provider{name: name, types: make(map[string]bool), client: client}
	for _, t := range objectTypes {
		p.types[t] = true
	}
	return p, nil
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Supports(objectType string) bool {
	return p.types[objectType]
}

func (p *Provider) Lookup(ctx context.Context, objectType string, fields map[string]string) (tasks.FieldAccessor, error) {
	if len(fields) == 0 {
		return nil, nil
	}

	id, err := p.resolveID(ctx, objectType, fields)
	if err != nil || id == "" {
		return nil, err
	}

	values, err := p.client.HGetAll(ctx, hashKey(objectType, id))
	if err != nil {
		return nil, errors.ConnectionError("failed to read object hash", err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	record := make(tasks.Record, len(values)+1)
	for k, v := range values {
		record[k] = v
	}
	if _, ok := record[IDField]; !ok {
		record[IDField] = id
	}
	return record, nil
}

// resolveID returns the id of the first object matching every field, or "" when none does
func (p *Provider) resolveID(ctx context.Context, objectType string, fields map[string]string) (string, error) {
	if id, ok := fields[IDField]; ok && len(fields) == 1 {
		return id, nil
	}

	keys := make([]string, 0, len(fields))
	for f, v := range fields {
		if f == IDField {
			continue
		}
		keys = append(keys, indexKey(objectType, f, v))
	}
	sort.Strings(keys)

	ids, err := p.client.GetGoRedisClient().SInter(ctx, keys...).Result()
	if err != nil && err != goredis.Nil {
		return "", errors.ConnectionError("failed to query object index", err)
	}
	if len(ids) == 0 {
		return "", nil
	}
	sort.Strings(ids)

	if id, ok := fields[IDField]; ok {
		for _, candidate := range ids {
			if candidate == id {
				return id, nil
			}
		}
		return "", nil
	}
	return ids[0], nil
}

// Index stores an object and indexes it by indexFields
func (p *Provider) Index(ctx context.Context, objectType, id string, values map[string]string, indexFields ...string) error {
	if !p.Supports(objectType) {
		return errors.ValidationError(fmt.Sprintf("object type %s is not served by %s", objectType, p.name))
	}
	if strings.TrimSpace(id) == "" {
		return errors.ValidationError("object id is required")
	}

	if err := p.client.HSet(ctx, hashKey(objectType, id), values); err != nil {
		return errors.ConnectionError("failed to write object hash", err)
	}
	for _, f := range indexFields {
		v, ok := values[f]
		if !ok {
			continue
		}
		if err := p.client.SetAdd(ctx, indexKey(objectType, f, v), id); err != nil {
			return errors.ConnectionError("failed to index object", err)
		}
	}
	return nil
}

// Describe lists the served types. Fields are free-form hash fields.
func (p *Provider) Describe() tasks.ProviderInfo {
	info := tasks.ProviderInfo{Name: p.name}
	types := make([]string, 0, len(p.types))
	for t := range p.types {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		info.Objects = append(info.Objects, tasks.ObjectInfo{Type: t, LookupFields: []string{IDField}, Fields: []string{}})
	}
	return info
}

func hashKey(objectType, id string) string {
	return objectType + ":" + id
}

func indexKey(objectType, field, value string) string {
	return "idx:" + objectType + ":" + field + ":" + value
}

var (
	_ tasks.DataProvider = (*Provider)(nil)
	_ tasks.Describer    = (*Provider)(nil)
)
