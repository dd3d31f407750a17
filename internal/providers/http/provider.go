// Package http looks objects up on a REST endpoint.
//
// The object type selects the resource: a "{type}" placeholder in the base
// URL is replaced by it, otherwise it is appended as a path segment. Lookup
// fields travel as query parameters (or replace a "{query}" placeholder).
// The endpoint may answer with a single JSON object or an array, of which
// the first element is used. A 404 or an empty array means no object matched.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"task-router/internal/common/cache"
	"task-router/internal/common/errors"
	commonhttp "task-router/internal/common/http"
	"task-router/internal/common/logging"
	"task-router/internal/common/utils"
	"task-router/internal/common/validation"
	"task-router/internal/tasks"
)

// Config configures a REST provider
type Config struct {
	Name    string   `validate:"required"`
	BaseURL string   `validate:"required"`
	Types   []string `validate:"min=1,dive,required"`
	// Token is sent as a bearer token when set
	Token   string
	Timeout time.Duration
	// CacheTTL bounds how long found objects are cached. Zero disables the cache.
	CacheTTL time.Duration
	Retry    utils.RetryConfig

	// MaxIdleConnsPerHost bounds kept-alive connections to the endpoint, 0 for the default
	MaxIdleConnsPerHost int
	// InsecureSkipVerify accepts any TLS certificate, for self-signed test endpoints
	InsecureSkipVerify bool
}

// Provider implements tasks.DataProvider over HTTP
type Provider struct {
	config Config
	getter *commonhttp.Getter
	cache  cache.Cache
	logger logging.Logger
}

// New creates a REST provider. objects may be nil.
func New(config Config, objects cache.Cache, logger logging.Logger) (*Provider, error) {
	if err := validation.ValidateStruct(config); err != nil {
		return nil, err
	}
	if _, err := url.Parse(strings.NewReplacer("{type}", "type", "{query}", "").Replace(config.BaseURL)); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid base url: %v", err))
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = utils.RetryConfig{
			MaxAttempts:   2,
			InitialDelay:  200 * time.Millisecond,
			MaxDelay:      time.Second,
			BackoffFactor: 2,
		}
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Provider{
		config: config,
		getter: commonhttp.NewGetter(newClient(config), config.Retry),
		cache:  objects,
		logger: logger.WithFields(logging.String("provider", config.Name)),
	}, nil
}

func newClient(config Config) *http.Client {
	opts := []commonhttp.ClientOption{
		commonhttp.WithTimeout(config.Timeout),
		commonhttp.WithMaxIdleConnsPerHost(config.MaxIdleConnsPerHost),
	}
	if config.InsecureSkipVerify {
		opts = append(opts, commonhttp.WithInsecureSkipVerify())
	}
	return commonhttp.NewHTTPClient(opts...)
}

func (p *Provider) Name() string {
	return p.config.Name
}

func (p *Provider) Supports(objectType string) bool {
	for _, t := range p.config.Types {
		if t == objectType {
			return true
		}
	}
	return false
}

func (p *Provider) Lookup(ctx context.Context, objectType string, fields map[string]string) (tasks.FieldAccessor, error) {
	requestURL := p.buildURL(objectType, fields)
	cacheKey := p.cacheKey(objectType, fields)

	if p.cache != nil && p.config.CacheTTL > 0 {
		cached, found, err := p.cache.Get(ctx, cacheKey)
		if err != nil {
			p.logger.Warn("Provider cache read failed", logging.Err(err))
		} else if found {
			return tasks.Record(cached), nil
		}
	}

	headers := map[string]string{"Accept": "application/json"}
	if p.config.Token != "" {
		headers["Authorization"] = "Bearer " + p.config.Token
	}

	resp, err := p.getter.Get(ctx, requestURL, headers)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if !resp.Success() {
		return nil, errors.ConnectionError(fmt.Sprintf("lookup of %s answered HTTP %d", objectType, resp.StatusCode), nil)
	}

	obj, err := decodeObject(resp.Body)
	if err != nil {
		return nil, errors.InternalError(fmt.Sprintf("invalid %s response", objectType), err)
	}
	if obj == nil {
		return nil, nil
	}

	p.logger.Debug("Provider lookup answered",
		logging.String("type", objectType),
		logging.Duration("duration", resp.Duration),
	)

	if p.cache != nil && p.config.CacheTTL > 0 {
		if err := p.cache.Set(ctx, cacheKey, obj, p.config.CacheTTL); err != nil {
			p.logger.Warn("Provider cache write failed", logging.Err(err))
		}
	}
	return tasks.Record(obj), nil
}

// decodeObject accepts an object or an array of objects. Nil means nothing matched.
func decodeObject(body []byte) (map[string]interface{}, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var list []map[string]interface{}
		if err := json.Unmarshal([]byte(trimmed), &list); err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, nil
		}
		return list[0], nil
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func (p *Provider) buildURL(objectType string, fields map[string]string) string {
	query := url.Values{}
	for k, v := range fields {
		query.Set(k, v)
	}
	encoded := query.Encode()

	base := p.config.BaseURL
	if strings.Contains(base, "{type}") {
		base = strings.ReplaceAll(base, "{type}", url.PathEscape(objectType))
	} else {
		base = strings.TrimRight(base, "/") + "/" + url.PathEscape(objectType)
	}

	if strings.Contains(base, "{query}") {
		return strings.ReplaceAll(base, "{query}", encoded)
	}
	if encoded == "" {
		return base
	}
	if strings.Contains(base, "?") {
		return base + "&" + encoded
	}
	return base + "?" + encoded
}

func (p *Provider) cacheKey(objectType string, fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(p.config.Name)
	b.WriteString(":")
	b.WriteString(objectType)
	for _, k := range keys {
		b.WriteString(":")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(fields[k])
	}
	return b.String()
}

// Describe lists the configured object types. Their fields are whatever the endpoint returns.
func (p *Provider) Describe() tasks.ProviderInfo {
	info := tasks.ProviderInfo{Name: p.config.Name}
	for _, t := range p.config.Types {
		info.Objects = append(info.Objects, tasks.ObjectInfo{Type: t, LookupFields: []string{}, Fields: []string{}})
	}
	return info
}

var (
	_ tasks.DataProvider = (*Provider)(nil)
	_ tasks.Describer    = (*Provider)(nil)
)
