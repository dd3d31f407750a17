package tasks

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"task-router/internal/common/logging"
)

const (
	placeholderOpen  = "{{"
	placeholderClose = "}}"

	sourceTrigger = "trigger"
	sourceAd      = "ad"
)

// Scope is the state shared by every field template rendered for one task run
type Scope struct {
	Task   *Task
	Params map[string]Value

	// objects memoizes provider lookups so a lookup runs once per run
	objects map[string]FieldAccessor
}

// NewScope creates the rendering scope of one task run
func NewScope(task *Task, params map[string]Value) *Scope {
	return &Scope{Task: task, Params: params, objects: make(map[string]FieldAccessor)}
}

type segment struct {
	literal     string
	placeholder *placeholder
}

type placeholder struct {
	raw           string
	source        string
	key           string
	ad            adRef
	adErr         error
	manipulations []manipulation
}

type manipulation struct {
	name string
	arg  string
}

// TemplateEngine renders action field templates
type TemplateEngine struct {
	providers *ProviderRegistry
	logger    logging.Logger
	parsed    sync.Map
}

// NewTemplateEngine creates a template engine resolving ad placeholders through providers
func NewTemplateEngine(providers *ProviderRegistry, logger logging.Logger) *TemplateEngine {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &TemplateEngine{providers: providers, logger: logger}
}

// Render resolves every placeholder of tmpl. A template made of exactly one
// placeholder keeps the resolved value's native kind, anything else renders to text.
func (te *TemplateEngine) Render(ctx context.Context, tmpl string, scope *Scope) (Value, error) {
	segments := te.parse(tmpl)

	if len(segments) == 1 && segments[0].placeholder != nil {
		return te.resolve(ctx, segments[0].placeholder, scope)
	}

	var b strings.Builder
	for _, seg := range segments {
		if seg.placeholder == nil {
			b.WriteString(seg.literal)
			continue
		}
		v, err := te.resolve(ctx, seg.placeholder, scope)
		if err != nil {
			return Null(), err
		}
		b.WriteString(v.String())
	}
	return TextValue(b.String()), nil
}

func (te *TemplateEngine) parse(tmpl string) []segment {
	if cached, ok := te.parsed.Load(tmpl); ok {
		return cached.([]segment)
	}

	var segments []segment
	rest := tmpl
	for {
		open := strings.Index(rest, placeholderOpen)
		if open < 0 {
			break
		}
		end := strings.Index(rest[open+len(placeholderOpen):], placeholderClose)
		if end < 0 {
			break
		}
		end += open + len(placeholderOpen)

		body := rest[open+len(placeholderOpen) : end]
		ph := parsePlaceholder(body)

		if open > 0 {
			segments = append(segments, segment{literal: rest[:open]})
		}
		if ph == nil {
			segments = append(segments, segment{literal: rest[open : end+len(placeholderClose)]})
		} else {
			segments = append(segments, segment{placeholder: ph})
		}
		rest = rest[end+len(placeholderClose):]
	}
	if rest != "" || len(segments) == 0 {
		segments = append(segments, segment{literal: rest})
	}

	te.parsed.Store(tmpl, segments)
	return segments
}

// parsePlaceholder parses SOURCE.PATH[?manipulation]*. Bodies with an
// unknown source are not placeholders and yield nil.
func parsePlaceholder(body string) *placeholder {
	parts := strings.Split(strings.TrimSpace(body), "?")
	ph := &placeholder{raw: body}

	source, path, found := strings.Cut(parts[0], ".")
	if !found || path == "" {
		return nil
	}

	switch source {
	case sourceTrigger:
		ph.source = sourceTrigger
		ph.key = path
	case sourceAd:
		// a malformed path fails at render time, after the provider check
		ph.source = sourceAd
		ph.ad, ph.adErr = parseAdRef(path)
	default:
		return nil
	}

	for _, m := range parts[1:] {
		ph.manipulations = append(ph.manipulations, parseManipulation(m))
	}
	return ph
}

// parseAdRef parses PROVIDER.TYPE#INDEX.fieldPath
func parseAdRef(path string) (adRef, error) {
	malformed := func() (adRef, error) {
		return adRef{}, NewTaskError(KeyObjectNotFound, "placeholder", "ad."+path)
	}

	provider, rest, ok := strings.Cut(path, ".")
	if !ok || provider == "" {
		return malformed()
	}
	objectType, rest, ok := strings.Cut(rest, "#")
	if !ok || objectType == "" {
		return malformed()
	}
	indexStr, fieldPath, ok := strings.Cut(rest, ".")
	if !ok || fieldPath == "" {
		return malformed()
	}
	index, err := strconv.ParseInt(indexStr, 10, 64)
	if err != nil {
		return malformed()
	}

	return adRef{
		Provider: provider,
		Type:     objectType,
		Index:    index,
		Path:     strings.Split(fieldPath, "."),
	}, nil
}

func parseManipulation(s string) manipulation {
	s = strings.TrimSpace(s)
	open := strings.Index(s, "(")
	if open < 0 || !strings.HasSuffix(s, ")") {
		return manipulation{name: s}
	}
	return manipulation{name: s[:open], arg: s[open+1 : len(s)-1]}
}

func (te *TemplateEngine) resolve(ctx context.Context, ph *placeholder, scope *Scope) (Value, error) {
	var (
		v   Value
		err error
	)

	switch ph.source {
	case sourceTrigger:
		var ok bool
		v, ok = scope.Params[ph.key]
		if !ok {
			v = Null()
		}
	case sourceAd:
		if ph.adErr != nil {
			if len(te.providers.Providers()) == 0 {
				return Null(), NewTaskError(KeyNoDataProvider, "placeholder", ph.raw)
			}
			return Null(), AsTaskError(ph.adErr, KeyObjectNotFound)
		}
		v, err = te.providers.Resolve(ctx, scope, ph.ad)
		if err != nil {
			return Null(), err
		}
	}

	if v.IsNull() {
		return Null(), NewTaskError(KeyTemplateNull, "placeholder", ph.raw)
	}

	for _, m := range ph.manipulations {
		v, err = te.manipulate(v, m)
		if err != nil {
			return Null(), err
		}
	}
	return v, nil
}

func (te *TemplateEngine) manipulate(v Value, m manipulation) (Value, error) {
	switch m.name {
	case "toUpper":
		return TextValue(strings.ToUpper(v.String())), nil
	case "toLower":
		return TextValue(strings.ToLower(v.String())), nil
	case "capitalize":
		return TextValue(capitalize(v.String())), nil
	case "join":
		return TextValue(strings.Join(strings.Fields(v.String()), m.arg)), nil
	case "dateTime":
		pattern, err := CompileDatePattern(m.arg)
		if err != nil {
			return Null(), err
		}
		d, err := asDate(v)
		if err != nil {
			return Null(), err
		}
		t, _ := d.Time()
		return TextValue(pattern.Format(t)), nil
	default:
		te.logger.Warn("Ignoring unknown manipulation",
			logging.String("manipulation", m.name),
		)
		return v, nil
	}
}

// capitalize upper-cases the first letter of every whitespace-separated word
func capitalize(s string) string {
	runes := []rune(s)
	atWordStart := true
	for i, r := range runes {
		if unicode.IsSpace(r) {
			atWordStart = true
			continue
		}
		if atWordStart {
			runes[i] = unicode.ToUpper(r)
			atWordStart = false
		}
	}
	return string(runes)
}
