package tasks

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vjeantet/jodaTime"
)

// DatePattern formats dates using Joda letter patterns such as "yyyyMMdd"
// or "dd MMM yyyy HH:mm". Text in single quotes is copied verbatim.
type DatePattern struct {
	pattern string
}

var patternCache sync.Map

// supportedDateLetters are the pattern letters jodaTime formats
const supportedDateLetters = "CYxweEyDMdaKhHkmsSzZ"

// CompileDatePattern checks pattern, failing with a DateFormat error on
// unknown letters or an unterminated quote
func CompileDatePattern(pattern string) (*DatePattern, error) {
	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*DatePattern), nil
	}

	if err := checkDatePattern(pattern); err != nil {
		return nil, NewTaskError(KeyDateFormat, "pattern", pattern).Wrap(err)
	}

	compiled := &DatePattern{pattern: pattern}
	patternCache.Store(pattern, compiled)
	return compiled, nil
}

// checkDatePattern rejects what jodaTime would silently print as text
func checkDatePattern(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return fmt.Errorf("empty pattern")
	}

	quoted := false
	for i, r := range pattern {
		switch {
		case r == '\'':
			quoted = !quoted
		case quoted:
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			if !strings.ContainsRune(supportedDateLetters, r) {
				return fmt.Errorf("unknown pattern letter %q at %d", r, i)
			}
		}
	}
	if quoted {
		return fmt.Errorf("unterminated quote")
	}
	return nil
}

// Format renders t
func (p *DatePattern) Format(t time.Time) string {
	return jodaTime.Format(p.pattern, t)
}

// String returns the source pattern
func (p *DatePattern) String() string {
	return p.pattern
}
