package middleware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

const redacted = "***"

type piiMiddleware struct {
	next     ports.HistoryStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that replaces every match of the
// patterns in turn text with "***" before it is persisted. Masking is one-way.
func NewPIIMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		patterns[i] = re
	}
	return func(next ports.HistoryStore) ports.HistoryStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *piiMiddleware) Save(ctx context.Context, sessionID string, history domain.History) error {
	// Copy so the caller's history is left untouched
	masked := history.Clone()
	for i := range masked {
		masked[i].User = m.mask(masked[i].User)
		masked[i].AI = m.mask(masked[i].AI)
	}
	return m.next.Save(ctx, sessionID, masked)
}

func (m *piiMiddleware) Load(ctx context.Context, sessionID string) (domain.History, error) {
	return m.next.Load(ctx, sessionID)
}

func (m *piiMiddleware) Delete(ctx context.Context, sessionID string) error {
	return m.next.Delete(ctx, sessionID)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func (m *piiMiddleware) mask(s string) string {
	for _, p := range m.patterns {
		s = p.ReplaceAllString(s, redacted)
	}
	return s
}
