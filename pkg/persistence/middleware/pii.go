package middleware

import (
	"context"
	"regexp"
	"time"

	"github.com/aretw0/sessiond/pkg/domain"
	"github.com/aretw0/sessiond/pkg/ports"
)

// MaskedValue replaces parameters whose key matches a PII pattern.
const MaskedValue = "***"

type piiMiddleware struct {
	ports.SessionMap
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks session parameters whose
// key matches any of the patterns before they reach the store.
func NewPIIMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		patterns[i] = re
	}
	return func(next ports.SessionMap) ports.SessionMap {
		return &piiMiddleware{SessionMap: next, patterns: patterns}
	}, nil
}

func (m *piiMiddleware) Set(ctx context.Context, s *domain.Session, ttl, maxIdle time.Duration) error {
	return m.SessionMap.Set(ctx, m.mask(s), ttl, maxIdle)
}

func (m *piiMiddleware) PutIfAbsent(ctx context.Context, s *domain.Session, ttl, maxIdle time.Duration) (*domain.Session, error) {
	return m.SessionMap.PutIfAbsent(ctx, m.mask(s), ttl, maxIdle)
}

// mask returns a masked copy; the caller's session is left untouched.
func (m *piiMiddleware) mask(s *domain.Session) *domain.Session {
	if s == nil || len(s.Parameters) == 0 {
		return s
	}
	masked := s.Clone()
	for k := range masked.Parameters {
		for _, p := range m.patterns {
			if p.MatchString(k) {
				masked.Parameters[k] = MaskedValue
				break
			}
		}
	}
	return masked
}
