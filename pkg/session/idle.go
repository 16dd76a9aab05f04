package session

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/sessiond/internal/logging"
	"github.com/aretw0/sessiond/pkg/config"
	"github.com/aretw0/sessiond/pkg/domain"
)

// Configuration properties holding the idle windows, in timespan notation ("1H", "2W").
const (
	PropertyMaxIdle         = "sessiond.maxIdleTime"
	PropertyLongTermMaxIdle = "sessiond.longTermMaxIdleTime"
)

const (
	DefaultMaxIdle         = time.Hour
	DefaultLongTermMaxIdle = 7 * 24 * time.Hour
)

type idleWindows struct {
	short time.Duration
	long  time.Duration
}

// IdlePolicy assigns each session its maximum idle time.
// Windows are read from the property source on first use and cached until Reload.
type IdlePolicy struct {
	source config.PropertySource
	logger *slog.Logger

	mu      sync.Mutex
	windows atomic.Pointer[idleWindows]
}

// NewIdlePolicy creates a policy reading from source. A nil source yields the defaults.
func NewIdlePolicy(source config.PropertySource, logger *slog.Logger) *IdlePolicy {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &IdlePolicy{source: source, logger: logger}
}

// MaxIdle returns the short window for transient sessions and sessions without
// "stay signed in", and the long window otherwise.
func (p *IdlePolicy) MaxIdle(s *domain.Session) time.Duration {
	if s != nil && s.LongTerm() {
		return p.LongTerm()
	}
	return p.ShortTerm()
}

// ShortTerm returns the default idle window.
func (p *IdlePolicy) ShortTerm() time.Duration {
	return p.load().short
}

// LongTerm returns the idle window of "stay signed in" sessions.
func (p *IdlePolicy) LongTerm() time.Duration {
	return p.load().long
}

// Reload drops the cached windows. Sessions already stored keep their window.
func (p *IdlePolicy) Reload() {
	p.windows.Store(nil)
}

func (p *IdlePolicy) load() *idleWindows {
	if w := p.windows.Load(); w != nil {
		return w
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if w := p.windows.Load(); w != nil {
		return w
	}
	w := &idleWindows{
		short: p.read(PropertyMaxIdle, DefaultMaxIdle),
		long:  p.read(PropertyLongTermMaxIdle, DefaultLongTermMaxIdle),
	}
	p.windows.Store(w)
	return w
}

func (p *IdlePolicy) read(key string, fallback time.Duration) time.Duration {
	if p.source == nil {
		return fallback
	}
	raw, ok := p.source.Property(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback
	}
	d, err := config.ParseTimespan(raw)
	if err != nil || d <= 0 {
		p.logger.Warn("Invalid idle time property, using default",
			"property", key,
			"value", raw,
			"default", fallback,
			"err", err,
		)
		return fallback
	}
	return d
}
