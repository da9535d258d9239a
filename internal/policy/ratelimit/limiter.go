// Package ratelimit implements token bucket admission control per submitting
// source.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

const unknownSource = "unknown"

// Limiter manages per-source rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	overrides    map[string]Rule
	defaultRate  rate.Limit
	defaultBurst int
}

// Rule is the rate applied to one source.
type Rule struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// Sources overrides the default rule for named sources.
	Sources map[string]Rule
}

// New creates a new Limiter. A non-positive rate admits everything.
func New(cfg Config) *Limiter {
	r, burst := limitFor(Rule{RPS: cfg.DefaultRPS, Burst: cfg.DefaultBurst})
	overrides := make(map[string]Rule, len(cfg.Sources))
	for name, rule := range cfg.Sources {
		overrides[normalize(name)] = rule
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		overrides:    overrides,
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Allow reports whether source may submit one more event now.
func (l *Limiter) Allow(source string) bool {
	return l.limiter(source).Allow()
}

// Wait blocks until source may submit one more event.
func (l *Limiter) Wait(ctx context.Context, source string) error {
	if err := l.limiter(source).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Sources returns the number of sources seen so far.
func (l *Limiter) Sources() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) limiter(source string) *rate.Limiter {
	key := normalize(source)
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[key]
	if !exists {
		r, burst := l.defaultRate, l.defaultBurst
		if rule, ok := l.overrides[key]; ok {
			r, burst = limitFor(rule)
		}
		limiter = rate.NewLimiter(r, burst)
		l.limiters[key] = limiter
	}
	return limiter
}

func limitFor(rule Rule) (rate.Limit, int) {
	r := rate.Limit(rule.RPS)
	if rule.RPS <= 0 {
		r = rate.Inf
	}
	burst := rule.Burst
	if burst <= 0 {
		burst = 1
	}
	return r, burst
}

func normalize(source string) string {
	source = strings.ToLower(strings.TrimSpace(source))
	if source == "" {
		return unknownSource
	}
	return source
}
