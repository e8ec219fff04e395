package decoder

import (
	"sync"
	"time"
)

const defaultRateLimitWindow = 10 * time.Second

// sourceWindow counts fragments seen from one source since start.
type sourceWindow struct {
	start time.Time
	count int
}

// FragmentRateLimiter bounds how many fragments one source IP may feed the
// reassembler per window. Each source runs its own window, opened by its
// first fragment, so a busy sender never resets a quiet one.
type FragmentRateLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	limit    int
	sources  map[[4]byte]*sourceWindow
	rejected int64
}

// FragmentRateLimiterConfig configures per-IP fragment rate limiting.
type FragmentRateLimiterConfig struct {
	MaxFragsPerIP   int           // 0 disables the limiter
	RateLimitWindow time.Duration // defaults to 10s
}

// NewFragmentRateLimiter returns nil when MaxFragsPerIP is not positive.
func NewFragmentRateLimiter(cfg FragmentRateLimiterConfig) *FragmentRateLimiter {
	if cfg.MaxFragsPerIP <= 0 {
		return nil
	}
	window := cfg.RateLimitWindow
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	return &FragmentRateLimiter{
		window:  window,
		limit:   cfg.MaxFragsPerIP,
		sources: make(map[[4]byte]*sourceWindow),
	}
}

// Allow counts one fragment from src at capture time now and reports
// whether it fits in the source's current window.
func (l *FragmentRateLimiter) Allow(src [4]byte, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.sources[src]
	if !ok {
		w = &sourceWindow{start: now}
		l.sources[src] = w
	} else if now.Sub(w.start) >= l.window {
		w.start, w.count = now, 0
	}

	if w.count >= l.limit {
		l.rejected++
		return false
	}
	w.count++
	return true
}

// Prune drops sources whose window closed before now.
func (l *FragmentRateLimiter) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for src, w := range l.sources {
		if now.Sub(w.start) >= l.window {
			delete(l.sources, src)
			n++
		}
	}
	return n
}

// Rejected returns the total number of refused fragments.
func (l *FragmentRateLimiter) Rejected() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rejected
}

// Sources returns the number of tracked source IPs.
func (l *FragmentRateLimiter) Sources() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sources)
}
