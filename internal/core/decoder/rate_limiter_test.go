package decoder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestFragmentRateLimiterDisabled(t *testing.T) {
	assert.Nil(t, NewFragmentRateLimiter(FragmentRateLimiterConfig{}))
	assert.Nil(t, NewFragmentRateLimiter(FragmentRateLimiterConfig{MaxFragsPerIP: -1}))
}

func TestFragmentRateLimiterWindows(t *testing.T) {
	a := [4]byte{10, 0, 0, 1}
	b := [4]byte{10, 0, 0, 2}

	type step struct {
		src   [4]byte
		at    time.Duration
		allow bool
	}
	tests := []struct {
		name     string
		steps    []step
		rejected int64
	}{
		{
			name:     "limit per window",
			steps:    []step{{a, 0, true}, {a, 0, true}, {a, 100 * time.Millisecond, false}},
			rejected: 1,
		},
		{
			name:  "sources are independent",
			steps: []step{{a, 0, true}, {a, 0, true}, {b, 0, true}, {b, 0, true}},
		},
		{
			name:     "window reopens for its own source",
			steps:    []step{{a, 0, true}, {a, 0, true}, {a, 999 * time.Millisecond, false}, {a, time.Second, true}},
			rejected: 1,
		},
		{
			name: "late source keeps its own window",
			steps: []step{
				{a, 0, true}, {a, 0, true},
				{b, 900 * time.Millisecond, true}, {b, 900 * time.Millisecond, true},
				{a, time.Second, true},
				{b, 1500 * time.Millisecond, false},
			},
			rejected: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewFragmentRateLimiter(FragmentRateLimiterConfig{MaxFragsPerIP: 2, RateLimitWindow: time.Second})
			require.NotNil(t, l)
			for i, s := range tt.steps {
				assert.Equal(t, s.allow, l.Allow(s.src, t0.Add(s.at)), "step %d", i)
			}
			assert.Equal(t, tt.rejected, l.Rejected())
		})
	}
}

func TestFragmentRateLimiterPrune(t *testing.T) {
	l := NewFragmentRateLimiter(FragmentRateLimiterConfig{MaxFragsPerIP: 1})
	l.Allow([4]byte{1, 1, 1, 1}, t0)
	l.Allow([4]byte{2, 2, 2, 2}, t0.Add(5*time.Second))
	require.Equal(t, 2, l.Sources())

	assert.Equal(t, 0, l.Prune(t0.Add(9*time.Second)))
	assert.Equal(t, 1, l.Prune(t0.Add(10*time.Second)))
	assert.Equal(t, 1, l.Sources())
}
