// Package decoder implements link, IPv4 and TCP decoding and IPv4 fragment reassembly.
package decoder

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/google/gopacket/layers"

	"firestige.xyz/buffwatch/internal/core"
	"firestige.xyz/buffwatch/internal/metrics"
)

// Reassembly limits (RFC 791).
const (
	ipv4MinFragSize   = 1     // Minimum valid fragment payload size
	ipv4MaxSize       = 65535 // Maximum IPv4 datagram size
	ipv4MaxFragOffset = 8183  // Maximum valid fragment offset (in 8-byte units)
)

// Defaults applied by NewReassembler.
const (
	DefaultFragmentTimeout = 15 * time.Second
	DefaultMaxFragments    = 128
)

// ReassemblyConfig contains configuration for IP reassembly.
type ReassemblyConfig struct {
	MaxFragments      int           // Maximum fragments per datagram (default 128)
	MaxReassembleSize int           // Maximum reassembled payload size (default 65535)
	Timeout           time.Duration // Idle time after which a group is swept (default 15s)
	MaxFragsPerIP     int           // Per-source fragment limit per window (0 = disabled)
	RateLimitWindow   time.Duration // Rate limit window (default 10s)
}

// fragmentKey identifies one fragmented IPv4 datagram.
type fragmentKey struct {
	srcIP    [4]byte
	dstIP    [4]byte
	protocol uint8
	id       uint16
}

// fragment is one received byte range of a datagram.
type fragment struct {
	offset  uint16
	length  uint16
	payload []byte
}

// fragmentGroup holds the fragments of one datagram, sorted by offset.
// On overlap the earlier-arrived bytes win (BSD-Right), so duplicates
// and retransmitted fragments never double count.
type fragmentGroup struct {
	list          list.List // *fragment, ascending offset
	highest       uint16    // end of the datagram once final, else max(offset + length)
	finalReceived bool      // fragment with MF unset seen
	lastSeen      time.Time
}

// Reassembler reassembles fragmented IPv4 datagrams.
//
// A datagram completes once its final fragment has arrived and the held
// ranges cover [0, end) without gaps, independent of arrival order.
// Groups are only evicted by Sweep, completion or a limit violation.
type Reassembler struct {
	mu          sync.Mutex
	groups      map[fragmentKey]*fragmentGroup
	config      ReassemblyConfig
	rateLimiter *FragmentRateLimiter // nil if rate limiting disabled
}

// NewReassembler creates a new IP fragment reassembler.
func NewReassembler(cfg ReassemblyConfig) *Reassembler {
	if cfg.MaxFragments <= 0 {
		cfg.MaxFragments = DefaultMaxFragments
	}
	if cfg.MaxReassembleSize <= 0 {
		cfg.MaxReassembleSize = ipv4MaxSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFragmentTimeout
	}

	return &Reassembler{
		groups: make(map[fragmentKey]*fragmentGroup),
		config: cfg,
		rateLimiter: NewFragmentRateLimiter(FragmentRateLimiterConfig{
			MaxFragsPerIP:   cfg.MaxFragsPerIP,
			RateLimitWindow: cfg.RateLimitWindow,
		}),
	}
}

// Process feeds one decoded IPv4 datagram.
// Returns:
//   - Non-fragmented datagram: (payload, true, nil), no copy
//   - Fragment, datagram incomplete: (nil, false, nil)
//   - Fragment completing the datagram: (reassembled, true, nil)
//   - Invalid fragment or limit exceeded: (nil, false, err)
func (r *Reassembler) Process(ip *layers.IPv4, now time.Time) ([]byte, bool, error) {
	moreFragments := ip.Flags&layers.IPv4MoreFragments != 0
	if !moreFragments && ip.FragOffset == 0 {
		return ip.Payload, true, nil
	}

	if len(ip.Payload) > ipv4MaxSize {
		return nil, false, fmt.Errorf("%w: payload %d bytes", core.ErrFragmentInvalid, len(ip.Payload))
	}
	fragLen := uint16(len(ip.Payload))
	if err := securityChecks(fragLen, ip.FragOffset); err != nil {
		return nil, false, err
	}
	byteOffset := ip.FragOffset * 8

	var key fragmentKey
	copy(key.srcIP[:], ip.SrcIP.To4())
	copy(key.dstIP[:], ip.DstIP.To4())
	key.protocol = uint8(ip.Protocol)
	key.id = ip.Id

	if r.rateLimiter != nil && !r.rateLimiter.Allow(key.srcIP, now) {
		return nil, false, fmt.Errorf("%w: rate limit exceeded for %s", core.ErrFragmentLimit, ip.SrcIP)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g, exists := r.groups[key]
	if !exists {
		g = &fragmentGroup{}
		r.groups[key] = g
		metrics.ReassemblyActiveFragments.Inc()
	}

	if g.list.Len() >= r.config.MaxFragments {
		r.evict(key)
		return nil, false, fmt.Errorf("%w: more than %d fragments", core.ErrFragmentLimit, r.config.MaxFragments)
	}

	g.lastSeen = now

	// The capture buffer may be reused once this call returns.
	payload := make([]byte, fragLen)
	copy(payload, ip.Payload)

	if !moreFragments {
		g.finalReceived = true
		if end := byteOffset + fragLen; end > g.highest {
			g.highest = end
		}
	}
	g.insert(&fragment{offset: byteOffset, length: fragLen, payload: payload})

	if !g.finalReceived || !g.contiguous() {
		return nil, false, nil
	}

	r.evict(key)
	if int(g.highest) > r.config.MaxReassembleSize {
		return nil, false, fmt.Errorf("%w: reassembled size %d exceeds %d",
			core.ErrFragmentLimit, g.highest, r.config.MaxReassembleSize)
	}
	return g.build(), true, nil
}

// Sweep removes groups idle for longer than the timeout and returns how many
// were removed. Staleness is checked under the same lock that Process holds.
func (r *Reassembler) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	expired := 0
	for key, g := range r.groups {
		if now.Sub(g.lastSeen) > r.config.Timeout {
			delete(r.groups, key)
			expired++
		}
	}
	if expired > 0 {
		metrics.ReassemblyActiveFragments.Sub(float64(expired))
	}
	if r.rateLimiter != nil {
		r.rateLimiter.Prune(now)
	}
	return expired
}

// Len returns the number of datagrams awaiting reassembly.
func (r *Reassembler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups)
}

// RateLimited returns the number of fragments rejected by the per-source limiter.
func (r *Reassembler) RateLimited() int64 {
	if r.rateLimiter == nil {
		return 0
	}
	return r.rateLimiter.Rejected()
}

// evict must be called with r.mu held.
func (r *Reassembler) evict(key fragmentKey) {
	if _, exists := r.groups[key]; exists {
		delete(r.groups, key)
		metrics.ReassemblyActiveFragments.Dec()
	}
}

// securityChecks validates fragment parameters.
func securityChecks(fragSize, fragOffset uint16) error {
	if fragSize < ipv4MinFragSize {
		return fmt.Errorf("%w: fragment too small: %d bytes", core.ErrFragmentInvalid, fragSize)
	}
	if fragOffset > ipv4MaxFragOffset {
		return fmt.Errorf("%w: fragment offset too large: %d", core.ErrFragmentInvalid, fragOffset)
	}
	endPos := uint32(fragOffset)*8 + uint32(fragSize)
	if endPos > ipv4MaxSize {
		return fmt.Errorf("%w: fragment would exceed max IP size: offset=%d size=%d",
			core.ErrFragmentInvalid, uint32(fragOffset)*8, fragSize)
	}
	return nil
}

// insert adds frag in offset order, trimming the parts already held.
func (g *fragmentGroup) insert(frag *fragment) {
	fragEnd := frag.offset + frag.length
	if fragEnd > g.highest && !g.finalReceived {
		g.highest = fragEnd
	}

	// First element with offset >= frag.offset
	var next *list.Element
	for e := g.list.Front(); e != nil; e = e.Next() {
		if e.Value.(*fragment).offset >= frag.offset {
			next = e
			break
		}
	}

	startAt := frag.offset
	var prev *list.Element
	if next != nil {
		prev = next.Prev()
	} else {
		prev = g.list.Back()
	}
	if prev != nil {
		p := prev.Value.(*fragment)
		if end := p.offset + p.length; end > startAt {
			startAt = end
		}
	}

	endAt := fragEnd
	if next != nil {
		if n := next.Value.(*fragment); n.offset < endAt {
			endAt = n.offset
		}
	}

	if startAt >= endAt {
		return
	}

	trimmed := &fragment{
		offset:  startAt,
		length:  endAt - startAt,
		payload: frag.payload[startAt-frag.offset : endAt-frag.offset],
	}
	if next != nil {
		g.list.InsertBefore(trimmed, next)
	} else {
		g.list.PushBack(trimmed)
	}
}

// contiguous reports whether the held ranges cover [0, highest) exactly.
func (g *fragmentGroup) contiguous() bool {
	var pos uint16
	for e := g.list.Front(); e != nil; e = e.Next() {
		f := e.Value.(*fragment)
		if f.offset != pos {
			return false
		}
		pos += f.length
	}
	return pos >= g.highest
}

func (g *fragmentGroup) build() []byte {
	result := make([]byte, g.highest)
	for e := g.list.Front(); e != nil; e = e.Next() {
		f := e.Value.(*fragment)
		if f.offset >= g.highest {
			break
		}
		copy(result[f.offset:], f.payload)
	}
	return result
}
