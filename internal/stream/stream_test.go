package stream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/buffwatch/internal/core"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// frame builds a frame of the given kind with body.
func frame(kind uint16, body []byte) []byte {
	f := make([]byte, FrameHeaderLen, FrameHeaderLen+len(body))
	binary.BigEndian.PutUint32(f, uint32(FrameHeaderLen+len(body)))
	binary.BigEndian.PutUint16(f[4:], kind)
	return append(f, body...)
}

func collect(frames *[][]byte) func([]byte) {
	return func(f []byte) { *frames = append(*frames, append([]byte(nil), f...)) }
}

type segment struct {
	seq  uint32
	data []byte
}

// segments cuts stream into consecutive segments starting at isn.
func segments(stream []byte, isn uint32, sizes ...int) []segment {
	var out []segment
	seq := isn
	for _, n := range sizes {
		if n > len(stream) {
			n = len(stream)
		}
		out = append(out, segment{seq, stream[:n]})
		seq += uint32(n)
		stream = stream[n:]
	}
	if len(stream) > 0 {
		out = append(out, segment{seq, stream})
	}
	return out
}

func TestSplit_CompleteAndTrailing(t *testing.T) {
	var stream []byte
	for i := 0; i < 5; i++ {
		stream = append(stream, frame(2, bytes.Repeat([]byte{byte(i)}, i*3))...)
	}
	partial := frame(6, []byte("incomplete body"))[:9]
	stream = append(stream, partial...)

	var frames [][]byte
	rest, err := Split(stream, collect(&frames))
	require.NoError(t, err)
	assert.Len(t, frames, 5)
	assert.Equal(t, partial, rest)
	for i, f := range frames {
		assert.Equal(t, FrameHeaderLen+i*3, len(f))
	}
}

func TestSplit_ShortPrefixWaits(t *testing.T) {
	var frames [][]byte
	rest, err := Split([]byte{0, 0, 0}, collect(&frames))
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.Len(t, rest, 3)
}

func TestSplit_Implausible(t *testing.T) {
	for _, n := range []uint32{0, 5, 0x100000, 0x200000} {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint32(buf, n)
		_, err := Split(buf, func([]byte) { t.Fatal("nothing should be emitted") })
		assert.ErrorIs(t, err, core.ErrImplausibleLength, "length %#x", n)
	}

	// Header-only frame is valid.
	var frames [][]byte
	_, err := Split(frame(2, nil), collect(&frames))
	require.NoError(t, err)
	assert.Len(t, frames, 1)
}

func TestReassembler_OrderInvariance(t *testing.T) {
	var stream []byte
	for i := 0; i < 20; i++ {
		stream = append(stream, frame(2, bytes.Repeat([]byte{byte(i)}, 17+i))...)
	}
	const isn = 0xFFFFFF00 // wraps during the stream
	segs := segments(stream, isn, 40, 13, 100, 1, 77, 64, 90, 33)

	// The segment opening the stream must arrive first to synchronize.
	first, rest := segs[0], segs[1:]
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		shuffled := append([]segment(nil), rest...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		// duplicates
		shuffled = append(shuffled, shuffled[0], shuffled[len(shuffled)/2], first)

		r := NewReassembler("test", Config{})
		require.NoError(t, r.Feed(first.seq, first.data, t0))
		for _, s := range shuffled {
			require.NoError(t, r.Feed(s.seq, s.data, t0))
		}

		assert.Equal(t, stream, r.Buffered(), "trial %d", trial)
		assert.Zero(t, r.PendingBytes())
		assert.Equal(t, isn+uint32(len(stream)), r.Next())
	}
}

func TestReassembler_OverlappingSegments(t *testing.T) {
	stream := frame(2, bytes.Repeat([]byte{0xAB}, 40))

	r := NewReassembler("test", Config{})
	require.NoError(t, r.Feed(100, stream[:10], t0))
	// [5,25) arrives after [20,46); both straddle what is already held.
	require.NoError(t, r.Feed(120, stream[20:], t0))
	require.NoError(t, r.Feed(105, stream[5:25], t0))

	assert.Equal(t, stream, r.Buffered())
	assert.Zero(t, r.PendingBytes())
}

func TestReassembler_SyncHeuristic(t *testing.T) {
	r := NewReassembler("test", Config{})

	// Mid-frame data cannot synchronize.
	require.NoError(t, r.Feed(10, []byte{0xFF, 0xFF, 0xFF, 0xFF, 1}, t0))
	assert.False(t, r.Synced())
	require.NoError(t, r.Feed(10, []byte{0, 0, 0, 6}, t0))
	assert.False(t, r.Synced(), "length 6 is not accepted for sync")

	f := frame(2, []byte{1})
	require.NoError(t, r.Feed(500, f, t0))
	assert.True(t, r.Synced())
	assert.Equal(t, uint32(500+len(f)), r.Next())

	// Retransmission behind the position is dropped.
	require.NoError(t, r.Feed(500, f, t0))
	assert.Equal(t, f, r.Buffered())
}

func TestReassembler_SplitImplausibleResets(t *testing.T) {
	r := NewReassembler("test", Config{})
	good := frame(2, []byte("ok"))
	bad := make([]byte, 10)
	binary.BigEndian.PutUint32(bad, 0x200000)
	bad[0] = 0 // keep the prefix 0x00200000

	require.NoError(t, r.Feed(1, good, t0))
	require.NoError(t, r.Feed(1+uint32(len(good)), bad, t0))
	require.NoError(t, r.Feed(1000, frame(2, []byte("later")), t0)) // held out of order
	require.NotZero(t, r.PendingBytes())

	var frames [][]byte
	err := r.Split(collect(&frames))
	assert.ErrorIs(t, err, core.ErrImplausibleLength)
	assert.True(t, IsReset(err))
	assert.Len(t, frames, 1, "frames before the bad prefix are still emitted")

	assert.False(t, r.Synced())
	assert.Zero(t, r.Next())
	assert.Empty(t, r.Buffered())
	assert.Zero(t, r.PendingBytes())

	// A later plausible segment resynchronizes.
	require.NoError(t, r.Feed(5000, good, t0))
	assert.True(t, r.Synced())
}

func TestReassembler_SplitKeepsTail(t *testing.T) {
	r := NewReassembler("test", Config{})
	a, b := frame(2, []byte("first")), frame(2, []byte("second"))

	require.NoError(t, r.Feed(0, append(append([]byte{}, a...), b[:4]...), t0))
	var frames [][]byte
	require.NoError(t, r.Split(collect(&frames)))
	assert.Equal(t, [][]byte{a}, frames)
	assert.Equal(t, b[:4], r.Buffered())

	require.NoError(t, r.Feed(uint32(len(a)+4), b[4:], t0))
	require.NoError(t, r.Split(collect(&frames)))
	assert.Equal(t, [][]byte{a, b}, frames)
	assert.Empty(t, r.Buffered())
}

func TestReassembler_Desync(t *testing.T) {
	r := NewReassembler("test", Config{DesyncTimeout: 15 * time.Second})
	f := frame(2, []byte("abc"))

	require.NoError(t, r.Feed(0, f, t0))
	require.NoError(t, r.Split(func([]byte) {}))
	assert.False(t, r.CheckDesync(t0.Add(time.Minute)), "idle with nothing held is not desync")

	// Gap: segment at 100 never becomes contiguous. Holding it is not progress.
	require.NoError(t, r.Feed(100, []byte("stuck"), t0.Add(time.Second)))
	assert.False(t, r.CheckDesync(t0.Add(15*time.Second)))
	assert.True(t, r.CheckDesync(t0.Add(16*time.Second)))

	assert.False(t, r.Synced())
	assert.Zero(t, r.PendingBytes())
}

func TestReassembler_DesyncPartialFrame(t *testing.T) {
	r := NewReassembler("test", Config{DesyncTimeout: 15 * time.Second})
	f := frame(2, []byte("abcdef"))

	require.NoError(t, r.Feed(0, f[:8], t0))
	require.NoError(t, r.Split(func([]byte) { t.Fatal("frame is incomplete") }))
	require.NoError(t, r.Feed(8, f[8:10], t0.Add(10*time.Second)))
	assert.False(t, r.CheckDesync(t0.Add(20*time.Second)), "contiguous progress at 10s")
	assert.True(t, r.CheckDesync(t0.Add(26*time.Second)))
	assert.Empty(t, r.Buffered())
}

func TestReassembler_PendingOverflow(t *testing.T) {
	r := NewReassembler("test", Config{MaxPendingBytes: 64})
	require.NoError(t, r.Feed(0, frame(2, []byte{1}), t0))
	require.True(t, r.Synced())

	require.NoError(t, r.Feed(100, make([]byte, 60), t0))
	err := r.Feed(200, make([]byte, 10), t0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrPendingOverflow))
	assert.False(t, r.Synced())
	assert.Zero(t, r.PendingBytes())
}

func TestTable_PerDirection(t *testing.T) {
	tbl := NewTable(Config{}, time.Minute)
	defer tbl.Flush()

	fwd := core.FlowKey{
		Src: netip.MustParseAddrPort("10.0.0.1:5003"),
		Dst: netip.MustParseAddrPort("10.0.0.2:40000"),
	}
	a := tbl.Get(fwd)
	b := tbl.Get(fwd.Reverse())
	assert.NotSame(t, a, b)
	assert.Same(t, a, tbl.Get(fwd))
	assert.Equal(t, 2, tbl.Len())

	require.NoError(t, a.Feed(0, frame(2, []byte("x")), t0))
	require.NoError(t, a.Feed(50, []byte("gap"), t0))
	assert.Equal(t, 0, tbl.Sweep(t0.Add(time.Second)))
	assert.Equal(t, 1, tbl.Sweep(t0.Add(time.Minute)))
	assert.False(t, a.Synced())
}

func TestTable_IdleEviction(t *testing.T) {
	tbl := NewTable(Config{}, 50*time.Millisecond)
	tbl.Get(core.FlowKey{
		Src: netip.MustParseAddrPort("10.0.0.1:1"),
		Dst: netip.MustParseAddrPort("10.0.0.2:2"),
	})
	require.Equal(t, 1, tbl.Len())
	assert.Eventually(t, func() bool { return tbl.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
