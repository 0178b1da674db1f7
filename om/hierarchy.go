package om

import (
	"context"
	"math"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/canopy-network/generals/lib"
	pool "github.com/libp2p/go-buffer-pool"
)

// Channel is a bounded FIFO of frames addressed by (tier, pathIndex)
type Channel struct {
	tier, index int
	capacity    int
	nTraitors   int
	frames      chan []byte
	sent        atomic.Int64 // frames accepted, for sizing checks
	mu          sync.RWMutex // orders Put against close
	closed      atomic.Bool
}

func newChannel(tier, index, capacity, nTraitors int) *Channel {
	return &Channel{
		tier:      tier,
		index:     index,
		capacity:  capacity,
		nTraitors: nTraitors,
		frames:    make(chan []byte, capacity),
	}
}

// Put() enqueues a message without blocking; a full channel means the hierarchy was undersized
func (c *Channel) Put(m *Message) lib.ErrorI {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed.Load() {
		return ErrChannelClosed(c.tier, c.index)
	}
	frame := m.MarshalFrame()
	select {
	case c.frames <- frame:
		c.sent.Add(1)
		return nil
	default:
		pool.Put(frame)
		return ErrChannelFull(c.tier, c.index, c.capacity)
	}
}

// Get() blocks until a message is available or ctx is done
func (c *Channel) Get(ctx context.Context) (*Message, lib.ErrorI) {
	select {
	case frame, ok := <-c.frames:
		if !ok {
			return nil, ErrChannelClosed(c.tier, c.index)
		}
		defer pool.Put(frame)
		return UnmarshalFrame(frame, c.nTraitors)
	case <-ctx.Done():
		return nil, ErrContextDone(ctx.Err())
	}
}

// Cap() is the number of frames the channel was provisioned for
func (c *Channel) Cap() int { return c.capacity }

// Sent() is the number of frames accepted so far
func (c *Channel) Sent() int { return int(c.sent.Load()) }

// Len() is the number of frames waiting
func (c *Channel) Len() int { return len(c.frames) }

// close() closes the channel and returns any unconsumed frames to the pool
func (c *Channel) close() {
	c.mu.Lock()
	if c.closed.Swap(true) {
		c.mu.Unlock()
		return
	}
	close(c.frames)
	c.mu.Unlock()
	for frame := range c.frames {
		pool.Put(frame)
	}
}

// Hierarchy maps tier -> pathIndex -> channel. Its shape is fixed at construction
type Hierarchy struct {
	nGenerals, nTraitors int
	mu                   sync.RWMutex
	tiers                [][]*Channel // tiers[t] is nil until allocated and again after release
}

const (
	// channelOverhead approximates a Channel plus the runtime's channel header
	channelOverhead = 192
	// sliceHeader is the size of the []byte each buffered slot holds
	sliceHeader = 24
)

// TierSize() is the number of channels at tier t: one at the top, multiplied by nGenerals per level below.
// It saturates at math.MaxInt.
func TierSize(nGenerals, nTraitors, t int) int {
	size := int64(1)
	for i := t; i < nTraitors; i++ {
		size = mulCapped(size, int64(nGenerals))
	}
	return int(min(size, math.MaxInt))
}

// TierCapacity() is the capacity of each channel at tier t.
// The top holds one frame per general; below it a relay at tier t+1 sends exactly nGenerals-2-nTraitors+(t+1) copies.
func TierCapacity(nGenerals, nTraitors, t int) int {
	if t == nTraitors {
		return nGenerals
	}
	return nGenerals - 1 - nTraitors + t
}

// SlotBytes() is the memory one buffered frame holds: its slice header and the pooled buffer, which the pool rounds
// up to a power of two
func SlotBytes(nTraitors int) int64 {
	return sliceHeader + int64(1)<<bits.Len(uint(FrameWidth(nTraitors)-1))
}

// HierarchyBytes() estimates the memory a full hierarchy holds: per channel overhead plus every slot filled.
// Both results saturate, so an oversized hierarchy is reported rather than overflowing.
func HierarchyBytes(nGenerals, nTraitors int) (channels int, bytes int64) {
	slot, total := SlotBytes(nTraitors), int64(0)
	for t := nTraitors; t >= 0; t-- {
		size := int64(TierSize(nGenerals, nTraitors, t))
		perChannel := addCapped(channelOverhead, mulCapped(int64(TierCapacity(nGenerals, nTraitors, t)), slot))
		total = addCapped(total, size)
		bytes = addCapped(bytes, mulCapped(size, perChannel))
	}
	return int(min(total, math.MaxInt)), bytes
}

// mulCapped() multiplies two non-negative numbers, saturating at math.MaxInt64
func mulCapped(a, b int64) int64 {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || lo > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(lo)
}

// addCapped() adds two non-negative numbers, saturating at math.MaxInt64
func addCapped(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func newHierarchy(nGenerals, nTraitors int) *Hierarchy {
	return &Hierarchy{nGenerals: nGenerals, nTraitors: nTraitors, tiers: make([][]*Channel, nTraitors+1)}
}

// allocTier() builds every channel of tier t
func (h *Hierarchy) allocTier(t int) {
	size, capacity := TierSize(h.nGenerals, h.nTraitors, t), TierCapacity(h.nGenerals, h.nTraitors, t)
	tier := make([]*Channel, size)
	for i := range tier {
		tier[i] = newChannel(t, i, capacity, h.nTraitors)
	}
	h.mu.Lock()
	h.tiers[t] = tier
	h.mu.Unlock()
}

// Channel() returns the channel at (tier, pathIndex)
func (h *Hierarchy) Channel(tier, pathIndex int) (*Channel, lib.ErrorI) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if tier < 0 || tier >= len(h.tiers) || pathIndex < 0 || pathIndex >= len(h.tiers[tier]) {
		return nil, ErrNoSuchChannel(tier, pathIndex)
	}
	return h.tiers[tier][pathIndex], nil
}

// Tier() returns all channels of tier t
func (h *Hierarchy) Tier(t int) []*Channel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if t < 0 || t >= len(h.tiers) {
		return nil
	}
	return h.tiers[t]
}

// NextPathIndex() addresses the channel one tier down for a relay by relayingId
func (h *Hierarchy) NextPathIndex(pathIndex, relayingId int) int {
	return h.nGenerals*pathIndex + relayingId
}

// release() closes tiers in reverse order of allocation: 0 first, the top last
func (h *Hierarchy) release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for t := 0; t < len(h.tiers); t++ {
		for _, c := range h.tiers[t] {
			c.close()
		}
		h.tiers[t] = nil
	}
}
