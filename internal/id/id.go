package id

import (
	"errors"
	"strconv"
	"sync"
	"time"
)

const (
	nodeBits        = 10
	seqBits         = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	seqMax          = -1 ^ (-1 << seqBits)
	timeShift       = nodeBits + seqBits
	nodeShift       = seqBits
	epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC
)

// Generator issues unique share IDs that sort by creation time.
// Layout: 41 bits of millisecond timestamp, 10 bits of node, 12 bits of
// sequence, rendered base36 so IDs stay opaque strings to callers.
type Generator struct {
	mu       sync.Mutex
	lastTime int64
	nodeID   int64
	seq      int64
}

func NewGenerator(nodeID int64) (*Generator, error) {
	if nodeID < 0 || nodeID > nodeMax {
		return nil, errors.New("node ID out of range")
	}
	return &Generator{nodeID: nodeID}, nil
}

// NextID returns a fresh ID. Safe for concurrent use.
func (g *Generator) NextID() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < g.lastTime {
		// Clock regressed; reuse the last timestamp rather than risk duplicates.
		now = g.lastTime
	}

	if now == g.lastTime {
		g.seq = (g.seq + 1) & seqMax
		if g.seq == 0 {
			// Sequence exhausted for this millisecond, wait for the next one.
			for now <= g.lastTime {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		g.seq = 0
	}
	g.lastTime = now

	v := ((now - epoch) << timeShift) | (g.nodeID << nodeShift) | g.seq
	return strconv.FormatInt(v, 36)
}
