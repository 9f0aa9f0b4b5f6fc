package client

import (
	"sort"

	"github.com/danmuck/abxctl/internal/protocol/packet"
)

// Collection accumulates packets with unique sequence numbers. It is owned by
// one Controller run and is not safe for concurrent use.
type Collection struct {
	packets []packet.Packet
	seen    map[int32]struct{}
}

func NewCollection() *Collection {
	return &Collection{seen: make(map[int32]struct{})}
}

// Add appends p unless its sequence is already present.
func (c *Collection) Add(p packet.Packet) bool {
	if _, ok := c.seen[p.Sequence]; ok {
		return false
	}
	c.seen[p.Sequence] = struct{}{}
	c.packets = append(c.packets, p)
	return true
}

func (c *Collection) Len() int {
	return len(c.packets)
}

func (c *Collection) Has(sequence int32) bool {
	_, ok := c.seen[sequence]
	return ok
}

// Packets returns a copy in arrival order.
func (c *Collection) Packets() []packet.Packet {
	out := make([]packet.Packet, len(c.packets))
	copy(out, c.packets)
	return out
}

// Sorted returns a copy ordered by ascending sequence.
func (c *Collection) Sorted() []packet.Packet {
	out := c.Packets()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Sequence < out[j].Sequence
	})
	return out
}
