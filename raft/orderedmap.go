package raft

import "github.com/kimberlypn/CS3700/transport"

// midBuffer is a small insertion-ordered map from client MID to the
// original buffered request, with set-like dedup: re-inserting an existing
// MID does not change its position. Expected fan-out is tens of entries, so
// a slice plus map is simpler and fast enough; no tree or skiplist needed.
type midBuffer struct {
	order []string
	byMID map[string]transport.Message
}

func newMIDBuffer() *midBuffer {
	return &midBuffer{byMID: make(map[string]transport.Message)}
}

// Put inserts msg if its MID isn't already buffered (dedup).
func (b *midBuffer) Put(msg transport.Message) {
	if _, exists := b.byMID[msg.MID]; exists {
		return
	}
	b.order = append(b.order, msg.MID)
	b.byMID[msg.MID] = msg
}

// Each calls fn for every buffered message, in insertion order.
func (b *midBuffer) Each(fn func(transport.Message)) {
	for _, mid := range b.order {
		fn(b.byMID[mid])
	}
}

// Len reports how many requests are buffered.
func (b *midBuffer) Len() int {
	return len(b.order)
}

// Clear empties the buffer.
func (b *midBuffer) Clear() {
	b.order = nil
	b.byMID = make(map[string]transport.Message)
}
