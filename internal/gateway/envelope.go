package gateway

import (
	"strconv"
	"sync"
	"time"
)

// Channels carried in envelopes.
const (
	ChannelSnapshot = "snapshot"
	ChannelError    = "error"
	ChannelPong     = "pong"
	eventPrefix     = "event:"
)

// buildEnvelope hand-crafts {"channel":...,"data":...,"ts":...,"seq":N}.
// data must be valid JSON. It runs for every snapshot broadcast, so it
// avoids a second json.Marshal of the payload.
func buildEnvelope(channel string, data []byte, now time.Time, seq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+96)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.UTC().AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}

type sequenced struct {
	seq  int64
	data []byte
}

// history keeps the last limit broadcast envelopes for gap backfill.
type history struct {
	mu      sync.RWMutex
	limit   int
	entries []sequenced
}

func newHistory(limit int) *history {
	if limit <= 0 {
		limit = 500
	}
	return &history{limit: limit, entries: make([]sequenced, 0, limit)}
}

func (h *history) push(seq int64, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == h.limit {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:h.limit-1]
	}
	h.entries = append(h.entries, sequenced{seq: seq, data: data})
}

// between returns envelopes with from <= seq <= to, oldest first.
func (h *history) between(from, to int64) [][]byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out [][]byte
	for _, e := range h.entries {
		if e.seq >= from && e.seq <= to {
			out = append(out, e.data)
		}
	}
	return out
}

func (h *history) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
