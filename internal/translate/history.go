package translate

import (
	"time"

	"github.com/Local9/ma2apcmini/internal/clock"
	"github.com/Local9/ma2apcmini/internal/device"
)

// Entry is one recorded controller event.
type Entry struct {
	At    time.Time
	Event device.Event
}

// History keeps the most recent controller events in a fixed ring.
type History struct {
	clock   clock.Clock
	entries []Entry
	next    int
	full    bool
}

func NewHistory(size int, clk clock.Clock) *History {
	if size < 1 {
		size = 1
	}
	return &History{clock: clk, entries: make([]Entry, size)}
}

func (h *History) Add(ev device.Event) {
	h.entries[h.next] = Entry{At: h.clock.Now(), Event: ev}
	h.next++
	if h.next == len(h.entries) {
		h.next = 0
		h.full = true
	}
}

func (h *History) Len() int {
	if h.full {
		return len(h.entries)
	}
	return h.next
}

// Entries returns a copy, oldest first.
func (h *History) Entries() []Entry {
	if !h.full {
		return append([]Entry(nil), h.entries[:h.next]...)
	}
	out := make([]Entry, 0, len(h.entries))
	out = append(out, h.entries[h.next:]...)
	return append(out, h.entries[:h.next]...)
}
