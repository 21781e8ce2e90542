package thread

import "github.com/syndexlabs/syndex-messaging/internal/data"

// Entry is one rendered message in the thread: the record itself plus
// whether it is still an optimistic (unconfirmed) entry.
type Entry struct {
	Message data.Message
	Pending bool
}

// arena holds the thread's entries in display order together with a stable
// id -> slot index. Server reconciliation swaps a confirmed record into the
// optimistic entry's existing slot instead of splicing and re-appending,
// so ordering (and the caller's scroll position) survives the swap.
type arena struct {
	entries []Entry
	index   map[string]int
}

func newArena() *arena {
	return &arena{index: make(map[string]int)}
}

func (a *arena) has(id string) bool {
	_, ok := a.index[id]
	return ok
}

func (a *arena) len() int { return len(a.entries) }

// insert places the entry at its chronological position. The common case
// is an append at the end; an out-of-order arrival walks back from the
// tail until it finds its slot.
func (a *arena) insert(e Entry) {
	pos := len(a.entries)
	for pos > 0 && e.Message.CreatedAt.Before(a.entries[pos-1].Message.CreatedAt) {
		pos--
	}
	a.entries = append(a.entries, Entry{})
	copy(a.entries[pos+1:], a.entries[pos:])
	a.entries[pos] = e
	for i := pos; i < len(a.entries); i++ {
		a.index[a.entries[i].Message.ID] = i
	}
}

// replace swaps the canonical record into the slot currently held by
// oldID, keeping position. Returns false if oldID is not present.
func (a *arena) replace(oldID string, msg data.Message) bool {
	i, ok := a.index[oldID]
	if !ok {
		return false
	}
	delete(a.index, oldID)
	a.entries[i] = Entry{Message: msg}
	a.index[msg.ID] = i
	return true
}

// patch mutates the entry for id in place. Returns false if absent.
func (a *arena) patch(id string, fn func(*data.Message)) bool {
	i, ok := a.index[id]
	if !ok {
		return false
	}
	fn(&a.entries[i].Message)
	return true
}

// remove splices the entry out. Only failed optimistic entries are ever
// removed; confirmed messages are never deleted in this subsystem.
func (a *arena) remove(id string) bool {
	i, ok := a.index[id]
	if !ok {
		return false
	}
	delete(a.index, id)
	a.entries = append(a.entries[:i], a.entries[i+1:]...)
	for j := i; j < len(a.entries); j++ {
		a.index[a.entries[j].Message.ID] = j
	}
	return true
}

// get returns the entry for id.
func (a *arena) get(id string) (Entry, bool) {
	i, ok := a.index[id]
	if !ok {
		return Entry{}, false
	}
	return a.entries[i], true
}

// snapshot returns a copy of the entries in display order.
func (a *arena) snapshot() []Entry {
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}
