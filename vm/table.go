package vm

import (
	"hash/fnv"

	"github.com/chazu/yellowstone/value"
)

// ---------------------------------------------------------------------------
// Table: open-addressing hash map for globals
// ---------------------------------------------------------------------------

const (
	tableMaxLoad     = 0.75
	tableMinCapacity = 8
)

type entryState uint8

const (
	entryEmpty entryState = iota
	entryLive
	entryTombstone
)

type entry struct {
	key   string
	value value.Value
	state entryState
}

// Table maps string keys to values using linear probing. Deleted entries
// leave a tombstone so that probe sequences running through them stay intact.
type Table struct {
	entries []entry
	count   int // live entries plus tombstones
	live    int
}

// NewTable creates an empty table. No storage is allocated until the first Set.
func NewTable() *Table {
	return &Table{}
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	return t.live
}

// Capacity returns the number of slots.
func (t *Table) Capacity() int {
	return len(t.entries)
}

// Get returns the value stored under key.
func (t *Table) Get(key string) (value.Value, bool) {
	if len(t.entries) == 0 {
		return value.Value{}, false
	}
	e := findEntry(t.entries, key)
	if e.state != entryLive {
		return value.Value{}, false
	}
	return e.value, true
}

// Set stores v under key and reports whether the key was new.
func (t *Table) Set(key string, v value.Value) bool {
	if len(t.entries) > 0 {
		if e := findEntry(t.entries, key); e.state == entryLive {
			e.value = v
			return false
		}
	}
	if float64(t.count+1) > float64(len(t.entries))*tableMaxLoad {
		t.grow()
	}

	e := findEntry(t.entries, key)
	isNew := e.state != entryLive
	if e.state == entryEmpty {
		t.count++
	}
	if isNew {
		t.live++
	}

	e.key = key
	e.value = v
	e.state = entryLive
	return isNew
}

// Delete removes key, leaving a tombstone. Reports whether the key existed.
func (t *Table) Delete(key string) bool {
	if len(t.entries) == 0 {
		return false
	}
	e := findEntry(t.entries, key)
	if e.state != entryLive {
		return false
	}

	*e = entry{state: entryTombstone}
	t.live--
	return true
}

// Keys returns the live keys in slot order.
func (t *Table) Keys() []string {
	keys := make([]string, 0, t.live)
	for i := range t.entries {
		if t.entries[i].state == entryLive {
			keys = append(keys, t.entries[i].key)
		}
	}
	return keys
}

// Range calls fn for each live entry in slot order until fn returns false.
func (t *Table) Range(fn func(key string, v value.Value) bool) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.state == entryLive && !fn(e.key, e.value) {
			return
		}
	}
}

// grow doubles the capacity and reinserts live entries. Tombstones are
// dropped, so count is recomputed.
func (t *Table) grow() {
	capacity := len(t.entries) * 2
	if capacity < tableMinCapacity {
		capacity = tableMinCapacity
	}

	entries := make([]entry, capacity)
	t.count = 0
	for i := range t.entries {
		old := &t.entries[i]
		if old.state != entryLive {
			continue
		}
		dest := findEntry(entries, old.key)
		*dest = *old
		t.count++
	}
	t.entries = entries
}

// findEntry returns the slot holding key or, if key is absent, the slot it
// should be inserted into: the first tombstone on its probe path, else the
// empty slot that ended the probe.
func findEntry(entries []entry, key string) *entry {
	capacity := uint64(len(entries))
	index := hashKey(key) % capacity

	var tombstone *entry
	for {
		e := &entries[index]
		switch e.state {
		case entryEmpty:
			if tombstone != nil {
				return tombstone
			}
			return e
		case entryTombstone:
			if tombstone == nil {
				tombstone = e
			}
		case entryLive:
			if e.key == key {
				return e
			}
		}
		index = (index + 1) % capacity
	}
}

// hashKey is 64-bit FNV-1a over the key's bytes.
func hashKey(key string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return h.Sum64()
}
