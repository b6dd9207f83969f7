package vm

import "github.com/chazu/yellowstone/value"

// ---------------------------------------------------------------------------
// Heap: registry of every object the VM has allocated or adopted
// ---------------------------------------------------------------------------

// Heap tracks live objects so they can be released together when a session
// ends. Objects are keyed by identity.
type Heap struct {
	objects   map[value.Object]struct{}
	allocated int // total ever tracked, including swept objects
}

// NewHeap creates an empty heap.
func NewHeap() *Heap {
	return &Heap{objects: make(map[value.Object]struct{})}
}

// Track registers o and takes the heap's reference to it. Tracking an
// object twice is a no-op.
func (h *Heap) Track(o value.Object) {
	if _, ok := h.objects[o]; ok {
		return
	}
	o.Retain()
	h.objects[o] = struct{}{}
	h.allocated++
}

// Contains reports whether o is tracked.
func (h *Heap) Contains(o value.Object) bool {
	_, ok := h.objects[o]
	return ok
}

// Len returns the number of tracked objects.
func (h *Heap) Len() int {
	return len(h.objects)
}

// Allocated returns the number of objects ever tracked.
func (h *Heap) Allocated() int {
	return h.allocated
}

// Sweep drops every reference to every tracked object and forgets them.
// Returns the number of objects swept.
func (h *Heap) Sweep() int {
	n := len(h.objects)
	for o := range h.objects {
		for o.Refs() > 0 {
			o.Release()
		}
	}
	h.objects = make(map[value.Object]struct{})
	return n
}
