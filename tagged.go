package skiplist

import "sync/atomic"

// Tag values carried alongside a level pointer. Only one bit is used by this
// design (§4.1, §4.6): a predecessor that is itself going away has that fact
// stamped onto its own level pointer atomically with its removal, so that
// any in-flight CAS which read the untagged pointer as its expected operand
// is forced to fail instead of silently linking onto a detached node.
type Tag uint8

const (
	// TagNone marks an ordinary, unremarkable level pointer.
	TagNone Tag = 0
	// TagPendingUnlink marks a level pointer whose owning node has lost (or
	// is losing) its place in the list; see §4.6 "The tag".
	TagPendingUnlink Tag = 1
)

// taggedRef is the payload behind TaggedAtomic. Go's garbage collector does
// not support stealing bits out of a live pointer's low bits (unlike the
// bit-packed scheme spec.md describes for a systems language), so the
// (pointer, tag) pair is composed into one allocation instead and that
// allocation's identity is what gets compared-and-swapped. This preserves
// the property the spec actually requires: "every CAS on X.levels[i] uses
// the raw tagged word as the expected operand, and any change to the tag
// invalidates concurrent CASes" — a CAS keyed on *taggedRef identity has
// exactly that property, because composing a new tag always allocates a new
// *taggedRef.
type taggedRef[K, V any] struct {
	next *node[K, V]
	tag  Tag
}

// TaggedAtomic is a pointer-sized (in spirit) atomic cell holding a
// (*node, Tag) pair, per §4.1. Loads always return a clean pointer plus tag;
// stores and CASes always compose a fresh taggedRef.
type TaggedAtomic[K, V any] struct {
	ref atomic.Pointer[taggedRef[K, V]]
}

// Load returns the current (pointer, tag) pair. A never-stored cell reads as
// (nil, TagNone).
func (t *TaggedAtomic[K, V]) Load() (*node[K, V], Tag) {
	r := t.ref.Load()
	if r == nil {
		return nil, TagNone
	}
	return r.next, r.tag
}

// LoadPtr returns only the pointer half of Load, discarding the tag. Used by
// callers that only care about "what does this cell currently link to".
func (t *TaggedAtomic[K, V]) LoadPtr() *node[K, V] {
	r := t.ref.Load()
	if r == nil {
		return nil
	}
	return r.next
}

// Store composes and installs a new (pointer, tag) pair unconditionally.
// Stores are release (Go's atomic.Pointer already provides this on all
// supported platforms).
func (t *TaggedAtomic[K, V]) Store(next *node[K, V], tag Tag) {
	t.ref.Store(&taggedRef[K, V]{next: next, tag: tag})
}

// rawWord returns the currently installed *taggedRef, to be used as the
// expected operand of a subsequent CAS. Two loads of the same cell that have
// not been concurrently mutated return the identical rawWord; any mutation
// — including a pure tag change with an unchanged pointer — produces a
// distinct one. This is the Go analogue of "the raw tagged word" in §4.6.
func (t *TaggedAtomic[K, V]) rawWord() *taggedRef[K, V] {
	return t.ref.Load()
}

// CAS attempts to atomically replace the cell, whose current raw word must
// equal expected, with a freshly composed (next, tag) pair. expected should
// be a value previously obtained from rawWord, Load, or CAS's own return —
// never hand-constructed, since rawWord identity (not field equality) is
// what the CAS keys on. All CAS success/failure observations are
// sequentially consistent (§4.1): Go's atomic.Pointer.CompareAndSwap
// provides this directly.
func (t *TaggedAtomic[K, V]) CAS(expected *taggedRef[K, V], next *node[K, V], tag Tag) bool {
	return t.ref.CompareAndSwap(expected, &taggedRef[K, V]{next: next, tag: tag})
}

// markPendingUnlink stamps TagPendingUnlink onto the cell without changing
// the pointer it holds (§4.6 "The tag"). It composes and installs a fresh
// *taggedRef so the cell's raw word changes identity even though its
// pointer half does not, which is what forces a concurrent CAS that still
// holds the old, untagged word as its expected operand to fail instead of
// linking onto (or physically detaching) a predecessor that is already on
// its way out. Idempotent, and loops only to cope with a concurrent Store
// of the same cell — not with a concurrent tag change, since only the
// thread that wins a node's removed-flag CAS ever calls this on that
// node's own levels.
func (t *TaggedAtomic[K, V]) markPendingUnlink() {
	for {
		w := t.rawWord()
		if w != nil && w.tag == TagPendingUnlink {
			return
		}
		var next *node[K, V]
		if w != nil {
			next = w.next
		}
		if t.CAS(w, next, TagPendingUnlink) {
			return
		}
	}
}
