package skiplist

import "unsafe"

// Iterator provides a forward-only, weakly-consistent view over a List
// (§4.7): it reflects some state the list passed through during the scan,
// but inserts and removes racing with iteration may or may not be
// observed, and never cause a crash or a skip of a key present for the
// iterator's entire lifetime.
type Iterator[K comparable, V any] struct {
	l       *List[K, V]
	current *node[K, V]
	guard   *HazardGuard
	key     K
	value   V
	valid   bool
}

// Iterator returns a new iterator positioned before the first element.
func (l *List[K, V]) Iterator() *Iterator[K, V] {
	return &Iterator[K, V]{l: l}
}

// Valid reports whether the iterator currently points at an element.
func (it *Iterator[K, V]) Valid() bool {
	return it != nil && it.valid
}

// Key returns the key at the iterator's current position. It should only
// be called when Valid reports true.
func (it *Iterator[K, V]) Key() K {
	var zero K
	if it == nil || !it.valid {
		return zero
	}
	return it.key
}

// Value returns the value at the iterator's current position. It should
// only be called when Valid reports true.
func (it *Iterator[K, V]) Value() V {
	var zero V
	if it == nil || !it.valid {
		return zero
	}
	return it.value
}

// SeekGE positions the iterator at the first live element whose key is
// greater than or equal to key. It returns true if such an element exists.
func (it *Iterator[K, V]) SeekGE(key K) bool {
	if it == nil || it.l == nil {
		return false
	}
	it.invalidate()

	res := it.l.find(key, false)
	candidate := res.succ[0]
	if candidate == nil {
		res.Release()
		return false
	}

	guard := it.l.domain.Acquire()
	guard.publish(unsafe.Pointer(candidate))
	res.Release()

	return it.settleOn(candidate, guard)
}

// Next advances the iterator to the next live element and reports whether
// it moved forward. If the iterator was not valid prior to the call, it
// advances to the first live element.
func (it *Iterator[K, V]) Next() bool {
	if it == nil || it.l == nil {
		return false
	}

	if !it.valid {
		guard := it.l.domain.Acquire()
		_, next := protectWord[K, V](guard, &it.l.head.levels[0])
		return it.settleOn(next, guard)
	}

	current, guard := it.current, it.guard
	it.current, it.guard = nil, nil
	next, nextGuard := it.l.advance(current, guard)
	return it.settleOn(next, nextGuard)
}

// settleOn adopts (current, guard) as the iterator's position, skipping
// forward over any already-removed nodes it finds along the way, and
// releasing guard (and every intermediate guard it exchanges it for) if the
// scan runs off the end of the list.
func (it *Iterator[K, V]) settleOn(current *node[K, V], guard *HazardGuard) bool {
	for current != nil {
		if !current.removed.Load() {
			it.current = current
			it.guard = guard
			it.key = current.key
			it.value = current.value
			it.valid = true
			return true
		}
		current, guard = it.l.advance(current, guard)
	}
	it.invalidate()
	return false
}

// advance loads current's level-0 successor under hazard protection,
// trading the guard protecting current for one protecting the successor.
// current must not be read again after this call.
func (l *List[K, V]) advance(current *node[K, V], guard *HazardGuard) (*node[K, V], *HazardGuard) {
	cell := &current.levels[0]
	next := cell.LoadPtr()
	if next == nil {
		guard.Release()
		return nil, nil
	}
	nextGuard := l.domain.Acquire()
	_, protected := protectWord[K, V](nextGuard, cell)
	guard.Release()
	return protected, nextGuard
}

// Close releases the hazard guard the iterator is currently holding, if
// any. Callers that stop consuming an iterator before Next or SeekGE
// reports exhaustion must call Close, or the node it was last positioned on
// stays hazard-protected (and therefore unreclaimable) indefinitely.
func (it *Iterator[K, V]) Close() {
	it.invalidate()
}

func (it *Iterator[K, V]) invalidate() {
	if it == nil {
		return
	}
	if it.guard != nil {
		it.guard.Release()
		it.guard = nil
	}
	it.current = nil
	it.valid = false
	var zeroK K
	var zeroV V
	it.key = zeroK
	it.value = zeroV
}
