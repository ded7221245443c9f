package skiplist

// searchResult is the outcome of find (§4.3): for every level it records the
// predecessor, the predecessor's raw level-i word (the CAS expected operand,
// P-find-1), and the observed successor — plus, if one exists, the matching
// target. Every node reachable through target, prev, or succ is protected by
// a hazard guard for the lifetime of the result; Release returns them all.
type searchResult[K, V any] struct {
	target *node[K, V]

	prev     [AbsoluteMaxHeight]*node[K, V]
	prevWord [AbsoluteMaxHeight]*taggedRef[K, V]
	succ     [AbsoluteMaxHeight]*node[K, V]

	guards []*HazardGuard
}

func (r *searchResult[K, V]) addGuard(g *HazardGuard) {
	r.guards = append(r.guards, g)
}

// Release drops every hazard guard this search result is holding. Callers
// must call it exactly once they are done consuming prev/succ/target.
func (r *searchResult[K, V]) Release() {
	for _, g := range r.guards {
		g.Release()
	}
	r.guards = nil
}

// find walks from the top level down, per §4.3. allowRemoved controls
// whether a logically-removed node sharing the search key still stops the
// walk (I6): false skips past removed duplicates looking for a live one,
// true stops at the first occurrence regardless of removal.
func (l *List[K, V]) find(key K, allowRemoved bool) *searchResult[K, V] {
	res := &searchResult[K, V]{}

	// head is a permanent sentinel, never retired, so it needs no hazard
	// guard of its own; guards are acquired only for the nodes read out of
	// level cells (its own included).
	x := l.head

	for i := l.maxHeight - 1; i >= 0; i-- {
		for {
			cell := &x.levels[i]
			guard := l.domain.Acquire()
			word, next := protectWord[K, V](guard, cell)

			if l.advances(next, key, allowRemoved) {
				x = next
				res.addGuard(guard)
				continue
			}

			res.prev[i] = x
			res.prevWord[i] = word
			res.succ[i] = next
			if next != nil {
				res.addGuard(guard)
			} else {
				guard.Release()
			}
			break
		}
	}

	candidate := res.succ[0]
	if candidate != nil && l.equal(candidate.key, key) && (allowRemoved || !candidate.removed.Load()) {
		res.target = candidate
	}
	if afterFindHook != nil {
		afterFindHook(key, res.target != nil)
	}
	return res
}

// advances reports whether the walk should step onto next while searching
// for key, per the two disjuncts in §4.3's Walk description.
func (l *List[K, V]) advances(next *node[K, V], key K, allowRemoved bool) bool {
	if next == nil {
		return false
	}
	if l.less(next.key, key) {
		return true
	}
	return l.equal(next.key, key) && next.removed.Load() && !allowRemoved
}

func (l *List[K, V]) equal(a, b K) bool {
	return !l.less(a, b) && !l.less(b, a)
}
