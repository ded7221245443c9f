package skiplist

// InsertOutcome reports what Insert actually did. Node key/value pairs are
// immutable after construction (§3), so — resolving the Open Question in
// spec.md §9 — a live collision can never overwrite an existing value in
// place; it can only report that the key is already taken, which is
// exactly what the concrete algorithm in §4.5 step 3 does ("the key is
// present; free N and return the present-outcome").
type InsertOutcome int

const (
	// Inserted means key had no live entry and N is now linked.
	Inserted InsertOutcome = iota
	// AlreadyPresent means a live node for key already existed; N was
	// discarded and nothing was linked.
	AlreadyPresent
)

// Insert implements the insert protocol (§4.5). It returns AlreadyPresent
// (with the value already stored under key) if a live entry for key exists,
// or Inserted (with the zero value of V) otherwise.
func (l *List[K, V]) Insert(key K, value V) (InsertOutcome, V, error) {
	if l.domain.Closed() {
		var zero V
		return Inserted, zero, ErrDomainClosed
	}

	if !l.budget.tryAcquire() {
		var zero V
		return Inserted, zero, wrapAllocationFailure(l.budgetLimit)
	}

	height := l.rng.RandomLevel(l.maxHeight)
	target := newNode[K, V](key, value, height)

	for {
		res := l.find(key, false)

		prev0 := res.prev[0]
		if prev0 == nil {
			prev0 = l.head
		}
		if prev0.removed.Load() {
			// Cheap early-out; not load-bearing for correctness. The CAS
			// below is what actually closes this window: res.prevWord[0] is
			// the raw tagged word find observed, and a predecessor that
			// becomes removed after this check stamps its own levels[0] with
			// TagPendingUnlink (remove.go), which changes that word's
			// identity and makes the CAS fail even though the pointer half
			// is unchanged.
			res.Release()
			continue
		}

		if res.target != nil {
			present := res.target.value
			res.Release()
			return AlreadyPresent, present, nil
		}

		if beforeBaseLevelCASHook != nil {
			beforeBaseLevelCASHook(key)
		}

		target.levels[0].Store(res.succ[0], TagNone)
		if !prev0.levels[0].CAS(res.prevWord[0], target, TagNone) {
			// Expected-word mismatch: either a concurrent insert/remove
			// relinked prev0.levels[0], or prev0 itself got tagged
			// TagPendingUnlink by a remover that logically removed it after
			// find observed this word (§4.6 "The tag"). Either way, re-find.
			l.metrics.IncInsertCASRetry()
			res.Release()
			continue
		}

		l.metrics.IncInsertCASSuccess()
		l.metrics.AddLen(1)
		l.budget.acquire()

		l.finishLevels(res, target, 1)
		var zero V
		return Inserted, zero, nil
	}
}

// Put is Insert's map-shaped convenience wrapper: it returns the value that
// was already stored under key (zero value if there wasn't one) and whether
// the key was already present.
func (l *List[K, V]) Put(key K, value V) (V, bool) {
	outcome, present, err := l.Insert(key, value)
	if err != nil {
		var zero V
		return zero, false
	}
	return present, outcome == AlreadyPresent
}

// finishLevels publishes target at levels [fromLevel, target.height), per
// §4.5 step 4. It consumes (and releases) res, acquiring fresh search
// results as needed when a predecessor snapshot goes stale.
func (l *List[K, V]) finishLevels(res *searchResult[K, V], target *node[K, V], fromLevel int) {
	level := fromLevel
	for level < target.height {
		if target.removed.Load() {
			// Removed before we finished publishing it: stop here rather
			// than race the remover's unlink (§4.6 design note, "Removed-
			// but-still-building nodes"). The node is already correctly
			// linked at every level below level, which is all I2/I3 need.
			break
		}

		prev := res.prev[level]
		if prev == nil {
			prev = l.head
		}
		succ := res.succ[level]
		expected := res.prevWord[level]

		// prev.levels[level].rawWord() != expected catches both a relink and
		// a bare tag change: a predecessor that markPendingUnlink'd this
		// level after find captured expected now reads back a distinct
		// *taggedRef even if the pointer half never moved.
		stale := prev.removed.Load() || prev.levels[level].rawWord() != expected
		if !stale && succ != nil && l.equal(succ.key, target.key) && succ.removed.Load() {
			stale = true
		}
		if stale {
			res.Release()
			res = l.find(target.key, false)
			l.metrics.IncInsertCASRetry()
			continue
		}

		target.levels[level].Store(succ, TagNone)
		if beforeFinishLevelHook != nil {
			beforeFinishLevelHook(level)
		}
		if !prev.levels[level].CAS(expected, target, TagNone) {
			l.metrics.IncInsertCASRetry()
			res.Release()
			res = l.find(target.key, false)
			continue
		}

		level++
	}
	res.Release()
}
