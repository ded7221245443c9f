package skiplist

import (
	"unsafe"

	"github.com/hashicorp/go-multierror"
)

// Remove implements the remove protocol (§4.6). It returns the removed
// value and true if key had a live entry, or the zero value and false if it
// did not. The boundary between "logically removed" and "physically
// unlinked and retired" is invisible to callers: by the time Remove
// returns, the node is unreachable from any future find (§4.6 invariant),
// even though other in-flight hazard-protected readers may still be
// holding a reference to it until the next EagerReclaim pass.
func (l *List[K, V]) Remove(key K) (V, bool, error) {
	var zero V
	if l.domain.Closed() {
		return zero, false, ErrDomainClosed
	}

	for {
		res := l.find(key, false)
		if res.target == nil {
			res.Release()
			return zero, false, nil
		}
		target := res.target
		value := target.value
		res.Release()

		if !target.removed.CompareAndSwap(false, true) {
			// Lost the race for this occurrence: either a concurrent
			// remover already claimed it, or it was never ours to claim.
			// Re-find from scratch rather than assume "not found" (§4.6
			// step 2, "retry from the top on CAS failure").
			l.metrics.IncRemoveCASRetry()
			continue
		}

		l.metrics.IncRemoveLogicalWin()
		l.metrics.AddLen(-1)
		l.budget.release()
		if afterLogicalRemoveHook != nil {
			afterLogicalRemoveHook(key)
		}

		// Stamp every level target currently carries before touching any of
		// them physically. This is the predecessor-marking half of §4.6's
		// tag protocol: target is about to become somebody else's stale
		// predecessor, and any insert or unlink concurrently holding target's
		// pre-removal raw word as a CAS expected operand must now fail and
		// re-find rather than succeed against a node that is already gone.
		// A level target was never published at (insert lost the race and
		// broke out of finishLevels before reaching it) has nothing to tag
		// over, but stamping it anyway is harmless and keeps this loop from
		// needing to know which levels insert actually finished.
		for i := 0; i < target.height; i++ {
			target.levels[i].markPendingUnlink()
		}

		var diag *multierror.Error
		for level := target.height - 1; level >= 0; level-- {
			if retries := l.unlinkLevel(target, level); retries > 0 {
				diag = accumulateUnlinkRetries(diag, level)
			}
		}
		l.recordUnlinkDiagnostics(diag)

		l.domain.Retire(unsafe.Pointer(target), func() {})
		return value, true, nil
	}
}

// unlinkLevel physically detaches target from level, per §4.6 step 3,
// retrying against a fresh search result whenever the predecessor's raw
// word has moved out from under it. It returns how many CAS attempts were
// needed beyond the first; 0 means the first attempt (or no attempt at all,
// if target was never linked at this level) settled it.
func (l *List[K, V]) unlinkLevel(target *node[K, V], level int) int {
	if level >= target.height {
		return 0
	}

	retries := 0
	for {
		res := l.find(target.key, true)
		prev := res.prev[level]
		if prev == nil {
			prev = l.head
		}

		cur := prev.levels[level].LoadPtr()
		if cur != target {
			// Either not linked here yet (insert lost the race with this
			// remove and stopped publishing, §4.5 step 4) or some other
			// remover already finished this level. Either way, done.
			res.Release()
			return retries
		}

		word := prev.levels[level].rawWord()
		next := target.levels[level].LoadPtr()
		ok := prev.levels[level].CAS(word, next, TagNone)
		res.Release()
		if ok {
			return retries
		}
		retries++
		l.metrics.IncUnlinkRetry()
	}
}
