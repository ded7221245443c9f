// Package skiplist implements a lock-free, ordered key-value map backed by
// a probabilistic skip list, with hazard pointers guarding every node from
// reclamation until no concurrent operation can still be reading it.
package skiplist

import (
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
)

// Less reports whether a sorts before b. It must be a strict weak ordering;
// List uses it for every comparison, including equality (a and b are equal
// when neither Less(a, b) nor Less(b, a) holds).
type Less[K any] func(a, b K) bool

// List is a lock-free, ordered map over K and V, backed by a skip list.
// All exported methods are safe to call concurrently from any number of
// goroutines.
type List[K comparable, V any] struct {
	less Less[K]
	head *node[K, V]

	domain     *Domain
	ownsDomain bool

	rng       *RNG
	maxHeight int
	metrics   *Metrics

	budgetLimit int64
	budget      *nodeBudget

	diagnostics atomic.Pointer[multierror.Error]
}

// Option configures a List at construction time.
type Option[K comparable, V any] func(*List[K, V])

// WithMaxHeight overrides H_MAX, the tallest level a node may be sampled to.
// This spec resolves the height bound as a construction-time parameter
// rather than a fixed constant, clamped to [1, AbsoluteMaxHeight].
func WithMaxHeight[K comparable, V any](h int) Option[K, V] {
	return func(l *List[K, V]) {
		if h < 1 {
			h = 1
		}
		if h > AbsoluteMaxHeight {
			h = AbsoluteMaxHeight
		}
		l.maxHeight = h
	}
}

// WithDomain injects a reclamation domain to share across multiple Lists.
// The caller retains ownership: List.Close will not close an injected
// domain.
func WithDomain[K comparable, V any](d *Domain) Option[K, V] {
	return func(l *List[K, V]) {
		l.domain = d
		l.ownsDomain = false
	}
}

// WithSeed pins the height sampler's entropy source, for reproducible
// tests.
func WithSeed[K comparable, V any](seed uint64) Option[K, V] {
	return func(l *List[K, V]) {
		l.rng = newRNGWithSeed(seed)
	}
}

// WithNodeBudget caps the number of live nodes the List will hold. Once the
// budget is reached, Insert returns ErrAllocationFailed instead of linking
// a new node, modeling an arena with a fixed capacity.
func WithNodeBudget[K comparable, V any](budget int64) Option[K, V] {
	return func(l *List[K, V]) {
		l.budgetLimit = budget
	}
}

// New constructs a List ordered by less, with default configuration.
func New[K comparable, V any](less Less[K]) *List[K, V] {
	return NewWithOptions[K, V](less)
}

// NewWithOptions constructs a List ordered by less, applying opts in order.
func NewWithOptions[K comparable, V any](less Less[K], opts ...Option[K, V]) *List[K, V] {
	l := &List[K, V]{
		less:      less,
		head:      newHead[K, V](),
		maxHeight: DefaultMaxHeight,
		rng:       newRNG(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.domain == nil {
		l.domain = NewDomain()
		l.ownsDomain = true
	}
	l.metrics = newMetrics(l.rng)
	l.budget = newNodeBudget(l.budgetLimit)
	return l
}

// Get returns the value stored under key and true, or the zero value and
// false if no live entry exists.
func (l *List[K, V]) Get(key K) (V, bool, error) {
	var zero V
	if l.domain.Closed() {
		return zero, false, ErrDomainClosed
	}
	res := l.find(key, false)
	defer res.Release()
	if res.target == nil {
		return zero, false, nil
	}
	return res.target.value, true, nil
}

// Contains reports whether key has a live entry.
func (l *List[K, V]) Contains(key K) (bool, error) {
	if l.domain.Closed() {
		return false, ErrDomainClosed
	}
	res := l.find(key, false)
	defer res.Release()
	return res.target != nil, nil
}

// Len returns the number of live entries, tracked incrementally by the
// sharded Metrics counters rather than by walking the list.
func (l *List[K, V]) Len() int64 {
	return l.metrics.Len()
}

// SeekGE returns an iterator positioned at the first live element whose key
// is greater than or equal to key. The returned iterator is valid if and
// only if such an element exists.
func (l *List[K, V]) SeekGE(key K) *Iterator[K, V] {
	it := l.Iterator()
	it.SeekGE(key)
	return it
}

// Stats reports the List's and its Domain's bookkeeping counters, for
// tests and diagnostics.
type Stats struct {
	Domain             DomainStats
	InsertCASRetries   int64
	InsertCASSuccesses int64
	RemoveCASRetries   int64
	RemoveLogicalWins  int64
	UnlinkRetries      int64
	UnlinkDiagnostics  error
}

// Stats snapshots the List's current counters.
func (l *List[K, V]) Stats() Stats {
	insRetries, insSuccesses := l.metrics.InsertCASStats()
	remRetries, remWins, unlinkRetries := l.metrics.RemoveStats()
	var diag error
	if d := l.diagnostics.Load(); d != nil {
		diag = d.ErrorOrNil()
	}
	return Stats{
		Domain:             l.domain.Stats(),
		InsertCASRetries:   insRetries,
		InsertCASSuccesses: insSuccesses,
		RemoveCASRetries:   remRetries,
		RemoveLogicalWins:  remWins,
		UnlinkRetries:      unlinkRetries,
		UnlinkDiagnostics:  diag,
	}
}

// recordUnlinkDiagnostics stashes the most recent Remove call's unlink
// retry diagnostics, if any, for later inspection via Stats.
func (l *List[K, V]) recordUnlinkDiagnostics(diag *multierror.Error) {
	if diag == nil {
		return
	}
	l.diagnostics.Store(diag)
}

// EagerReclaim triggers one reclamation pass on the List's domain. Callers
// sharing a domain across several Lists (via WithDomain) should prefer
// calling EagerReclaim on the Domain directly so one pass covers every
// sharer.
func (l *List[K, V]) EagerReclaim() {
	l.domain.EagerReclaim()
}

// Close releases the List's owned reclamation domain. It is a no-op if the
// List was constructed with WithDomain (the caller owns that domain's
// lifetime). Close does not wait for in-flight operations; callers must
// ensure no other goroutine is still using the List.
func (l *List[K, V]) Close() {
	if l.ownsDomain {
		l.domain.EagerReclaim()
		l.domain.Close()
	}
}
