package skiplist

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/bits-and-blooms/bitset"
	"github.com/bits-and-blooms/bloom/v3"
)

// maxHazardSlots bounds how many hazard pointers may be simultaneously
// published across every List sharing a Domain. §4.3 requires one hazard
// per entry of a SearchResult's level_hazards array, so this needs to cover
// (concurrent in-flight find calls) x (H_MAX). The slot table is allocated
// once at this size so the hot publish/clear path (acquireSlot aside) never
// needs to reallocate or take a lock.
const maxHazardSlots = 4096

type hazardSlot struct {
	addr unsafe.Pointer
}

// DomainStats reports the reclamation domain's bookkeeping counters. It
// exists so stress tests (spec scenario 6: "final eager reclaim; allocator
// reports zero live nodes other than head") can assert against observable
// state instead of reaching into domain internals.
type DomainStats struct {
	Retired                int64
	Reclaimed              int64
	ProtectedAtLastReclaim int64
}

// Domain is the registry of hazard slots and the retire list described in
// §4.2. A Domain is not generic: hazard slots track node identity via
// unsafe.Pointer, which is what lets a single Domain be shared across
// Lists with different K, V (§6 configuration surface: "domain: optional
// injection of a reclamation domain, shared across multiple lists").
type Domain struct {
	mu       sync.Mutex
	slots    [maxHazardSlots]hazardSlot
	occupied *bitset.BitSet

	retireMu sync.Mutex
	retired  []retiredEntry

	retiredCount   atomic.Int64
	reclaimedCount atomic.Int64
	protectedCount atomic.Int64

	closed atomic.Bool
}

type retiredEntry struct {
	addr    unsafe.Pointer
	deleter func()
}

// NewDomain allocates a fresh, empty reclamation domain.
func NewDomain() *Domain {
	return &Domain{occupied: bitset.New(maxHazardSlots)}
}

// Closed reports whether Close has been called. Lists consult this before
// an operation would otherwise hand out a fresh hazard guard, turning the
// "domain dropped out from under a list" misuse case (§7) into a detectable
// ErrDomainClosed instead of silently hazard-protecting nothing.
func (d *Domain) Closed() bool { return d.closed.Load() }

// Close marks the domain unusable by any further List operation. It does
// not reclaim outstanding retired nodes; callers that need that should call
// EagerReclaim first. Close is irreversible.
func (d *Domain) Close() { d.closed.Store(true) }

// acquireSlot claims the lowest-numbered free slot, spinning if the table is
// momentarily exhausted until another holder releases a guard (a search
// result or an iterator releases its guards when its owner calls Release
// or Close).
func (d *Domain) acquireSlot() int {
	for {
		d.mu.Lock()
		if idx, ok := d.occupied.NextClear(0); ok && idx < maxHazardSlots {
			d.occupied.Set(idx)
			d.mu.Unlock()
			return int(idx)
		}
		d.mu.Unlock()
	}
}

func (d *Domain) releaseSlot(idx int) {
	atomic.StorePointer(&d.slots[idx].addr, nil)
	d.mu.Lock()
	d.occupied.Clear(uint(idx))
	d.mu.Unlock()
}

// HazardGuard is a scoped acquisition of exactly one hazard slot, per §4.2.
type HazardGuard struct {
	domain *Domain
	slot   int
	active bool
}

// Acquire claims a hazard slot bound to this domain. The caller must Release
// it once the protected node is no longer needed.
func (d *Domain) Acquire() *HazardGuard {
	return &HazardGuard{domain: d, slot: d.acquireSlot(), active: true}
}

// publish installs p into the guard's slot. Go's atomic.StorePointer already
// carries release semantics on every architecture the toolchain supports,
// and the hazard-protection loop in protectWord follows it with another
// atomic load, which together implement the "release + full fence before
// the re-validate load" discipline §4.2 and §5 require.
func (g *HazardGuard) publish(p unsafe.Pointer) {
	atomic.StorePointer(&g.domain.slots[g.slot].addr, p)
}

// Release clears the guard's slot, making it available to other callers.
// Release is idempotent.
func (g *HazardGuard) Release() {
	if !g.active {
		return
	}
	g.active = false
	g.domain.releaseSlot(g.slot)
}

// protectWord runs the standard hazard-protection loop (§4.2) over a
// TaggedAtomic cell: repeatedly load the cell's raw word, publish the
// pointer half, reload the cell, and repeat until two successive loads
// return the identical raw word. This closes the ABA window between
// reading a pointer and announcing that it is in use, and it hands back
// the exact raw word observed so callers can use it, unchanged, as the
// expected operand of a later CAS (§4.3 P-find-1).
func protectWord[K, V any](g *HazardGuard, cell *TaggedAtomic[K, V]) (*taggedRef[K, V], *node[K, V]) {
	for {
		w := cell.rawWord()
		var p *node[K, V]
		if w != nil {
			p = w.next
		}
		g.publish(unsafe.Pointer(p))
		w2 := cell.rawWord()
		if w == w2 {
			return w, p
		}
	}
}

// Retire hands addr to the domain for deferred reclamation, pairing it with
// the deleter that should run once no hazard protects it. The remove
// protocol's removed-flag CAS is the gate that makes it safe to retire a
// given address at most once (§4.2 "Safety contract for retire").
func (d *Domain) Retire(addr unsafe.Pointer, deleter func()) {
	d.retireMu.Lock()
	d.retired = append(d.retired, retiredEntry{addr: addr, deleter: deleter})
	d.retireMu.Unlock()
	d.retiredCount.Add(1)
}

// EagerReclaim snapshots every currently-published hazard pointer, then
// invokes the deleter (and drops the bookkeeping entry) for every retired
// address the snapshot does not protect.
//
// A small Bloom filter is rebuilt from the same snapshot first. Membership
// in the filter is checked before the exact map lookup: a retired address
// that the filter reports as definitely absent skips straight to
// reclamation, and one it reports as possibly present still falls through
// to the exact check, so the filter's false-positive rate only ever costs
// an extra map lookup — it can never cause an incorrectly-early reclaim.
func (d *Domain) EagerReclaim() {
	d.mu.Lock()
	protected := make(map[unsafe.Pointer]struct{})
	filter := bloom.NewWithEstimates(maxHazardSlots, 0.01)
	for i := range d.slots {
		p := atomic.LoadPointer(&d.slots[i].addr)
		if p != nil {
			protected[p] = struct{}{}
			filter.Add(pointerKey(p))
		}
	}
	d.mu.Unlock()

	d.retireMu.Lock()
	defer d.retireMu.Unlock()

	remaining := d.retired[:0]
	var stillProtected int64
	for _, e := range d.retired {
		if filter.Test(pointerKey(e.addr)) {
			if _, ok := protected[e.addr]; ok {
				remaining = append(remaining, e)
				stillProtected++
				continue
			}
		}
		if e.deleter != nil {
			e.deleter()
		}
		d.reclaimedCount.Add(1)
	}
	d.retired = remaining
	d.protectedCount.Store(stillProtected)
}

// pointerKey renders an unsafe.Pointer as bloom-filter input.
func pointerKey(p unsafe.Pointer) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(uintptr(p)))
	return buf[:]
}

// Stats returns the domain's bookkeeping counters.
func (d *Domain) Stats() DomainStats {
	return DomainStats{
		Retired:                d.retiredCount.Load(),
		Reclaimed:              d.reclaimedCount.Load(),
		ProtectedAtLastReclaim: d.protectedCount.Load(),
	}
}
