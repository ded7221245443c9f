package skiplist

import (
	"math/bits"
	"runtime"
	"sync/atomic"
)

type metricShard struct {
	insertCASRetries   atomic.Int64
	insertCASSuccesses atomic.Int64
	removeCASRetries   atomic.Int64
	removeLogicalWins  atomic.Int64
	unlinkRetries      atomic.Int64
	length             atomic.Int64
	// Pad to cache line size to prevent false sharing.
	_ [16]byte
}

type Metrics struct {
	shards []metricShard
	mask   uint32
	rng    *RNG
}

func newMetrics(rng *RNG) *Metrics {
	shardCount := 1
	if rng != nil {
		shardCount = runtime.GOMAXPROCS(0)
		if shardCount < 1 {
			shardCount = 1
		}
		shardCount = nextPowerOfTwo(shardCount)
	}
	return &Metrics{
		shards: make([]metricShard, shardCount),
		mask:   uint32(shardCount - 1),
		rng:    rng,
	}
}

func nextPowerOfTwo(v int) int {
	if v <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(v-1))
}

func (m *Metrics) shard() *metricShard {
	if len(m.shards) == 1 || m.rng == nil {
		return &m.shards[0]
	}
	idx := uint32(m.rng.nextRandom64()) & m.mask
	return &m.shards[idx]
}

func (m *Metrics) IncInsertCASRetry() {
	m.shard().insertCASRetries.Add(1)
}

func (m *Metrics) IncInsertCASSuccess() {
	m.shard().insertCASSuccesses.Add(1)
}

func (m *Metrics) AddLen(d int64) {
	m.shard().length.Add(d)
}

func (m *Metrics) Len() int64 {
	var total int64
	for i := range m.shards {
		total += m.shards[i].length.Load()
	}
	return total
}

func (m *Metrics) InsertCASStats() (int64, int64) {
	var retries, successes int64
	for i := range m.shards {
		retries += m.shards[i].insertCASRetries.Load()
		successes += m.shards[i].insertCASSuccesses.Load()
	}
	return retries, successes
}

func (m *Metrics) IncRemoveCASRetry() {
	m.shard().removeCASRetries.Add(1)
}

func (m *Metrics) IncRemoveLogicalWin() {
	m.shard().removeLogicalWins.Add(1)
}

func (m *Metrics) IncUnlinkRetry() {
	m.shard().unlinkRetries.Add(1)
}

// RemoveStats reports the remove protocol's contention counters: how many
// times the removed-flag CAS (§4.6 step 2) had to be retried, how many
// logical removals actually won that race, and how many physical unlink
// attempts (§4.6 step 3) found a stale predecessor and had to retry.
func (m *Metrics) RemoveStats() (casRetries, logicalWins, unlinkRetries int64) {
	for i := range m.shards {
		casRetries += m.shards[i].removeCASRetries.Load()
		logicalWins += m.shards[i].removeLogicalWins.Load()
		unlinkRetries += m.shards[i].unlinkRetries.Load()
	}
	return
}
