package skl

import (
	"math/bits"
	randv2 "math/rand/v2"
)

// SLNode represents a single node within a SkipList.
type SLNode[K Comparable, V any] struct {
	Key      K
	Value    V
	forwards []*SLNode[K, V]
}

// SkipList is a generic ordered map implemented with a probabilistic
// skip list, guarded by a caller-held mutex rather than by lock-free CAS.
// It exists in this module as the benchmark baseline the concurrent List
// in the package above is measured against.
type SkipList[K Comparable, V any] struct {
	level    uint
	length   uint
	headNote *SLNode[K, V]
	config   Config
	rng      randv2.Source
}

// InitSkipList creates a new empty SkipList using the provided configuration.
// If Compare cannot order values of the key type (it is neither a builtin
// ordered type nor a CmpType), ErrUnsupportedType is returned.
func InitSkipList[K Comparable, V any](config Config) (*SkipList[K, V], error) {
	var emptyKeyValue K
	err := ValidateCmpType(emptyKeyValue)
	if err != nil {
		return nil, err
	}

	rng := randv2.NewPCG(randv2.Uint64(), randv2.Uint64())

	return &SkipList[K, V]{
		level:    config.skipListDefaultLevel,
		headNote: &SLNode[K, V]{forwards: make([]*SLNode[K, V], config.skipListDefaultLevel)},
		config:   config,
		rng:      rng,
	}, nil
}

// Put inserts or replaces the value associated with searchKey.
func (list *SkipList[K, V]) Put(searchKey K, newValue V) {
	rn := list.Head()
	rl := list.level
	update := make([]*SLNode[K, V], list.config.skipListMaxLevel)
	for rl > 0 {
		rl--
		for rn.forwards[rl] != nil && Compare(rn.forwards[rl].Key, searchKey) == CmpLess {
			rn = rn.forwards[rl]
		}
		update[rl] = rn
	}

	if rn.forwards[0] != nil {
		rn = rn.forwards[0]
	}
	if Compare(rn.Key, searchKey) == CmpEqual {
		rn.Value = newValue
	} else {
		newLevel := list.randomLevel()
		if newLevel > list.level {
			rl := newLevel
			for rl > list.level {
				rl--
				update[rl] = list.Head()
				update[rl].forwards = append(update[rl].forwards, make([]*SLNode[K, V], newLevel-list.level)...)
			}
			list.level = newLevel
		}
		newNode := &SLNode[K, V]{
			Key:      searchKey,
			Value:    newValue,
			forwards: make([]*SLNode[K, V], list.level),
		}
		for newLevel > 0 {
			newLevel--
			newNode.forwards[newLevel] = update[newLevel].forwards[newLevel]
			update[newLevel].forwards[newLevel] = newNode
		}

		list.length++
	}
}

// Get retrieves the value associated with searchKey. If the key does not exist
// ErrKeyNotFound is returned.
func (list *SkipList[K, V]) Get(searchKey K) (V, error) {
	rn := list.Head()
	rl := list.level

	for rl > 0 {
		rl--
		for rn.forwards[rl] != nil && Compare(rn.forwards[rl].Key, searchKey) == CmpLess {
			rn = rn.forwards[rl]
		}
	}
	if rn.forwards[0] != nil {
		rn = rn.forwards[0]
	}
	if Compare(rn.Key, searchKey) == CmpEqual {
		return rn.Value, nil
	} else {
		var emptyValue V
		return emptyValue, ErrKeyNotFound
	}
}

// Head returns the head sentinel node of the list.
func (list *SkipList[K, V]) Head() *SLNode[K, V] {
	if list == nil || list.headNote == nil {
		panic(ErrMalformedList)
	}

	return list.headNote
}

// Remove deletes the node with the given key. It returns ErrKeyNotFound if the
// key is absent.
func (list *SkipList[K, V]) Remove(searchKey K) error {
	rn := list.Head()
	rl := list.level
	update := make([]*SLNode[K, V], list.config.skipListMaxLevel)
	for rl > 0 {
		rl--
		for rn.forwards[rl] != nil && Compare(rn.forwards[rl].Key, searchKey) == CmpLess {
			rn = rn.forwards[rl]
		}
		update[rl] = rn
	}

	if rn.forwards[0] != nil {
		rn = rn.forwards[0]
	}
	if Compare(rn.Key, searchKey) == CmpEqual {
		for i := 0; i < int(list.level); i++ {
			if update[i].forwards[i] != rn {
				break
			}
			update[i].forwards[i] = rn.forwards[i]
		}
		for list.level > 1 && list.Head().forwards[list.level-1] == nil {
			list.level--
		}
	} else {
		return ErrKeyNotFound
	}

	list.length--
	return nil
}

const (
	float64Unit = 1.0 / (1 << 53)
)

func (list *SkipList[K, V]) randomLevel() uint {
	lvl := uint(1)
	if list == nil || list.rng == nil {
		panic(ErrMalformedList)
	}

	maxLevel := list.config.skipListMaxLevel
	if maxLevel <= 1 {
		return lvl
	}

	if list.config.skipListP == 0.5 {
		zeros := uint(bits.TrailingZeros64(list.rng.Uint64()))
		if zeros > maxLevel-1 {
			zeros = maxLevel - 1
		}
		lvl += zeros
		return lvl
	}

	for lvl < maxLevel {
		randFloat := float64(list.rng.Uint64()>>11) * float64Unit
		if randFloat >= list.config.skipListP {
			break
		}
		lvl++
	}

	return lvl
}
