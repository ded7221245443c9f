package skiplist

// Test hooks let concurrency and fuzz tests force specific thread
// interleavings at points production code would otherwise run straight
// through. A hook may block to hold its goroutine at that point (the tests
// do this), but must never mutate state that production correctness
// depends on.
var (
	// afterFindHook fires once find has settled on its result, before the
	// caller acts on it.
	afterFindHook func(key any, found bool)

	// afterLogicalRemoveHook fires once Remove has won the removed-flag
	// CAS for a node, before any unlink attempt begins — the window the
	// design notes call "removed-but-still-building".
	afterLogicalRemoveHook func(key any)

	// beforeFinishLevelHook fires before Insert attempts the CAS that
	// links a node at a level above 0.
	beforeFinishLevelHook func(level int)

	// beforeBaseLevelCASHook fires after Insert's cheap prev.removed check
	// has passed but before it attempts the base-level CAS — the window the
	// tag protocol (§4.6) exists to close, since a predecessor can still be
	// logically removed and tagged in between.
	beforeBaseLevelCASHook func(key any)
)
