package skiplist

import (
	"errors"
	"fmt"

	"github.com/hashicorp/errwrap"
	"github.com/hashicorp/go-multierror"
)

// ErrDomainClosed is returned by Insert, Get, Contains and Remove once the
// List's reclamation domain has been closed (§7 "Misuse"). Go cannot make
// this statically impossible the way a borrow checker could, so those
// operations check it dynamically before doing any work; Put reports it as
// (zero, false), and Len, Stats, Iterator and SeekGE do not check it. See
// DESIGN.md.
var ErrDomainClosed = errors.New("skiplist: reclamation domain is closed")

// ErrAllocationFailed is the typed allocation failure §7 reserves for
// Insert. It is only ever produced when the List was constructed with
// WithNodeBudget and that budget is currently exhausted.
var ErrAllocationFailed = errors.New("skiplist: node budget exhausted")

// wrapAllocationFailure attaches the budget that rejected the allocation to
// ErrAllocationFailed, using errwrap so callers can still recover the
// sentinel with errwrap.Contains while getting the exhausted budget in the
// message.
func wrapAllocationFailure(budget int64) error {
	return errwrap.Wrapf(fmt.Sprintf("skiplist: node budget of %d exhausted: {{err}}", budget), ErrAllocationFailed)
}

// unlinkFailure records one level at which a Remove call's unlink pass
// (§4.6) had to retry; a pass adds one per such level. Remove retries across these; multierror
// aggregates them only for diagnostics exposed via List.Stats — they are
// never surfaced as a user-visible retriable error (§7: "There is no
// retriable user-visible error").
type unlinkFailure struct {
	level int
}

func (e *unlinkFailure) Error() string {
	return fmt.Sprintf("skiplist: unlink stalled at level %d, retry required", e.level)
}

// accumulateUnlinkRetries folds a new unlinkFailure into a running
// multierror.Error for later reporting via Stats.UnlinkDiagnostics.
func accumulateUnlinkRetries(acc *multierror.Error, level int) *multierror.Error {
	return multierror.Append(acc, &unlinkFailure{level: level})
}
