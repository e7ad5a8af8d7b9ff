package coordinator

import (
	"context"

	"github.com/cloudimpl/distq/core"
)

// RootFragmentExecutor is the opaque, out-of-scope local executor for the
// coordinator (root) fragment. The coordinator only depends on this
// interface; a real implementation lives in the (out of scope) per-fragment
// executor. It is not safe to call GetNext concurrently with itself, per
// §4.4 and the original Coordinator::GetNext contract.
type RootFragmentExecutor interface {
	// Open starts the root fragment. It may block until the fragment has
	// begun producing rows or has failed to start.
	Open(ctx context.Context) error

	// GetNext returns the next row batch, or a nil batch to signal EOS.
	// The returned batch is owned by the executor and is only valid
	// until the next call to GetNext.
	GetNext(ctx context.Context) (*core.RowBatch, error)

	// Cancel signals the executor to stop; it must not block on the
	// network or on GetNext callers. After Cancel, GetNext eventually
	// returns (nil, nil) to signal EOS.
	Cancel()

	// RowDesc names the columns of the batches this executor produces.
	RowDesc() []string
}
