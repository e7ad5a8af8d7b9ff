package coordinator

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cloudimpl/distq/core"
	"github.com/cloudimpl/distq/distributed/communication"
)

// FinalizeQuery applies the accumulated file moves for an INSERT-style
// query and prepares the catalog update the caller must apply afterward.
// It runs at most once per query, whether triggered by Wait (sink-only
// queries) or GetNext's EOS path (queries with a root fragment that also
// happen to need finalization). Grounded on coordinator.h's FinalizeQuery
// (lines 532-560).
func (c *Coordinator) FinalizeQuery() core.Status {
	if !c.needsFinalization {
		return c.currentStatus()
	}
	if !c.finalized.CompareAndSwap(false, true) {
		return c.currentStatus()
	}

	c.mu.Lock()
	moves := append([]communication.FileMove(nil), c.filesToMove...)
	rowCounts := make(map[string]int64, len(c.partitionRowCounts))
	for k, v := range c.partitionRowCounts {
		rowCounts[k] = v
	}
	c.mu.Unlock()

	for _, mv := range moves {
		if err := applyFileMove(mv); err != nil {
			return c.UpdateStatus(core.Errorf("finalize: %w", err), nil)
		}
	}

	c.mu.Lock()
	c.catalogUpdate = &communication.CatalogUpdate{
		TargetTable:        c.request.FinalizeParams.TargetTable,
		PartitionRowCounts: rowCounts,
		UpdatedAt:          time.Now(),
	}
	c.mu.Unlock()

	core.GetTracer().Info(core.TraceComponentFinalize, "finalize complete",
		core.TraceContext("files_moved", len(moves), "partitions", len(rowCounts)))

	return c.currentStatus()
}

// applyFileMove renames src to dest, or deletes src if dest is empty. It
// falls back to copy-then-remove when the rename crosses a filesystem
// boundary, the same fallback os.Rename callers commonly need since Go's
// os.Rename is a thin wrapper over rename(2) and does not do this itself.
func applyFileMove(mv communication.FileMove) error {
	if mv.Dest == "" {
		if err := os.Remove(mv.Src); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", mv.Src, err)
		}
		return nil
	}

	if err := os.Rename(mv.Src, mv.Dest); err == nil {
		return nil
	}

	src, err := os.Open(mv.Src)
	if err != nil {
		return fmt.Errorf("move %s -> %s: %w", mv.Src, mv.Dest, err)
	}
	defer src.Close()

	dst, err := os.Create(mv.Dest)
	if err != nil {
		return fmt.Errorf("move %s -> %s: %w", mv.Src, mv.Dest, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("move %s -> %s: %w", mv.Src, mv.Dest, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("move %s -> %s: %w", mv.Src, mv.Dest, err)
	}
	return os.Remove(mv.Src)
}

// PrepareCatalogUpdate returns the catalog update finalization produced, if
// any. It is only meaningful after Wait/GetNext has returned an OK status
// for a query that needed finalization.
func (c *Coordinator) PrepareCatalogUpdate() (*communication.CatalogUpdate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.catalogUpdate == nil {
		return nil, false
	}
	cp := *c.catalogUpdate
	return &cp, true
}
