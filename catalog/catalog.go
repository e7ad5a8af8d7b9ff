// Package catalog holds the small surface the coordinator's finalizer
// needs from a catalog service: applying the row-count delta a DML query
// produced. The catalog service itself (table/schema/partition DDL) is out
// of scope; only the consumer side of a CatalogUpdate lives here.
package catalog

import (
	"fmt"
	"sync"

	"github.com/cloudimpl/distq/distributed/communication"
)

// Applier applies a coordinator's finalized CatalogUpdate to wherever
// table metadata lives.
type Applier interface {
	Apply(update *communication.CatalogUpdate) error
}

// InMemoryApplier accumulates per-table partition row counts in memory. It
// is what cmd/coordinatord uses in place of a real metadata store,
// grounded on catalog/types.go's flat,
// JSON-tag-style metadata structs from the teacher, trimmed to only the
// fields a CatalogUpdate carries.
type InMemoryApplier struct {
	mu     sync.Mutex
	tables map[string]*TableMetadata
}

// TableMetadata is one table's accumulated partition row counts.
type TableMetadata struct {
	Name               string           `json:"name"`
	PartitionRowCounts map[string]int64 `json:"partition_row_counts"`
	LastUpdateCount    int              `json:"last_update_count"`
}

// NewInMemoryApplier creates an empty in-memory catalog.
func NewInMemoryApplier() *InMemoryApplier {
	return &InMemoryApplier{tables: make(map[string]*TableMetadata)}
}

// Apply merges update into the named table's partition row counts.
func (a *InMemoryApplier) Apply(update *communication.CatalogUpdate) error {
	if update == nil {
		return fmt.Errorf("catalog: nil update")
	}
	if update.TargetTable == "" {
		return fmt.Errorf("catalog: update has no target table")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	table, ok := a.tables[update.TargetTable]
	if !ok {
		table = &TableMetadata{Name: update.TargetTable, PartitionRowCounts: make(map[string]int64)}
		a.tables[update.TargetTable] = table
	}
	for partition, n := range update.PartitionRowCounts {
		table.PartitionRowCounts[partition] += n
	}
	table.LastUpdateCount++
	return nil
}

// Table returns a copy of one table's metadata, for tests and status
// endpoints.
func (a *InMemoryApplier) Table(name string) (TableMetadata, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tables[name]
	if !ok {
		return TableMetadata{}, false
	}
	cp := TableMetadata{Name: t.Name, LastUpdateCount: t.LastUpdateCount, PartitionRowCounts: make(map[string]int64, len(t.PartitionRowCounts))}
	for k, v := range t.PartitionRowCounts {
		cp.PartitionRowCounts[k] = v
	}
	return cp, true
}
