package catalog

import (
	"testing"

	"github.com/cloudimpl/distq/distributed/communication"
)

func TestApplyAccumulatesPartitionRowCounts(t *testing.T) {
	a := NewInMemoryApplier()

	first := &communication.CatalogUpdate{
		TargetTable:        "orders",
		PartitionRowCounts: map[string]int64{"2026-01-01": 100, "2026-01-02": 50},
	}
	if err := a.Apply(first); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	second := &communication.CatalogUpdate{
		TargetTable:        "orders",
		PartitionRowCounts: map[string]int64{"2026-01-01": 25},
	}
	if err := a.Apply(second); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	table, ok := a.Table("orders")
	if !ok {
		t.Fatalf("Table(orders) not found")
	}
	if table.PartitionRowCounts["2026-01-01"] != 125 {
		t.Fatalf("partition 2026-01-01 = %d, want 125", table.PartitionRowCounts["2026-01-01"])
	}
	if table.PartitionRowCounts["2026-01-02"] != 50 {
		t.Fatalf("partition 2026-01-02 = %d, want 50", table.PartitionRowCounts["2026-01-02"])
	}
	if table.LastUpdateCount != 2 {
		t.Fatalf("LastUpdateCount = %d, want 2", table.LastUpdateCount)
	}
}

func TestApplyRejectsNilOrUnnamedUpdate(t *testing.T) {
	a := NewInMemoryApplier()
	if err := a.Apply(nil); err == nil {
		t.Fatalf("expected an error applying a nil update")
	}
	if err := a.Apply(&communication.CatalogUpdate{}); err == nil {
		t.Fatalf("expected an error applying an update with no target table")
	}
}

func TestTableReturnsIndependentCopy(t *testing.T) {
	a := NewInMemoryApplier()
	if err := a.Apply(&communication.CatalogUpdate{
		TargetTable:        "orders",
		PartitionRowCounts: map[string]int64{"p1": 10},
	}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	snapshot, ok := a.Table("orders")
	if !ok {
		t.Fatalf("Table(orders) not found")
	}
	snapshot.PartitionRowCounts["p1"] = 9999

	fresh, _ := a.Table("orders")
	if fresh.PartitionRowCounts["p1"] != 10 {
		t.Fatalf("mutating a snapshot leaked into the applier's state: got %d, want 10", fresh.PartitionRowCounts["p1"])
	}
}

func TestTableUnknownReturnsFalse(t *testing.T) {
	a := NewInMemoryApplier()
	if _, ok := a.Table("nonexistent"); ok {
		t.Fatalf("Table(nonexistent) should report ok=false")
	}
}
