package enginepool

import (
	"context"
	"testing"
)

func TestNew_BuildsRequestedEngineCount(t *testing.T) {
	ctx := context.Background()
	pool, err := New(ctx, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer pool.Close(ctx)

	if pool.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", pool.Len())
	}
}

func TestNew_ClampsBelowOneToOne(t *testing.T) {
	ctx := context.Background()
	pool, err := New(ctx, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer pool.Close(ctx)

	if pool.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", pool.Len())
	}
}

func TestNext_RoundRobinsAcrossSlots(t *testing.T) {
	ctx := context.Background()
	pool, err := New(ctx, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer pool.Close(ctx)

	var seen []*Slot
	for i := 0; i < 6; i++ {
		seen = append(seen, pool.Next())
	}

	for i := 0; i < 3; i++ {
		if seen[i] != seen[i+3] {
			t.Fatalf("slot at offset %d did not repeat after one full rotation", i)
		}
	}
	if seen[0] == seen[1] || seen[1] == seen[2] {
		t.Fatal("consecutive Next() calls returned the same slot")
	}
}

func TestSlot_IncrementEpochIsMonotonic(t *testing.T) {
	ctx := context.Background()
	pool, err := New(ctx, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer pool.Close(ctx)

	slot := pool.Slot(0)
	if slot.Epoch() != 0 {
		t.Fatalf("initial epoch = %d, want 0", slot.Epoch())
	}
	slot.IncrementEpoch()
	slot.IncrementEpoch()
	if slot.Epoch() != 2 {
		t.Fatalf("epoch after two increments = %d, want 2", slot.Epoch())
	}
}

func TestPool_SharesOneCompilationCache(t *testing.T) {
	ctx := context.Background()
	pool, err := New(ctx, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer pool.Close(ctx)

	if pool.Cache() == nil {
		t.Fatal("Cache() returned nil")
	}
}
