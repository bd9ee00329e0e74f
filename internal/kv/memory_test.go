package kv

import (
	"context"
	"testing"
	"time"
)

func newTestMemory(now *time.Time) *Memory {
	m := NewMemory()
	m.now = func() time.Time { return *now }
	return m
}

func TestMemorySetNX(t *testing.T) {
	now := time.Now()
	m := newTestMemory(&now)
	ctx := context.Background()

	created, err := m.SetNX(ctx, "window:c1", time.Minute)
	if err != nil || !created {
		t.Fatalf("first SetNX = (%v, %v), want (true, nil)", created, err)
	}
	created, _ = m.SetNX(ctx, "window:c1", time.Minute)
	if created {
		t.Error("second SetNX created the key again")
	}

	// After expiry the key is free again.
	now = now.Add(2 * time.Minute)
	created, _ = m.SetNX(ctx, "window:c1", time.Minute)
	if !created {
		t.Error("SetNX after expiry did not create")
	}
}

func TestMemoryRPushTTLOnCreateOnly(t *testing.T) {
	now := time.Now()
	m := newTestMemory(&now)
	ctx := context.Background()

	if n, _ := m.RPush(ctx, "buffer:c1", "hello", time.Minute); n != 1 {
		t.Fatalf("first push length = %d, want 1", n)
	}
	now = now.Add(30 * time.Second)
	if n, _ := m.RPush(ctx, "buffer:c1", "there", time.Minute); n != 2 {
		t.Fatalf("second push length = %d, want 2", n)
	}

	// Expiry counts from creation; the second push must not extend it.
	now = now.Add(31 * time.Second)
	items, _ := m.LRange(ctx, "buffer:c1")
	if items != nil {
		t.Errorf("list survived past creation TTL: %v", items)
	}
}

func TestMemoryLRangeOrder(t *testing.T) {
	now := time.Now()
	m := newTestMemory(&now)
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c"} {
		m.RPush(ctx, "buffer:c1", v, time.Minute)
	}
	items, _ := m.LRange(ctx, "buffer:c1")
	if len(items) != 3 || items[0] != "a" || items[2] != "c" {
		t.Errorf("items = %v, want insertion order a b c", items)
	}
}

func TestMemoryRenameNX(t *testing.T) {
	now := time.Now()
	m := newTestMemory(&now)
	ctx := context.Background()

	m.RPush(ctx, "buffer:c1", "hello", time.Minute)

	ok, err := m.RenameNX(ctx, "buffer:c1", "process:c1")
	if err != nil || !ok {
		t.Fatalf("RenameNX = (%v, %v), want (true, nil)", ok, err)
	}
	if exists, _ := m.Exists(ctx, "buffer:c1"); exists {
		t.Error("src still present after rename")
	}
	items, _ := m.LRange(ctx, "process:c1")
	if len(items) != 1 || items[0] != "hello" {
		t.Errorf("dst items = %v", items)
	}

	// Absent src is a no-op.
	if ok, _ := m.RenameNX(ctx, "buffer:c1", "process:c2"); ok {
		t.Error("rename of absent src succeeded")
	}

	// Occupied dst refuses without side effects.
	m.RPush(ctx, "buffer:c2", "x", time.Minute)
	if ok, _ := m.RenameNX(ctx, "buffer:c2", "process:c1"); ok {
		t.Error("rename onto occupied dst succeeded")
	}
	if items, _ := m.LRange(ctx, "buffer:c2"); len(items) != 1 {
		t.Error("failed rename mutated src")
	}
}

func TestMemorySweep(t *testing.T) {
	now := time.Now()
	m := newTestMemory(&now)
	ctx := context.Background()

	m.SetNX(ctx, "short", time.Second)
	m.SetNX(ctx, "long", time.Hour)

	now = now.Add(time.Minute)
	purged, err := m.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
	if exists, _ := m.Exists(ctx, "long"); !exists {
		t.Error("unexpired key swept")
	}
}
