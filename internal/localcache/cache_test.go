package localcache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type mirrorPayload struct {
	Name    string `json:"name"`
	Mileage int64  `json:"mileage"`
}

func TestStoreLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache := NewMemory()
	stored := mirrorPayload{Name: "corolla", Mileage: 120000}

	if err := Store(ctx, cache, VehiclesKey("garage-a"), stored); err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}

	var loaded mirrorPayload
	if err := Load(ctx, cache, VehiclesKey("garage-a"), &loaded); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if loaded != stored {
		t.Fatalf("round trip mismatch: got %+v want %+v", loaded, stored)
	}
}

func TestLoadMissingKeyReturnsMiss(t *testing.T) {
	var loaded mirrorPayload
	err := Load(context.Background(), NewMemory(), VehiclesKey("garage-a"), &loaded)
	if !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
}

func TestLoadEvictsSchemaVersionMismatch(t *testing.T) {
	ctx := context.Background()
	cache := NewMemory()
	key := VehiclesKey("garage-a")

	stale, err := json.Marshal(record{
		SchemaVersion: SchemaVersion + 1,
		StoredAtUnix:  1,
		Payload:       json.RawMessage(`{"name":"old"}`),
	})
	if err != nil {
		t.Fatalf("failed to encode stale record: %v", err)
	}
	if err := cache.Set(ctx, key, stale); err != nil {
		t.Fatalf("failed to seed stale record: %v", err)
	}

	var loaded mirrorPayload
	if err := Load(ctx, cache, key, &loaded); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss for version mismatch, got %v", err)
	}
	// The stale record is gone, not just skipped.
	if _, err := cache.Get(ctx, key); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected eviction after mismatch, got %v", err)
	}
}

func TestLoadEvictsUndecodableRecord(t *testing.T) {
	ctx := context.Background()
	cache := NewMemory()
	key := ServiceLogsKey("garage-a")

	if err := cache.Set(ctx, key, []byte("not json")); err != nil {
		t.Fatalf("failed to seed corrupt record: %v", err)
	}

	var loaded mirrorPayload
	if err := Load(ctx, cache, key, &loaded); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss for corrupt record, got %v", err)
	}
	if _, err := cache.Get(ctx, key); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected eviction after corrupt record, got %v", err)
	}
}

func TestMemoryCacheDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	cache := NewMemory()
	if err := cache.Delete(ctx, "absent"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if err := cache.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}
	if err := cache.Delete(ctx, "k"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if _, err := cache.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after delete, got %v", err)
	}
}
