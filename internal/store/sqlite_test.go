package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestKV(t *testing.T) KV {
	t.Helper()
	kv, err := NewSQLite(filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestSQLiteKVRoundTrip(t *testing.T) {
	t.Parallel()

	kv := newTestKV(t)
	ctx := context.Background()

	if err := kv.Set(ctx, "sessions:u1", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := kv.Get(ctx, "sessions:u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Errorf("unexpected value: %s", got)
	}

	// Overwrite.
	if err := kv.Set(ctx, "sessions:u1", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("Set overwrite failed: %v", err)
	}
	got, err = kv.Get(ctx, "sessions:u1")
	if err != nil {
		t.Fatalf("Get after overwrite failed: %v", err)
	}
	if string(got) != `{"a":2}` {
		t.Errorf("unexpected overwritten value: %s", got)
	}
}

func TestSQLiteKVMissingKey(t *testing.T) {
	t.Parallel()

	kv := newTestKV(t)
	got, err := kv.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing key, got %s", got)
	}
}

func TestSQLiteKVDelete(t *testing.T) {
	t.Parallel()

	kv := newTestKV(t)
	ctx := context.Background()

	if err := kv.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := kv.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if got, _ := kv.Get(ctx, "k"); got != nil {
		t.Errorf("expected key to be gone, got %s", got)
	}
	// Deleting an absent key is fine.
	if err := kv.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete of absent key failed: %v", err)
	}
}
