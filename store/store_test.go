package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestKVImplementations(t *testing.T) {
	tests := []struct {
		name string
		kv   func(t *testing.T) KV
	}{
		{
			name: "memory",
			kv:   func(t *testing.T) KV { return NewMemory() },
		},
		{
			name: "file",
			kv: func(t *testing.T) KV {
				return NewFile(filepath.Join(t.TempDir(), "state.json"))
			},
		},
		{
			name: "redis",
			kv: func(t *testing.T) KV {
				mr := miniredis.RunT(t)
				return NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := tt.kv(t)
			ctx := context.Background()

			if _, err := kv.Get(ctx, "missing"); err != ErrNotFound {
				t.Errorf("Get missing = %v, want ErrNotFound", err)
			}

			if err := kv.Set(ctx, "k", "v1"); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if v, err := kv.Get(ctx, "k"); err != nil || v != "v1" {
				t.Errorf("Get = %q, %v, want v1", v, err)
			}

			// Last write wins.
			if err := kv.Set(ctx, "k", "v2"); err != nil {
				t.Fatalf("Set overwrite: %v", err)
			}
			if v, _ := kv.Get(ctx, "k"); v != "v2" {
				t.Errorf("Get after overwrite = %q, want v2", v)
			}

			if err := kv.Remove(ctx, "k"); err != nil {
				t.Fatalf("Remove: %v", err)
			}
			if _, err := kv.Get(ctx, "k"); err != ErrNotFound {
				t.Errorf("Get after remove = %v, want ErrNotFound", err)
			}

			// Removing an absent key is not an error.
			if err := kv.Remove(ctx, "never-set"); err != nil {
				t.Errorf("Remove absent = %v, want nil", err)
			}
		})
	}
}

func TestFileSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	if err := NewFile(path).Set(ctx, "k", "v"); err != nil {
		t.Fatal(err)
	}

	// A fresh instance over the same path sees the value.
	if v, err := NewFile(path).Get(ctx, "k"); err != nil || v != "v" {
		t.Errorf("Get after reopen = %q, %v, want v", v, err)
	}
}

func TestFileTreatsCorruptionAsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := NewFile(path)
	ctx := context.Background()

	if _, err := f.Get(ctx, "k"); err != ErrNotFound {
		t.Errorf("Get on corrupted file = %v, want ErrNotFound", err)
	}

	// Writing repairs the file.
	if err := f.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set on corrupted file: %v", err)
	}
	if v, _ := f.Get(ctx, "k"); v != "v" {
		t.Errorf("Get after repair = %q, want v", v)
	}
}

func TestKeyBuildersScopeByUserAndExam(t *testing.T) {
	if Key.AttemptDraftKey("u1", "e1") == Key.AttemptDraftKey("u2", "e1") {
		t.Error("draft keys for different users collide")
	}
	if Key.AttemptDraftKey("u1", "e1") == Key.AttemptDraftKey("u1", "e2") {
		t.Error("draft keys for different exams collide")
	}
	if Key.AttemptDraftKey("u1", "e1") == Key.AttemptTimerKey("u1", "e1") {
		t.Error("draft and timer keys collide")
	}
}
