package clock

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/proctorly/examsession/store"
)

// fakeNow is a controllable wall clock.
type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeNow() *fakeNow {
	return &fakeNow{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func putSnapshot(t *testing.T, kv store.KV, key string, snap Snapshot) {
	t.Helper()
	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	if err := kv.Set(context.Background(), key, string(raw)); err != nil {
		t.Fatalf("set snapshot: %v", err)
	}
}

func TestFormatRemaining(t *testing.T) {
	tests := []struct {
		sec  int
		want string
	}{
		{0, "00:00"},
		{5, "00:05"},
		{60, "01:00"},
		{61, "01:01"},
		{599, "09:59"},
		{3600, "60:00"},
		{-3, "00:00"},
	}
	for _, tt := range tests {
		if got := FormatRemaining(tt.sec); got != tt.want {
			t.Errorf("FormatRemaining(%d) = %q, want %q", tt.sec, got, tt.want)
		}
	}
}

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		remaining int
		duration  int
		want      float64
	}{
		{60, 60, 0},
		{30, 60, 50},
		{0, 60, 100},
		{45, 60, 25},
		{0, 0, 100},
	}
	for _, tt := range tests {
		if got := ProgressPercent(tt.remaining, tt.duration); got != tt.want {
			t.Errorf("ProgressPercent(%d, %d) = %v, want %v", tt.remaining, tt.duration, got, tt.want)
		}
	}
}

func TestRemainingAt(t *testing.T) {
	anchor := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		elapsed time.Duration
		want    int
	}{
		{"start", 0, 60},
		{"mid", 25 * time.Second, 35},
		{"sub-second truncates", 25500 * time.Millisecond, 35},
		{"exact end", 60 * time.Second, 0},
		{"past end", 90 * time.Second, 0},
		{"clock went backwards", -5 * time.Second, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RemainingAt(anchor.Add(tt.elapsed), anchor, 60); got != tt.want {
				t.Errorf("RemainingAt = %d, want %d", got, tt.want)
			}
		})
	}
}

// Restoring a fresh snapshot must yield exactly the saved remaining with no
// jump in either direction.
func TestRestoreNoJump(t *testing.T) {
	for _, remaining := range []int{0, 1, 30, 59, 60} {
		fn := newFakeNow()
		kv := store.NewMemory()
		key := "user:u1:exam:e1:timer"
		putSnapshot(t, kv, key, Snapshot{Remaining: remaining, SavedAt: fn.Now().UnixMilli()})

		cd := Start(context.Background(), Options{
			DurationSec: 60,
			RestoreKey:  key,
			Store:       kv,
			Interval:    time.Hour, // no background ticks during assertion
			Now:         fn.Now,
			Logger:      zerolog.Nop(),
		})
		if got := cd.Remaining(); got != remaining {
			t.Errorf("restored remaining = %d, want %d", got, remaining)
		}
		cd.Stop()
	}
}

// Time that passed while the client was closed is subtracted on restore:
// {remaining: 10, saved 5s ago} with a 60s exam resumes at 5.
func TestRestoreSubtractsElapsedSinceSave(t *testing.T) {
	fn := newFakeNow()
	kv := store.NewMemory()
	key := "user:u1:exam:e1:timer"
	putSnapshot(t, kv, key, Snapshot{Remaining: 10, SavedAt: fn.Now().Add(-5 * time.Second).UnixMilli()})

	cd := Start(context.Background(), Options{
		DurationSec: 60,
		RestoreKey:  key,
		Store:       kv,
		Interval:    time.Hour,
		Now:         fn.Now,
		Logger:      zerolog.Nop(),
	})
	defer cd.Stop()

	if got := cd.Remaining(); got != 5 {
		t.Errorf("restored remaining = %d, want 5", got)
	}
}

func TestRestoreRejectsBadSnapshots(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"out of bounds high", `{"remaining":120,"saved_at":1}`},
		{"negative", `{"remaining":-4,"saved_at":1}`},
		{"corrupted", `{{{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := newFakeNow()
			kv := store.NewMemory()
			key := "user:u1:exam:e1:timer"
			if err := kv.Set(context.Background(), key, tt.raw); err != nil {
				t.Fatal(err)
			}

			cd := Start(context.Background(), Options{
				DurationSec: 60,
				RestoreKey:  key,
				Store:       kv,
				Interval:    time.Hour,
				Now:         fn.Now,
				Logger:      zerolog.Nop(),
			})
			defer cd.Stop()

			if got := cd.Remaining(); got != 60 {
				t.Errorf("remaining after rejected snapshot = %d, want fresh 60", got)
			}
		})
	}
}

func TestExpiryFiresExactlyOnce(t *testing.T) {
	fn := newFakeNow()
	cd := Start(context.Background(), Options{
		DurationSec: 2,
		Interval:    2 * time.Millisecond,
		Now:         fn.Now,
		Logger:      zerolog.Nop(),
	})
	defer cd.Stop()

	fn.Advance(3 * time.Second)

	select {
	case <-cd.Expired():
	case <-time.After(time.Second):
		t.Fatal("countdown never expired")
	}

	// Closed channel: a second read must not block either.
	select {
	case <-cd.Expired():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Expired not closed")
	}

	if got := cd.Remaining(); got != 0 {
		t.Errorf("remaining after expiry = %d, want 0", got)
	}
}

func TestTickPersistsSnapshot(t *testing.T) {
	kv := store.NewMemory()
	key := "user:u1:exam:e1:timer"

	cd := Start(context.Background(), Options{
		DurationSec: 60,
		RestoreKey:  key,
		Store:       kv,
		Interval:    2 * time.Millisecond,
		Logger:      zerolog.Nop(),
	})
	defer cd.Stop()

	deadline := time.Now().Add(time.Second)
	for {
		raw, err := kv.Get(context.Background(), key)
		if err == nil {
			var snap Snapshot
			if err := json.Unmarshal([]byte(raw), &snap); err != nil {
				t.Fatalf("unmarshal persisted snapshot: %v", err)
			}
			if snap.Remaining < 0 || snap.Remaining > 60 {
				t.Errorf("persisted remaining %d out of bounds", snap.Remaining)
			}
			if snap.SavedAt == 0 {
				t.Error("persisted snapshot has no saved_at")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("snapshot never persisted")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestTicksCarryDisplayAndProgress(t *testing.T) {
	fn := newFakeNow()
	cd := Start(context.Background(), Options{
		DurationSec: 120,
		Interval:    2 * time.Millisecond,
		Now:         fn.Now,
		Logger:      zerolog.Nop(),
	})
	defer cd.Stop()

	fn.Advance(30 * time.Second)

	deadline := time.Now().Add(time.Second)
	for {
		select {
		case tick := <-cd.Ticks():
			if tick.Remaining != 90 {
				continue // earlier tick, keep draining
			}
			if tick.Display != "01:30" {
				t.Errorf("Display = %q, want 01:30", tick.Display)
			}
			if tick.Progress != 25 {
				t.Errorf("Progress = %v, want 25", tick.Progress)
			}
			return
		case <-time.After(time.Until(deadline)):
			t.Fatal("never observed the advanced tick")
		}
	}
}

func TestClearSnapshot(t *testing.T) {
	kv := store.NewMemory()
	key := "user:u1:exam:e1:timer"
	putSnapshot(t, kv, key, Snapshot{Remaining: 30, SavedAt: 1})

	if err := ClearSnapshot(context.Background(), kv, key); err != nil {
		t.Fatalf("ClearSnapshot: %v", err)
	}
	if _, err := kv.Get(context.Background(), key); err != store.ErrNotFound {
		t.Errorf("snapshot still present after clear, err = %v", err)
	}
}

// gatedKV blocks its first Set until released, modelling a slow backend
// with a snapshot write in flight.
type gatedKV struct {
	store.KV
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedKV() *gatedKV {
	return &gatedKV{
		KV:      store.NewMemory(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedKV) Set(ctx context.Context, key, value string) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.KV.Set(ctx, key, value)
}

// A snapshot write that is in flight when Stop is called must land before
// Stop returns, so clearing the snapshot afterwards leaves nothing behind.
func TestStopWaitsForInFlightWrites(t *testing.T) {
	kv := newGatedKV()
	key := "user:u1:exam:e1:timer"
	ctx := context.Background()

	cd := Start(ctx, Options{
		DurationSec: 60,
		RestoreKey:  key,
		Store:       kv,
		Interval:    time.Hour,
		Logger:      zerolog.Nop(),
	})

	<-kv.entered // first persist is mid-write

	stopped := make(chan struct{})
	go func() {
		cd.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a snapshot write was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(kv.release)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop never returned after the write landed")
	}

	if err := ClearSnapshot(ctx, kv, key); err != nil {
		t.Fatalf("ClearSnapshot: %v", err)
	}
	if raw, err := kv.Get(ctx, key); err != store.ErrNotFound {
		t.Errorf("snapshot present after Stop and clear: %q, err = %v", raw, err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	cd := Start(context.Background(), Options{
		DurationSec: 60,
		Interval:    time.Hour,
		Logger:      zerolog.Nop(),
	})
	cd.Stop()
	cd.Stop()
}
