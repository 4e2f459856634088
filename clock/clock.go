// Package clock implements the wall-clock-anchored countdown that enforces
// an attempt's hard deadline. Remaining time is always recomputed from the
// anchor, never accumulated from observed ticks, so a suspended or throttled
// host self-corrects on the next poll.
package clock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/proctorly/examsession/store"
)

// DefaultInterval is the poll interval between remaining-time recomputes.
const DefaultInterval = 250 * time.Millisecond

// Snapshot is the persisted countdown state. SavedAt is unix milliseconds.
type Snapshot struct {
	Remaining int   `json:"remaining"`
	SavedAt   int64 `json:"saved_at"`
}

// Tick is one observation of the countdown.
type Tick struct {
	Remaining int
	Display   string  // zero-padded MM:SS
	Progress  float64 // completion percent in [0,100]
}

// Options configures a Countdown.
type Options struct {
	DurationSec int
	// RestoreKey scopes the persisted snapshot to one (user, exam) pair.
	// Empty disables persistence.
	RestoreKey string
	Store      store.KV
	Interval   time.Duration
	Now        func() time.Time
	Logger     zerolog.Logger
}

// Countdown is a running countdown. Obtain one via Start.
type Countdown struct {
	opts      Options
	anchor    time.Time
	remaining atomic.Int64

	ticks    chan Tick
	expired  chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	fireOnce sync.Once

	log zerolog.Logger
}

// Start restores any persisted snapshot under RestoreKey, anchors the
// countdown, and begins polling. The returned Countdown is already running.
func Start(ctx context.Context, opts Options) *Countdown {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	cd := &Countdown{
		opts:    opts,
		ticks:   make(chan Tick, 1),
		expired: make(chan struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		log:     opts.Logger.With().Str("component", "clock").Logger(),
	}

	now := opts.Now()
	restored := cd.restore(ctx, now)
	// Anchor in the past by the time already consumed, so elapsed real time
	// determines remaining, not ticks observed by this process.
	cd.anchor = now.Add(-time.Duration(opts.DurationSec-restored) * time.Second)
	cd.remaining.Store(int64(restored))

	go cd.run(ctx)

	return cd
}

// restore reads the persisted snapshot and returns the effective remaining
// seconds, falling back to the full duration when the snapshot is absent,
// corrupted, or out of bounds for this exam.
func (cd *Countdown) restore(ctx context.Context, now time.Time) int {
	if cd.opts.Store == nil || cd.opts.RestoreKey == "" {
		return cd.opts.DurationSec
	}

	raw, err := cd.opts.Store.Get(ctx, cd.opts.RestoreKey)
	if err != nil {
		return cd.opts.DurationSec
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		cd.log.Warn().Err(err).Msg("Discarding corrupted countdown snapshot")
		return cd.opts.DurationSec
	}

	// Bounds check rejects stale values from a different, longer exam.
	if snap.Remaining < 0 || snap.Remaining > cd.opts.DurationSec {
		cd.log.Warn().
			Int("remaining", snap.Remaining).
			Int("duration", cd.opts.DurationSec).
			Msg("Discarding out-of-bounds countdown snapshot")
		return cd.opts.DurationSec
	}

	// Subtract the wall time that passed since the snapshot was taken,
	// including time spent with the client closed.
	remaining := snap.Remaining
	if snap.SavedAt > 0 {
		elapsed := int(now.UnixMilli()-snap.SavedAt) / 1000
		if elapsed > 0 {
			remaining -= elapsed
		}
	}
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (cd *Countdown) run(ctx context.Context) {
	defer close(cd.done)

	// First observation immediately, so a restored-at-zero countdown
	// expires without waiting for the ticker.
	if cd.step(ctx) {
		return
	}

	ticker := time.NewTicker(cd.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cd.stop:
			return
		case <-ticker.C:
			if cd.step(ctx) {
				return
			}
		}
	}
}

// step recomputes remaining time, persists the snapshot, and publishes a
// tick. It reports true once the countdown has expired.
func (cd *Countdown) step(ctx context.Context) bool {
	now := cd.opts.Now()
	remaining := RemainingAt(now, cd.anchor, cd.opts.DurationSec)
	cd.remaining.Store(int64(remaining))

	cd.persist(ctx, remaining, now)

	tick := Tick{
		Remaining: remaining,
		Display:   FormatRemaining(remaining),
		Progress:  ProgressPercent(remaining, cd.opts.DurationSec),
	}

	// Latest tick wins; a slow consumer never stalls the countdown.
	select {
	case cd.ticks <- tick:
	default:
		select {
		case <-cd.ticks:
		default:
		}
		select {
		case cd.ticks <- tick:
		default:
		}
	}

	if remaining == 0 {
		cd.fireOnce.Do(func() { close(cd.expired) })
		return true
	}
	return false
}

// persist writes the snapshot best-effort. A broken store only degrades
// resume fidelity.
func (cd *Countdown) persist(ctx context.Context, remaining int, now time.Time) {
	if cd.opts.Store == nil || cd.opts.RestoreKey == "" {
		return
	}
	raw, err := json.Marshal(Snapshot{Remaining: remaining, SavedAt: now.UnixMilli()})
	if err != nil {
		return
	}
	if err := cd.opts.Store.Set(ctx, cd.opts.RestoreKey, string(raw)); err != nil {
		cd.log.Warn().Err(err).Msg("Countdown snapshot save skipped")
	}
}

// Ticks streams countdown observations. Only the latest unread tick is
// retained.
func (cd *Countdown) Ticks() <-chan Tick {
	return cd.ticks
}

// Expired is closed exactly once when remaining time reaches zero.
func (cd *Countdown) Expired() <-chan struct{} {
	return cd.expired
}

// Remaining returns the most recently computed remaining seconds.
func (cd *Countdown) Remaining() int {
	return int(cd.remaining.Load())
}

// Stop halts polling and waits for the poll goroutine to finish, so no
// snapshot write is in flight once Stop returns. It does not clear the
// persisted snapshot, so a later restore resumes where the countdown left
// off. Idempotent.
func (cd *Countdown) Stop() {
	cd.stopOnce.Do(func() { close(cd.stop) })
	<-cd.done
}

// ClearSnapshot removes the persisted snapshot under key, used after a
// successful submission.
func ClearSnapshot(ctx context.Context, kv store.KV, key string) error {
	if kv == nil || key == "" {
		return nil
	}
	return kv.Remove(ctx, key)
}

// RemainingAt computes remaining whole seconds at now for a countdown
// anchored at anchor, clamped to [0, durationSec].
func RemainingAt(now, anchor time.Time, durationSec int) int {
	elapsed := int(now.Sub(anchor) / time.Second)
	remaining := durationSec - elapsed
	if remaining < 0 {
		return 0
	}
	if remaining > durationSec {
		return durationSec
	}
	return remaining
}

// FormatRemaining renders seconds as zero-padded MM:SS.
func FormatRemaining(sec int) string {
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}

// ProgressPercent returns how much of the duration has been consumed, in
// [0,100].
func ProgressPercent(remaining, durationSec int) float64 {
	if durationSec <= 0 {
		return 100
	}
	p := 100 - (float64(remaining)/float64(durationSec))*100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
