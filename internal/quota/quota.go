// Package quota tracks per-identity operation counts over hourly, daily and
// monthly windows. Windows roll over lazily: a counter whose window started
// longer ago than the window length reads as zero on the next access.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aliskhannn/image-transcoder/internal/tier"
)

// ErrQuotaExceeded is returned when an operation would exceed a window limit.
var ErrQuotaExceeded = errors.New("quota exceeded")

// KindCompress is the operation kind counted for every submitted file.
const KindCompress = "compress"

// Window is a rolling accounting period.
type Window string

const (
	Hourly  Window = "hourly"
	Daily   Window = "daily"
	Monthly Window = "monthly"
)

// Windows lists every tracked window, shortest first.
var Windows = []Window{Hourly, Daily, Monthly}

// Length returns the duration of the window.
func (w Window) Length() time.Duration {
	switch w {
	case Hourly:
		return time.Hour
	case Daily:
		return 24 * time.Hour
	case Monthly:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

func (w Window) limit(l tier.Limits) int {
	switch w {
	case Hourly:
		return l.Hourly
	case Daily:
		return l.Daily
	case Monthly:
		return l.Monthly
	default:
		return 0
	}
}

// Counter is the stored state of one window.
type Counter struct {
	Start time.Time
	Count int
}

// current returns the counter as seen at now, reset if its window has elapsed.
func (c Counter) current(now time.Time, length time.Duration) Counter {
	if c.Start.IsZero() || !now.Before(c.Start.Add(length)) {
		return Counter{Start: now}
	}
	return c
}

// Store persists counters. Add must roll over and increment atomically.
type Store interface {
	Get(ctx context.Context, key string) (Counter, error)
	Add(ctx context.Context, key string, n int, now time.Time, length time.Duration) (Counter, error)
}

// Identity is who an operation is attributed to.
type Identity struct {
	ID   string
	Tier string
}

// limitsProvider supplies tier ceilings.
type limitsProvider interface {
	Limits(tier string) tier.Limits
}

// Decision is the answer to CanPerform. Remaining is the smallest headroom across
// limited windows, or -1 when no window is limited.
type Decision struct {
	Allowed   bool
	Remaining int
	Exhausted Window // first window that denied the request
}

// WindowUsage describes one window for display.
type WindowUsage struct {
	Window    Window    `json:"window"`
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetsAt  time.Time `json:"resetsAt"`
}

// Ledger evaluates and records usage against tier limits.
type Ledger struct {
	store  Store
	limits limitsProvider
	now    func() time.Time
}

// NewLedger creates a Ledger.
func NewLedger(store Store, limits limitsProvider) *Ledger {
	return &Ledger{store: store, limits: limits, now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func key(kind string, id Identity, w Window) string {
	return kind + ":" + id.ID + ":" + string(w)
}

// CanPerform reports whether n more operations of kind fit in every window.
func (l *Ledger) CanPerform(ctx context.Context, id Identity, kind string, n int) (Decision, error) {
	usage, err := l.Usage(ctx, id, kind)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Allowed: true, Remaining: -1}
	for _, u := range usage {
		if u.Limit <= 0 {
			continue
		}
		if d.Remaining < 0 || u.Remaining < d.Remaining {
			d.Remaining = u.Remaining
		}
		if n > u.Remaining && d.Allowed {
			d.Allowed = false
			d.Exhausted = u.Window
		}
	}
	return d, nil
}

// Record adds n operations of kind to every window.
func (l *Ledger) Record(ctx context.Context, id Identity, kind string, n int) error {
	now := l.now()
	for _, w := range Windows {
		if _, err := l.store.Add(ctx, key(kind, id, w), n, now, w.Length()); err != nil {
			return fmt.Errorf("record %s usage: %w", w, err)
		}
	}
	return nil
}

// Usage returns the current state of every window for kind.
func (l *Ledger) Usage(ctx context.Context, id Identity, kind string) ([]WindowUsage, error) {
	limits := l.limits.Limits(id.Tier)
	now := l.now()

	out := make([]WindowUsage, 0, len(Windows))
	for _, w := range Windows {
		stored, err := l.store.Get(ctx, key(kind, id, w))
		if err != nil {
			return nil, fmt.Errorf("read %s usage: %w", w, err)
		}
		c := stored.current(now, w.Length())

		u := WindowUsage{Window: w, Limit: w.limit(limits), Used: c.Count, Remaining: -1, ResetsAt: c.Start.Add(w.Length())}
		if u.Limit > 0 {
			u.Remaining = max(u.Limit-c.Count, 0)
		}
		out = append(out, u)
	}
	return out, nil
}
