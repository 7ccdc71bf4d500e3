package poller

import (
	"context"
	"time"
)

type Event interface {
	Timestamp() time.Time
}

type event struct{ timestamp time.Time }

func (e event) Timestamp() time.Time { return e.timestamp }

type tickEvent struct {
	event
}

type changeEvent struct {
	event
}

// alarmClock wakes the poll loop on its tick or on a subscription change,
// whichever comes first.
type alarmClock struct {
	interval time.Duration
	changes  <-chan struct{}
	now      func() time.Time
}

func newAlarmClock(interval time.Duration, changes <-chan struct{}, now func() time.Time) *alarmClock {
	return &alarmClock{interval, changes, now}
}

// Wait blocks until the next tick or change. With tick false only a change
// wakes it. ok is false when ctx is done.
func (a *alarmClock) Wait(ctx context.Context, tick bool) (evt Event, ok bool) {
	var tickC <-chan time.Time
	if tick {
		timer := time.NewTimer(a.interval)
		defer timer.Stop()
		tickC = timer.C
	}

	select {
	case <-tickC:
		return tickEvent{event{a.now()}}, true
	case <-a.changes:
		return changeEvent{event{a.now()}}, true
	case <-ctx.Done():
		return nil, false
	}
}

// Sleep pauses for d regardless of changes. It returns false when ctx is done first.
func (a *alarmClock) Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
