package ptt

import (
	"context"
	"testing"
	"time"
)

func TestControllerHoldModeStartsAndStops(t *testing.T) {
	var started, stopped bool
	var cancelled bool
	c := NewController(ModeHold, 50*time.Millisecond, 0,
		WithOnStart(func() { started = true }),
		WithOnStop(func(c bool) { stopped = true; cancelled = c }),
	)

	events := make(chan Event, 4)
	ctx, cancel := context.WithCancel(context.Background())

	base := time.Now()
	events <- Event{Kind: KeyDown, Timestamp: base}
	events <- Event{Kind: KeyUp, Timestamp: base.Add(200 * time.Millisecond)}
	close(events)

	done := make(chan struct{})
	go func() {
		c.Run(ctx, events, "")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("controller did not exit after channel closed")
	}
	cancel()

	if !started {
		t.Fatal("expected onStart to fire on key down")
	}
	if !stopped {
		t.Fatal("expected onStop to fire on key up")
	}
	if cancelled {
		t.Fatal("expected a 200ms hold to exceed min duration and not be cancelled")
	}
}

func TestControllerRejectsTooShortPress(t *testing.T) {
	var cancelled bool
	c := NewController(ModeHold, 500*time.Millisecond, 0,
		WithOnStop(func(c bool) { cancelled = c }),
	)

	events := make(chan Event, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := time.Now()
	events <- Event{Kind: KeyDown, Timestamp: base}
	events <- Event{Kind: KeyUp, Timestamp: base.Add(50 * time.Millisecond)}
	close(events)

	done := make(chan struct{})
	go func() {
		c.Run(ctx, events, "")
		close(done)
	}()
	<-done

	if !cancelled {
		t.Fatal("expected a sub-minDuration press to be treated as cancelled")
	}
}

func TestControllerToggleMode(t *testing.T) {
	startCount := 0
	c := NewController(ModeToggle, 0, 0, WithOnStart(func() { startCount++ }))

	events := make(chan Event, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := time.Now()
	events <- Event{Kind: KeyDown, Timestamp: base}
	events <- Event{Kind: KeyDown, Timestamp: base.Add(time.Second)}
	close(events)

	done := make(chan struct{})
	go func() {
		c.Run(ctx, events, "")
		close(done)
	}()
	<-done

	if startCount != 1 {
		t.Fatalf("expected exactly one recording start in toggle mode, got %d", startCount)
	}
}

func TestControllerCancelComboStopsRecording(t *testing.T) {
	var stopped, cancelled bool
	c := NewController(ModeHold, 50*time.Millisecond, 0,
		WithOnStop(func(c bool) { stopped = true; cancelled = c }),
	)

	events := make(chan Event, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := time.Now()
	events <- Event{Kind: KeyDown, Combo: "alt+space", Timestamp: base}
	events <- Event{Kind: KeyDown, Combo: "esc", Timestamp: base.Add(time.Second)}
	close(events)

	done := make(chan struct{})
	go func() {
		c.Run(ctx, events, "esc")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("controller did not exit after channel closed")
	}

	if !stopped {
		t.Fatal("expected onStop to fire when the cancel combo is pressed mid-recording")
	}
	if !cancelled {
		t.Fatal("expected the cancel combo to report the recording as cancelled")
	}
}

func TestControllerKeyTimeoutReturnsToIdle(t *testing.T) {
	c := NewController(ModeHold, 0, 30*time.Millisecond)
	events := make(chan Event)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := c.Run(ctx, events, "")
	if err != nil {
		t.Fatalf("expected nil error on key timeout, got %v", err)
	}
	if c.State() != Idle {
		t.Fatalf("expected IDLE after key timeout, got %s", c.State())
	}
}
