package ptt

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is one of the seven push-to-talk states.
type State string

const (
	Idle               State = "IDLE"
	WaitingForKey      State = "WAITING_FOR_KEY"
	KeyPressed         State = "KEY_PRESSED"
	Recording          State = "RECORDING"
	RecordingStopped   State = "RECORDING_STOPPED"
	RecordingCancelled State = "RECORDING_CANCELLED"
	Processing         State = "PROCESSING"
)

// Mode selects how a key event maps to recording start/stop.
type Mode string

const (
	// ModeHold: recording runs only while the key is physically held down.
	ModeHold Mode = "hold"
	// ModeToggle: one press starts recording, the next press stops it.
	ModeToggle Mode = "toggle"
	// ModeHybrid: behaves like Hold for short presses and like Toggle once
	// the key has been held past a threshold, so a deliberate long-press
	// can be released without losing the recording.
	ModeHybrid Mode = "hybrid"
)

// Controller drives the seven-state PTT machine from a stream of keyboard
// Events, grounded on the teacher's single-goroutine, channel-driven
// event-loop idiom (ManagedStream's internal pipeline goroutines selecting
// on ctx.Done() and its input channels).
type Controller struct {
	mode        Mode
	minDuration time.Duration
	keyTimeout  time.Duration // WAITING_FOR_KEY -> IDLE if no press within this window; 0 disables
	hybridAfter time.Duration // hold duration after which hybrid mode latches into toggle behavior

	mu          sync.RWMutex
	state       State
	pressedAt   time.Time
	backoff     time.Duration
	maxBackoff  time.Duration
	cancelCombo string // set for the duration of Run; KeyDown on this combo cancels regardless of mode

	onStart  func()
	onStop   func(cancelled bool)
	onError  func(error)
}

// Option configures a Controller.
type Option func(*Controller)

func WithOnStart(f func()) Option               { return func(c *Controller) { c.onStart = f } }
func WithOnStop(f func(cancelled bool)) Option  { return func(c *Controller) { c.onStop = f } }
func WithOnError(f func(error)) Option          { return func(c *Controller) { c.onError = f } }

// NewController creates a PTT controller. minDuration rejects recordings
// shorter than this (an accidental tap), keyTimeout bounds how long the
// controller waits in WAITING_FOR_KEY before giving up (0 = wait forever).
func NewController(mode Mode, minDuration, keyTimeout time.Duration, opts ...Option) *Controller {
	c := &Controller{
		mode:        mode,
		minDuration: minDuration,
		keyTimeout:  keyTimeout,
		hybridAfter: 400 * time.Millisecond,
		maxBackoff:  8 * time.Second,
		state:       Idle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns a point-in-time snapshot of the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run consumes events until ctx is cancelled, driving the state machine and
// invoking onStart/onStop/onError at the appropriate transitions. An error
// from event handling is passed to onError, followed by an exponential
// backoff sleep (capped at maxBackoff) and a return to WAITING_FOR_KEY; the
// failed step is not retried. The onStart/onStop callbacks return no error,
// and handle returns nil on every path, so no event reaches that branch.
func (c *Controller) Run(ctx context.Context, events <-chan Event, cancelCombo string) error {
	c.mu.Lock()
	c.cancelCombo = cancelCombo
	c.mu.Unlock()

	c.setState(WaitingForKey)

	var keyTimer *time.Timer
	if c.keyTimeout > 0 {
		keyTimer = time.NewTimer(c.keyTimeout)
		defer keyTimer.Stop()
	}

	for {
		var timeoutCh <-chan time.Time
		if keyTimer != nil {
			timeoutCh = keyTimer.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timeoutCh:
			if c.State() == WaitingForKey {
				c.setState(Idle)
				return nil
			}

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := c.handle(ev); err != nil {
				if c.onError != nil {
					c.onError(err)
				}
				c.recoverAfterBackoff()
			}
		}
	}
}

func (c *Controller) handle(ev Event) error {
	state := c.State()

	c.mu.RLock()
	cancelCombo := c.cancelCombo
	c.mu.RUnlock()
	if ev.Kind == KeyDown && cancelCombo != "" && ev.Combo == cancelCombo &&
		(state == KeyPressed || state == Recording) {
		c.Cancel()
		return nil
	}

	switch state {
	case WaitingForKey:
		if ev.Kind != KeyDown {
			return nil
		}
		c.setState(KeyPressed)
		c.mu.Lock()
		c.pressedAt = ev.Timestamp
		c.mu.Unlock()
		c.setState(Recording)
		if c.onStart != nil {
			c.onStart()
		}
		return nil

	case Recording:
		if c.mode == ModeHold && ev.Kind == KeyUp {
			return c.finishRecording(ev, false)
		}
		if c.mode == ModeToggle && ev.Kind == KeyDown {
			return c.finishRecording(ev, false)
		}
		if c.mode == ModeHybrid {
			c.mu.RLock()
			held := ev.Timestamp.Sub(c.pressedAt)
			c.mu.RUnlock()
			if ev.Kind == KeyUp && held < c.hybridAfter {
				return c.finishRecording(ev, false)
			}
			if ev.Kind == KeyDown && held >= c.hybridAfter {
				return c.finishRecording(ev, false)
			}
		}
		return nil

	case RecordingStopped, RecordingCancelled:
		// Transient post-stop states; Processing picks up from here via
		// MarkProcessingDone, not from raw key events.
		return nil

	case Processing:
		return nil

	default:
		return nil
	}
}

func (c *Controller) finishRecording(ev Event, cancelled bool) error {
	c.mu.RLock()
	pressedAt := c.pressedAt
	c.mu.RUnlock()

	duration := ev.Timestamp.Sub(pressedAt)
	if !cancelled && duration < c.minDuration {
		// Too short to be a real utterance: treat as a cancelled recording.
		cancelled = true
	}

	if cancelled {
		c.setState(RecordingCancelled)
	} else {
		c.setState(RecordingStopped)
	}
	c.setState(Processing)
	if c.onStop != nil {
		c.onStop(cancelled)
	}
	c.setState(WaitingForKey)
	return nil
}

// AddOnStart chains f after any onStart already configured via WithOnStart,
// instead of replacing it. Used by Recorder to hook recording-start
// bookkeeping onto a Controller built elsewhere without disturbing existing
// callbacks (e.g. cmd/agent's barge-in interruption).
func (c *Controller) AddOnStart(f func()) {
	prev := c.onStart
	c.onStart = func() {
		if prev != nil {
			prev()
		}
		f()
	}
}

// AddOnStop chains f after any onStop already configured via WithOnStop.
func (c *Controller) AddOnStop(f func(cancelled bool)) {
	prev := c.onStop
	c.onStop = func(cancelled bool) {
		if prev != nil {
			prev(cancelled)
		}
		f(cancelled)
	}
}

// Cancel forces the current recording into RECORDING_CANCELLED, used when
// the configured cancel key is pressed mid-recording.
func (c *Controller) Cancel() {
	if c.State() != Recording {
		return
	}
	c.finishRecording(Event{Timestamp: time.Now()}, true)
}

// MarkProcessingDone transitions PROCESSING back to WAITING_FOR_KEY once the
// turn orchestrator has finished handling the recorded audio.
func (c *Controller) MarkProcessingDone() {
	if c.State() == Processing {
		c.setState(WaitingForKey)
	}
}

func (c *Controller) recoverAfterBackoff() {
	c.mu.Lock()
	if c.backoff == 0 {
		c.backoff = 200 * time.Millisecond
	} else {
		c.backoff *= 2
		if c.backoff > c.maxBackoff {
			c.backoff = c.maxBackoff
		}
	}
	wait := c.backoff
	c.mu.Unlock()

	time.Sleep(wait)
	c.setState(WaitingForKey)
}

// Reset clears accumulated backoff, called after a clean recording completes.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.backoff = 0
	c.mu.Unlock()
	c.setState(WaitingForKey)
}

func (c *Controller) String() string {
	return fmt.Sprintf("ptt.Controller{mode=%s state=%s}", c.mode, c.State())
}
