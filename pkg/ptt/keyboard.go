// Package ptt implements the push-to-talk input path: a global keyboard
// hook (C6) feeding a bounded event queue into the seven-state PTT
// controller (C7).
package ptt

import (
	"fmt"
	"strings"
	"sync"
	"time"

	hook "github.com/robotn/gohook"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/metrics"
)

// EventKind identifies what happened at the keyboard.
type EventKind string

const (
	KeyDown EventKind = "KEY_DOWN"
	KeyUp   EventKind = "KEY_UP"
)

// Event is one debounced, combo-matched keyboard event queued for the PTT
// controller.
type Event struct {
	Kind      EventKind
	Combo     string
	Timestamp time.Time
}

// Handler wraps github.com/robotn/gohook's global hook, parsing a combo
// string (e.g. "alt+space"), debouncing repeated KeyDown events from OS key
// repeat, and publishing to a bounded channel with drop-newest overflow —
// the same cross-thread queue discipline the teacher uses for
// ManagedStream's audio/event channels.
type Handler struct {
	combo      []string
	cancelCombo []string
	debounce   time.Duration

	mu       sync.Mutex
	lastDown time.Time
	held     bool

	events chan Event
}

// NewHandler parses comboStr ("ctrl+shift+space") and cancelComboStr and
// returns a Handler publishing to a channel of the given capacity (default
// 100 per the spec's bounded cross-thread queue sizing).
func NewHandler(comboStr, cancelComboStr string, queueSize int, debounce time.Duration) (*Handler, error) {
	combo := parseCombo(comboStr)
	if len(combo) == 0 {
		return nil, fmt.Errorf("ptt: empty key combo %q", comboStr)
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	if debounce <= 0 {
		debounce = 50 * time.Millisecond
	}
	return &Handler{
		combo:       combo,
		cancelCombo: parseCombo(cancelComboStr),
		debounce:    debounce,
		events:      make(chan Event, queueSize),
	}, nil
}

func parseCombo(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, "+")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Events returns the channel PTT events are published on.
func (h *Handler) Events() <-chan Event {
	return h.events
}

// Start registers the global hook and begins processing OS events. It
// blocks until Stop is called or the underlying hook errors out, so callers
// should run it in its own goroutine — mirroring the dedicated-OS-thread
// requirement for audio callbacks and the keyboard listener (the
// concurrency model's rationale for why these aren't plain goroutines).
func (h *Handler) Start() error {
	evChan := hook.Start()
	defer hook.End()

	hook.Register(hook.KeyDown, h.combo, func(e hook.Event) {
		h.publish(KeyDown, strings.Join(h.combo, "+"))
	})
	hook.Register(hook.KeyUp, h.combo, func(e hook.Event) {
		h.publish(KeyUp, strings.Join(h.combo, "+"))
	})
	if len(h.cancelCombo) > 0 {
		hook.Register(hook.KeyDown, h.cancelCombo, func(e hook.Event) {
			h.publish(KeyDown, strings.Join(h.cancelCombo, "+"))
		})
	}

	<-hook.Process(evChan)
	return nil
}

// Stop ends the global hook. The event channel is left open.
func (h *Handler) Stop() {
	hook.End()
}

func (h *Handler) publish(kind EventKind, combo string) {
	now := time.Now()

	h.mu.Lock()
	if kind == KeyDown {
		if now.Sub(h.lastDown) < h.debounce && h.held {
			h.mu.Unlock()
			return // debounce OS key-repeat
		}
		h.lastDown = now
		h.held = true
	} else {
		h.held = false
	}
	h.mu.Unlock()

	ev := Event{Kind: kind, Combo: combo, Timestamp: now}
	select {
	case h.events <- ev:
	default:
		// Bounded queue full: drop the newest event rather than block the
		// OS callback thread, per the spec's overflow policy.
		metrics.QueueDropped.WithLabelValues("ptt_events").Inc()
	}
}

// CheckPermission probes whether the process can register a global
// keyboard hook. It returns a plain (unwrapped) error when the throwaway hook
// does not finish within 2s, as on platforms (macOS Accessibility, some
// Linux input-group setups) that refuse it. gohook
// itself doesn't expose a dry-run probe, so this starts and immediately
// tears down a throwaway hook.
func CheckPermission() error {
	done := make(chan struct{})
	evChan := hook.Start()
	go func() {
		<-hook.Process(evChan)
		close(done)
	}()
	hook.End()
	select {
	case <-done:
		return nil
	case <-time.After(2 * time.Second):
		return fmt.Errorf("ptt: keyboard hook did not register in time (check OS input permissions)")
	}
}
