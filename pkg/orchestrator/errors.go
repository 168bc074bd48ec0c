package orchestrator

import "errors"


var (

	ErrEmptyTranscription = errors.New("transcription returned empty text")


	ErrTranscriptionFailed = errors.New("speech-to-text transcription failed")


	ErrLLMFailed = errors.New("language model generation failed")


	ErrTTSFailed = errors.New("text-to-speech synthesis failed")


	ErrNilProvider = errors.New("required provider is nil")


	ErrContextCancelled = errors.New("operation cancelled by context")

	// ErrNoProvider is returned by the registry when every endpoint in a
	// role is unhealthy or excluded.
	ErrNoProvider = errors.New("no healthy provider available for this role")

	// ErrDeviceError wraps audio device failures (capture/playback open,
	// underrun/overrun reported by the backend).
	ErrDeviceError = errors.New("audio device error")

	// ErrPermissionDenied is returned when the OS refuses a capability
	// (microphone access, global keyboard hook registration).
	ErrPermissionDenied = errors.New("permission denied")

	// ErrTimeout marks an operation that exceeded its configured deadline.
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidState marks an operation attempted from a state machine
	// state that doesn't allow it. A run_turn that finds the audio-operation
	// lock held returns ErrBusy, not this error.
	ErrInvalidState = errors.New("invalid state for requested operation")

	// ErrBusy indicates the orchestrator's audio-operation lock is already held.
	ErrBusy = errors.New("orchestrator is busy with another turn")
)

// ClientError wraps a non-retryable 4xx-class provider failure. Distinct
// from a bare Transient error so the registry's failover policy can skip
// straight to marking the endpoint's request as non-retryable without
// counting it toward the streak-based unhealthy marking used for 5xx/network
// failures.
type ClientError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ClientError) Error() string {
	return "client error from " + e.Provider + ": " + e.Err.Error()
}

func (e *ClientError) Unwrap() error { return e.Err }

// TransientError wraps a retryable 5xx-class or network-level provider
// failure. The registry counts consecutive TransientErrors toward an
// endpoint's unhealthy streak.
type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	return "transient error from " + e.Provider + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// ClassifyHTTPError wraps a provider's HTTP response status into a
// ClientError (4xx — request/auth problem, never counts toward the
// registry's unhealthy streak) or a TransientError (5xx/other — may be a
// transient outage, counts toward the streak). Providers call this at their
// non-2xx response sites instead of returning a bare fmt.Errorf so the
// registry's failover policy can act on it.
func ClassifyHTTPError(provider string, statusCode int, err error) error {
	if statusCode >= 400 && statusCode < 500 {
		return &ClientError{Provider: provider, StatusCode: statusCode, Err: err}
	}
	return &TransientError{Provider: provider, Err: err}
}
