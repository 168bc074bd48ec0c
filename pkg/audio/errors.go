package audio

import "errors"

// ErrDevice wraps audio backend failures (device open, start, underrun).
var ErrDevice = errors.New("audio device error")
