package peer

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
)

// Track is a local capture source that must be stopped when no longer used.
type Track interface {
	ID() string
	Kind() string
	Stop()
}

// LocalMedia owns the local tracks shared by every peer connection.
type LocalMedia struct {
	mu       sync.Mutex
	tracks   []Track
	released bool
}

func NewLocalMedia(tracks ...Track) *LocalMedia {
	return &LocalMedia{tracks: tracks}
}

func (m *LocalMedia) Tracks() []Track {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return nil
	}
	return append([]Track(nil), m.tracks...)
}

// Release stops every track. Later calls are no-ops.
func (m *LocalMedia) Release() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return
	}
	m.released = true
	tracks := m.tracks
	m.tracks = nil
	m.mu.Unlock()

	for _, t := range tracks {
		t.Stop()
	}
}

func (m *LocalMedia) Released() bool {
	if m == nil {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

type MediaErrorKind int

const (
	MediaErrUnknown MediaErrorKind = iota
	MediaErrPermissionDenied
	MediaErrNoDevice
	MediaErrDeviceBusy
)

// MediaError is a failure to acquire a capture device.
type MediaError struct {
	Kind   MediaErrorKind
	Device string
	Err    error
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("media %s: %v", e.Device, e.Err)
}

func (e *MediaError) Unwrap() error { return e.Err }

// UserMessage is the text shown to the user for this failure.
func (e *MediaError) UserMessage() string {
	device := e.Device
	if device == "" {
		device = "camera or microphone"
	}
	switch e.Kind {
	case MediaErrPermissionDenied:
		return fmt.Sprintf("Access to the %s was denied. Allow access and try again.", device)
	case MediaErrNoDevice:
		return fmt.Sprintf("No %s was found. Connect one and try again.", device)
	case MediaErrDeviceBusy:
		return fmt.Sprintf("The %s is in use by another application.", device)
	default:
		return fmt.Sprintf("Could not start the %s.", device)
	}
}

// ClassifyMediaError maps a device access error onto a MediaError. Both OS
// errors and browser DOMException names are recognized.
func ClassifyMediaError(device string, err error) *MediaError {
	if err == nil {
		return nil
	}
	var me *MediaError
	if errors.As(err, &me) {
		return me
	}

	kind := MediaErrUnknown
	switch {
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EACCES):
		kind = MediaErrPermissionDenied
	case errors.Is(err, os.ErrNotExist), errors.Is(err, syscall.ENODEV):
		kind = MediaErrNoDevice
	case errors.Is(err, syscall.EBUSY):
		kind = MediaErrDeviceBusy
	default:
		msg := err.Error()
		switch {
		case strings.Contains(msg, "NotAllowedError"), strings.Contains(msg, "SecurityError"):
			kind = MediaErrPermissionDenied
		case strings.Contains(msg, "NotFoundError"), strings.Contains(msg, "OverconstrainedError"):
			kind = MediaErrNoDevice
		case strings.Contains(msg, "NotReadableError"), strings.Contains(msg, "AbortError"):
			kind = MediaErrDeviceBusy
		}
	}
	return &MediaError{Kind: kind, Device: device, Err: err}
}
