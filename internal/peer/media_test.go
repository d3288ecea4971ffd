package peer

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"testing"
)

func TestClassifyMediaError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want MediaErrorKind
	}{
		{"os permission", fmt.Errorf("open /dev/video0: %w", os.ErrPermission), MediaErrPermissionDenied},
		{"eacces", syscall.EACCES, MediaErrPermissionDenied},
		{"browser denied", errors.New("NotAllowedError: Permission denied"), MediaErrPermissionDenied},
		{"missing device", fmt.Errorf("open /dev/snd: %w", os.ErrNotExist), MediaErrNoDevice},
		{"browser not found", errors.New("NotFoundError: Requested device not found"), MediaErrNoDevice},
		{"busy", syscall.EBUSY, MediaErrDeviceBusy},
		{"browser busy", errors.New("NotReadableError: Could not start video source"), MediaErrDeviceBusy},
		{"other", errors.New("boom"), MediaErrUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyMediaError("camera", tc.err)
			if got.Kind != tc.want {
				t.Fatalf("kind = %d, want %d", got.Kind, tc.want)
			}
			if !errors.Is(got, tc.err) {
				t.Fatalf("classified error does not wrap the cause")
			}
			if !strings.Contains(got.UserMessage(), "camera") {
				t.Fatalf("user message %q does not name the device", got.UserMessage())
			}
		})
	}

	if ClassifyMediaError("mic", nil) != nil {
		t.Fatalf("nil error classified")
	}
	first := ClassifyMediaError("mic", syscall.EBUSY)
	if again := ClassifyMediaError("camera", first); again != first {
		t.Fatalf("already classified error was rewrapped")
	}
}

func TestLocalMediaRelease(t *testing.T) {
	a, b := &fakeTrack{}, &fakeTrack{}
	m := NewLocalMedia(a, b)
	if got := len(m.Tracks()); got != 2 {
		t.Fatalf("tracks = %d", got)
	}
	m.Release()
	m.Release()
	if a.Stopped() != 1 || b.Stopped() != 1 {
		t.Fatalf("stops = %d/%d, want 1/1", a.Stopped(), b.Stopped())
	}
	if m.Tracks() != nil || !m.Released() {
		t.Fatalf("released media still exposes tracks")
	}

	var nilMedia *LocalMedia
	nilMedia.Release()
	if !nilMedia.Released() {
		t.Fatalf("nil media should report released")
	}
}
