package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrPermissionDenied  = errors.New("media: microphone permission denied")
	ErrDeviceUnavailable = errors.New("media: capture device unavailable")
)

// PermissionChecker reports whether the environment currently grants
// microphone access. Checked once per Acquire, before any device is touched.
type PermissionChecker interface {
	MicrophoneGranted(ctx context.Context) (bool, error)
}

// CaptureBackend opens one live capture track of the given kind.
// A returned track is live immediately; the caller owns its Stop.
type CaptureBackend interface {
	OpenTrack(ctx context.Context, kind TrackKind) (*LocalTrack, error)
}

// StaticPermissions answers the permission check with a fixed value, for
// environments that resolve the prompt out of band.
type StaticPermissions struct {
	Granted bool
}

func (p StaticPermissions) MicrophoneGranted(ctx context.Context) (bool, error) {
	return p.Granted, nil
}

// Acquirer gates capture behind a permission check and assembles the
// requested tracks into a LocalStream. No internal timeout is enforced;
// callers bound Acquire through ctx.
type Acquirer struct {
	perms   PermissionChecker
	backend CaptureBackend
}

func NewAcquirer(perms PermissionChecker, backend CaptureBackend) *Acquirer {
	return &Acquirer{perms: perms, backend: backend}
}

// Acquire opens the capture kinds selected by c. On permission denial no
// device is touched. On a mid-acquisition failure every already-opened
// track is stopped before the error is returned.
func (a *Acquirer) Acquire(ctx context.Context, c Constraints) (*LocalStream, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	granted, err := a.perms.MicrophoneGranted(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: permission check: %v", ErrPermissionDenied, err)
	}
	if !granted {
		return nil, ErrPermissionDenied
	}

	kinds := make([]TrackKind, 0, 2)
	if c.Audio {
		kinds = append(kinds, KindAudio)
	}
	if c.Video {
		kinds = append(kinds, KindVideo)
	}

	tracks := make([]*LocalTrack, 0, len(kinds))
	for _, kind := range kinds {
		t, err := a.backend.OpenTrack(ctx, kind)
		if err != nil {
			for _, opened := range tracks {
				opened.Stop()
			}
			return nil, fmt.Errorf("%w: open %s: %v", ErrDeviceUnavailable, kind, err)
		}
		tracks = append(tracks, t)
	}

	stream := NewLocalStream(uuid.NewString(), tracks)
	log.Info().Str("module", "media").Str("stream_id", stream.ID()).Int("tracks", len(tracks)).Msg("capture acquired")
	return stream, nil
}
