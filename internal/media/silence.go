package media

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const (
	opusFrameDuration = 20 * time.Millisecond
	opusClockRate     = 48000
	opusChannels      = 2
)

// opusSilence is a minimal Opus frame decoding to silence (DTX-style).
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SilenceBackend is the built-in audio capture stand-in: it feeds a local
// Opus track with paced silent frames. Real deployments plug a device
// backend behind the same CaptureBackend interface; this one keeps the
// session core and its tests independent of host audio hardware.
type SilenceBackend struct{}

func NewSilenceBackend() *SilenceBackend {
	return &SilenceBackend{}
}

func (b *SilenceBackend) OpenTrack(ctx context.Context, kind TrackKind) (*LocalTrack, error) {
	if kind != KindAudio {
		return nil, fmt.Errorf("silence backend: unsupported kind %q", kind)
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opusClockRate,
		Channels:  opusChannels,
	}, uuid.NewString(), "callkit-audio")
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go feedSilence(track, done)

	return NewLocalTrack(KindAudio, track, func() { close(done) }), nil
}

// feedSilence paces one silent frame every 20ms until stopped. WriteSample
// on an unbound track is a no-op, so feeding may start before negotiation.
func feedSilence(track *webrtc.TrackLocalStaticSample, done <-chan struct{}) {
	ticker := time.NewTicker(opusFrameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			sample := media.Sample{Data: opusSilence, Duration: opusFrameDuration}
			if err := track.WriteSample(sample); err != nil {
				log.Error().Err(err).Str("module", "media").Msg("silence feeder write")
				return
			}
		}
	}
}
