// Package media owns local capture streams and the remote stream aggregate.
package media

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

var ErrNoTracksRequested = errors.New("media: constraints request no tracks")

// Constraints selects which capture kinds to open.
type Constraints struct {
	Audio bool
	Video bool
}

func (c Constraints) Validate() error {
	if !c.Audio && !c.Video {
		return ErrNoTracksRequested
	}
	return nil
}

// LocalTrack pairs a pion local track with the capture resource feeding it.
// Stop halts the feeder; hardware release is never left to the GC.
type LocalTrack struct {
	kind  TrackKind
	track webrtc.TrackLocal

	mu      sync.Mutex
	stop    func()
	stopped bool
}

// NewLocalTrack binds a pion track to its capture stop function.
// stop may be nil for tracks without a live feeder.
func NewLocalTrack(kind TrackKind, track webrtc.TrackLocal, stop func()) *LocalTrack {
	return &LocalTrack{kind: kind, track: track, stop: stop}
}

func (t *LocalTrack) Kind() TrackKind { return t.kind }

func (t *LocalTrack) Track() webrtc.TrackLocal { return t.track }

// Stop releases the capture resource behind the track. Idempotent.
func (t *LocalTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	if t.stop != nil {
		t.stop()
	}
}

func (t *LocalTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// LocalStream is the exclusively owned set of capture tracks for one session.
type LocalStream struct {
	id     string
	tracks []*LocalTrack
}

func NewLocalStream(id string, tracks []*LocalTrack) *LocalStream {
	return &LocalStream{id: id, tracks: tracks}
}

func (s *LocalStream) ID() string { return s.id }

func (s *LocalStream) Tracks() []*LocalTrack {
	out := make([]*LocalTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// StopAll stops every track. Idempotent per track.
func (s *LocalStream) StopAll() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

// RemoteStream accumulates tracks pushed in by the transport as they arrive.
// It is allocated empty as soon as a session exists, so subscribers never
// observe a nil remote stream after a successful initialize.
type RemoteStream struct {
	mu     sync.RWMutex
	id     string
	tracks []*webrtc.TrackRemote
}

func NewRemoteStream(id string) *RemoteStream {
	return &RemoteStream{id: id}
}

func (s *RemoteStream) ID() string { return s.id }

func (s *RemoteStream) AddTrack(t *webrtc.TrackRemote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
}

func (s *RemoteStream) Tracks() []*webrtc.TrackRemote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*webrtc.TrackRemote, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *RemoteStream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracks)
}
