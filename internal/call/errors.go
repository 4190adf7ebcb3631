package call

import (
	"errors"

	"github.com/talkio/callkit/internal/media"
)

var (
	// ErrNoActiveSession is returned by operations that require Initialize first.
	ErrNoActiveSession = errors.New("call: no active session")
	// ErrAlreadyActive rejects a second Initialize while a session is live.
	ErrAlreadyActive = errors.New("call: session already active")
	// ErrNegotiationFailed wraps offer/answer generation and description-setting failures.
	ErrNegotiationFailed = errors.New("call: negotiation failed")
	// ErrSignalingForward wraps failures handing a local candidate to the relay.
	ErrSignalingForward = errors.New("call: signaling forward failed")
	// ErrCandidateFailed wraps a remote candidate the transport refused to apply.
	ErrCandidateFailed = errors.New("call: ice candidate rejected")
	// ErrConnectionFailed reports a transport-level ICE/DTLS failure.
	ErrConnectionFailed = errors.New("call: connection failed")
	// ErrConnectionAbandoned reports recovery giving up after the configured attempts.
	ErrConnectionAbandoned = errors.New("call: connection abandoned after recovery attempts")
)

// errorKind labels an error for metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, media.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, media.ErrDeviceUnavailable):
		return "media_acquisition"
	case errors.Is(err, ErrNoActiveSession):
		return "no_active_session"
	case errors.Is(err, ErrAlreadyActive):
		return "already_active"
	case errors.Is(err, ErrNegotiationFailed):
		return "negotiation"
	case errors.Is(err, ErrSignalingForward):
		return "signaling_forward"
	case errors.Is(err, ErrCandidateFailed):
		return "candidate"
	case errors.Is(err, ErrConnectionAbandoned):
		return "abandoned"
	case errors.Is(err, ErrConnectionFailed):
		return "connection"
	default:
		return "other"
	}
}
