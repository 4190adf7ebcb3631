package call

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
	"github.com/pion/webrtc/v4"
)

// State is the connection state of one call session. Transitions are driven
// only by the underlying transport; callers never set it directly. Closed is
// terminal and entered only through Cleanup.
type State string

const (
	StateNew          State = "new"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

const (
	evConnect   = "connect"
	evEstablish = "establish"
	evLose      = "lose"
	evFail      = "fail"
	evClose     = "close"
)

// stateMachine wraps looplab/fsm to keep session state transitions legal.
// Disconnected and Failed are not terminal: recovery loops back through
// Connecting. Only Cleanup may drive the machine into Closed.
type stateMachine struct {
	f *fsm.FSM
}

func newStateMachine() *stateMachine {
	f := fsm.NewFSM(
		string(StateNew),
		fsm.Events{
			{Name: evConnect, Src: []string{string(StateNew), string(StateConnected), string(StateDisconnected), string(StateFailed)}, Dst: string(StateConnecting)},
			{Name: evEstablish, Src: []string{string(StateNew), string(StateConnecting), string(StateDisconnected)}, Dst: string(StateConnected)},
			{Name: evLose, Src: []string{string(StateConnecting), string(StateConnected)}, Dst: string(StateDisconnected)},
			{Name: evFail, Src: []string{string(StateNew), string(StateConnecting), string(StateConnected), string(StateDisconnected)}, Dst: string(StateFailed)},
			{Name: evClose, Src: []string{string(StateNew), string(StateConnecting), string(StateConnected), string(StateDisconnected), string(StateFailed)}, Dst: string(StateClosed)},
		},
		nil,
	)
	return &stateMachine{f: f}
}

func eventFor(target State) (string, bool) {
	switch target {
	case StateConnecting:
		return evConnect, true
	case StateConnected:
		return evEstablish, true
	case StateDisconnected:
		return evLose, true
	case StateFailed:
		return evFail, true
	case StateClosed:
		return evClose, true
	default:
		return "", false
	}
}

func (m *stateMachine) Current() State {
	return State(m.f.Current())
}

// Apply moves the machine toward target. Returns false when the machine is
// already there, an error when the transition is illegal.
func (m *stateMachine) Apply(target State) (bool, error) {
	if m.Current() == target {
		return false, nil
	}
	ev, ok := eventFor(target)
	if !ok {
		return false, fmt.Errorf("no transition to state %q", target)
	}
	if err := m.f.Event(context.Background(), ev); err != nil {
		return false, err
	}
	return true, nil
}

// stateFromPion maps the transport state onto the session state enum.
func stateFromPion(s webrtc.PeerConnectionState) (State, bool) {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return StateNew, true
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return StateConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return StateFailed, true
	case webrtc.PeerConnectionStateClosed:
		return StateClosed, true
	default:
		return "", false
	}
}
