package call

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachineHappyPath(t *testing.T) {
	m := newStateMachine()
	require.Equal(t, StateNew, m.Current())

	changed, err := m.Apply(StateConnecting)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = m.Apply(StateConnected)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StateConnected, m.Current())
}

func TestStateMachineRecoveryLoop(t *testing.T) {
	m := newStateMachine()
	mustApply(t, m, StateConnecting, StateConnected, StateDisconnected)

	// recovery drives Disconnected back through Connecting
	changed, err := m.Apply(StateConnecting)
	require.NoError(t, err)
	assert.True(t, changed)

	mustApply(t, m, StateConnected)
	assert.Equal(t, StateConnected, m.Current())
}

func TestStateMachineFailedNotTerminal(t *testing.T) {
	m := newStateMachine()
	mustApply(t, m, StateConnecting, StateFailed)

	changed, err := m.Apply(StateConnecting)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestStateMachineClosedIsTerminal(t *testing.T) {
	m := newStateMachine()
	mustApply(t, m, StateConnecting, StateClosed)

	_, err := m.Apply(StateConnecting)
	assert.Error(t, err, "closed must not be left")
}

func TestStateMachineSameStateNoChange(t *testing.T) {
	m := newStateMachine()
	mustApply(t, m, StateConnecting)

	changed, err := m.Apply(StateConnecting)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestStateMachineIllegalJump(t *testing.T) {
	m := newStateMachine()

	// New cannot drop straight to Disconnected
	_, err := m.Apply(StateDisconnected)
	assert.Error(t, err)
}

func TestStateFromPion(t *testing.T) {
	s, ok := stateFromPion(webrtc.PeerConnectionStateConnected)
	require.True(t, ok)
	assert.Equal(t, StateConnected, s)

	_, ok = stateFromPion(webrtc.PeerConnectionState(99))
	assert.False(t, ok)
}

func mustApply(t *testing.T, m *stateMachine, states ...State) {
	t.Helper()
	for _, s := range states {
		_, err := m.Apply(s)
		require.NoError(t, err, "apply %s", s)
	}
}
