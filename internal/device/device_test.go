package device

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name  string
		input error
		want  error
	}{
		{"device not connected", errors.New("Device Not Connected"), ErrNotConnected},
		{"disconnected", errors.New("peripheral disconnected"), ErrNotConnected},
		{"connection reset", errors.New("read: connection reset by peer"), ErrNotConnected},
		{"already connected", errors.New("device already connected"), ErrAlreadyConnected},
		{"not initialized", errors.New("connection is not initialized"), ErrNotInitialized},
		{"bluetooth off", errors.New("Bluetooth is turned off"), ErrBluetoothOff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NormalizeError(tt.input)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), tt.input.Error(), "original message MUST be preserved")
		})
	}
}

func TestNormalizeError_PassThrough(t *testing.T) {
	assert.NoError(t, NormalizeError(nil))

	plain := errors.New("attribute not found")
	assert.Same(t, plain, NormalizeError(plain))

	already := fmt.Errorf("write: %w", ErrNotConnected)
	assert.Same(t, already, NormalizeError(already), "already structured errors MUST not be wrapped twice")
}

func TestConnectionError(t *testing.T) {
	err := &ConnectionError{State: NotConnected, Msg: "link lost"}

	assert.Equal(t, "not_connected: link lost", err.Error())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NotErrorIs(t, err, ErrAlreadyConnected)
	assert.True(t, IsConnectionState(fmt.Errorf("wrapped: %w", err), NotConnected))
	assert.False(t, IsConnectionState(errors.New("other"), NotConnected))

	var nilErr *ConnectionError
	assert.Equal(t, "<nil>", nilErr.Error())
}

func TestNotFoundError(t *testing.T) {
	assert.Equal(t, `characteristic "2a37" not found`,
		(&NotFoundError{Resource: "characteristic", UUIDs: []string{"2a37"}}).Error())
	assert.Equal(t, `characteristic "2a39" not found in service "180d"`,
		(&NotFoundError{Resource: "characteristic", UUIDs: []string{"180d", "2a39"}}).Error())
	assert.Equal(t, "service not found", (&NotFoundError{Resource: "service"}).Error())
}
