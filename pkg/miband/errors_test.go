package miband

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srg/bandctl/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := newError(KindFreezed, "send_alert", "no credentials configured", nil)

	assert.ErrorIs(t, err, ErrFreezed)
	assert.ErrorIs(t, fmt.Errorf("cli: %w", err), ErrFreezed)
	assert.NotErrorIs(t, err, ErrDisconnected)
	assert.Equal(t, "send_alert: freezed: no credentials configured", err.Error())
	assert.Equal(t, KindFreezed, KindOf(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestError_UnwrapKeepsCause(t *testing.T) {
	cause := errors.New("broken pipe")
	err := newError(KindDisconnected, "battery", "", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "battery: disconnected: broken pipe", err.Error())
}

func TestTransportError(t *testing.T) {
	assert.NoError(t, transportError("op", nil))

	err := transportError("battery", fmt.Errorf("read: %w", device.ErrNotConnected))
	assert.ErrorIs(t, err, ErrDisconnected, "link failures MUST map to ErrDisconnected")
	assert.ErrorIs(t, err, device.ErrNotConnected, "original cause MUST stay reachable")

	err = transportError("battery", fmt.Errorf("read: %w", device.ErrTimeout))
	assert.ErrorIs(t, err, ErrTimeout)

	nf := &device.NotFoundError{Resource: "characteristic", UUIDs: []string{"2a25"}}
	err = transportError("info", nf)
	assert.NotErrorIs(t, err, ErrDisconnected, "missing characteristics MUST NOT look like link loss")
	var target *device.NotFoundError
	assert.ErrorAs(t, err, &target)

	already := newError(KindTimeout, "auth", "", nil)
	assert.Same(t, already, transportError("other", already))
}
