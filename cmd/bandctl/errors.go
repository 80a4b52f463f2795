package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/bandctl/internal/device"
	"github.com/srg/bandctl/pkg/miband"
)

// ErrNotConfirmed is returned when the user declines a firmware upload.
var ErrNotConfirmed = errors.New("upload not confirmed")

// FormatUserError turns session errors into a one-line message with a hint.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off; enable it and try again"
	case errors.Is(err, miband.ErrFreezed):
		return "no band credentials configured; pass --mac and --auth-key, --creds or --config"
	case errors.Is(err, miband.ErrAuthentication):
		return fmt.Sprintf("%v (check the auth key)", err)
	case errors.Is(err, miband.ErrNotAuthenticated):
		return fmt.Sprintf("%v (the band did not accept the auth key)", err)
	case errors.Is(err, miband.ErrNoReading):
		return "no heart rate reading yet; wear the band and try again"
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out"
	case errors.Is(err, miband.ErrTimeout):
		return fmt.Sprintf("%v (is the band nearby and awake?)", err)
	case errors.Is(err, miband.ErrDisconnected):
		return fmt.Sprintf("%v (is the band in range and not paired with another phone?)", err)
	default:
		return err.Error()
	}
}
