package main

import (
	"errors"
	"os"
	"runtime"

	"github.com/srg/hrwatch/internal/device"
)

// FormatUserError turns well-known failures into actionable messages.
// Anything else is returned as its own error text.
func FormatUserError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, device.ErrBluetoothOff):
		if runtime.GOOS == "linux" {
			return "Bluetooth adapter is unavailable or powered off. Check that the adapter is up (hciconfig / bluetoothctl power on) and that hrwatch has CAP_NET_ADMIN or runs as root."
		}
		return "Bluetooth is turned off. Turn it on and try again."
	case errors.Is(err, os.ErrPermission):
		return "Permission denied: " + err.Error()
	default:
		return err.Error()
	}
}
