package device

import (
	"fmt"
	"strings"
)

// Heart Rate profile identifiers, in NormalizeUUID form.
const (
	HeartRateServiceUUID           = "180d"
	HeartRateMeasurementUUID       = "2a37"
	ClientCharacteristicConfigUUID = "2902"
)

const (
	// bluetoothBaseSuffix is the Bluetooth SIG base UUID after the 32-bit prefix,
	// without dashes.
	bluetoothBaseSuffix = "00001000800000805f9b34fb"
)

// NormalizeUUID converts a UUID string to the internal form used for lookups:
// lowercase, no dashes, no 0x prefix. 128-bit UUIDs built on the Bluetooth
// SIG base (0000xxxx-0000-1000-8000-00805f9b34fb) are shortened to xxxx.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")

	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, bluetoothBaseSuffix) {
		return u[4:8]
	}
	return u
}

// ExpandUUID returns the canonical dashed 128-bit form of uuid. 16- and
// 32-bit UUIDs are placed on the Bluetooth SIG base.
func ExpandUUID(uuid string) string {
	u := NormalizeUUID(uuid)
	switch len(u) {
	case 4:
		u = "0000" + u + bluetoothBaseSuffix
	case 8:
		u = u + bluetoothBaseSuffix
	case 32:
	default:
		return u
	}
	return fmt.Sprintf("%s-%s-%s-%s-%s", u[0:8], u[8:12], u[12:16], u[16:20], u[20:32])
}

// ContainsUUID reports whether uuids holds target in any accepted form.
func ContainsUUID(uuids []string, target string) bool {
	want := NormalizeUUID(target)
	for _, u := range uuids {
		if NormalizeUUID(u) == want {
			return true
		}
	}
	return false
}
