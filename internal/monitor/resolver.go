package monitor

import (
	"fmt"

	"github.com/srg/hrwatch/internal/device"
)

// resolve finds the first Heart Rate service and its first Heart Rate
// Measurement characteristic.
func (m *Monitor) resolve(client device.Client) (device.Characteristic, error) {
	services, err := client.DiscoverServices([]string{device.HeartRateServiceUUID})
	if err != nil {
		return nil, fmt.Errorf("failed to discover heart rate service: %w", err)
	}
	if len(services) == 0 {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{device.HeartRateServiceUUID}}
	}

	chars, err := services[0].DiscoverCharacteristics([]string{device.HeartRateMeasurementUUID})
	if err != nil {
		return nil, fmt.Errorf("failed to discover heart rate measurement characteristic: %w", err)
	}
	if len(chars) == 0 {
		return nil, &device.NotFoundError{
			Resource: "characteristic",
			UUIDs:    []string{device.HeartRateServiceUUID, device.HeartRateMeasurementUUID},
		}
	}
	return chars[0], nil
}
