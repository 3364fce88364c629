package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/hrwatch/internal/device"
)

// ----------------------------
// BLE Service
// ----------------------------

// BLEService represents a discovered GATT service
type BLEService struct {
	uuid    string
	service *ble.Service
	client  *BLEClient
}

func (s *BLEService) UUID() string {
	return s.uuid
}

// DiscoverCharacteristics returns the characteristics of the service matching uuids.
func (s *BLEService) DiscoverCharacteristics(uuids []string) ([]device.Characteristic, error) {
	filter, err := parseUUIDs(uuids)
	if err != nil {
		return nil, err
	}

	bleChars, err := s.client.client.DiscoverCharacteristics(filter, s.service)
	if err != nil {
		return nil, NormalizeError(err)
	}

	result := make([]device.Characteristic, 0, len(bleChars))
	for _, c := range bleChars {
		if len(uuids) > 0 && !device.ContainsUUID(uuids, c.UUID.String()) {
			continue
		}
		result = append(result, &BLECharacteristic{
			uuid:    device.NormalizeUUID(c.UUID.String()),
			BLEChar: c,
			client:  s.client,
		})
	}
	return result, nil
}
