package goble

import (
	"fmt"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrwatch/internal/device"
)

// ----------------------------
// BLE Characteristic
// ----------------------------

// BLECharacteristic represents a discovered GATT characteristic
type BLECharacteristic struct {
	uuid    string
	BLEChar *ble.Characteristic
	client  *BLEClient
}

func (c *BLECharacteristic) UUID() string {
	return c.uuid
}

// Subscribe enables notifications (or indications for indicate-only
// characteristics) and routes every value to handler. go-ble writes the CCCD
// itself once the descriptor has been discovered.
func (c *BLECharacteristic) Subscribe(handler func(data []byte)) error {
	props := c.BLEChar.Property
	if props&(ble.CharNotify|ble.CharIndicate) == 0 {
		return fmt.Errorf("characteristic %s does not support notifications: %w", c.uuid, device.ErrUnsupported)
	}

	if c.BLEChar.CCCD == nil {
		cccd, err := ble.Parse(device.ClientCharacteristicConfigUUID)
		if err == nil {
			_, err = c.client.client.DiscoverDescriptors([]ble.UUID{cccd}, c.BLEChar)
		}
		if err != nil {
			c.client.logger.WithFields(logrus.Fields{
				"char_uuid": c.uuid,
				"error":     err,
			}).Debug("Descriptor discovery failed, subscribing anyway")
		}
	}

	indicate := props&ble.CharNotify == 0
	err := c.client.client.Subscribe(c.BLEChar, indicate, func(data []byte) {
		// go-ble reuses its receive buffer.
		buf := make([]byte, len(data))
		copy(buf, data)
		handler(buf)
	})
	if err != nil {
		return NormalizeError(err)
	}

	c.client.logger.WithFields(logrus.Fields{
		"address":   c.client.address,
		"char_uuid": c.uuid,
		"indicate":  indicate,
	}).Info("Successfully subscribed to characteristic notifications")
	return nil
}
