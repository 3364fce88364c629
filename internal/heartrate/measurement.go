// Package heartrate decodes Heart Rate Measurement notifications
// (characteristic 0x2A37) as laid out by the Bluetooth SIG Heart Rate Service.
package heartrate

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Flag bits of the first payload byte.
const (
	FlagValueUint16     byte = 0x01
	FlagContactDetected byte = 0x02
	FlagContactSupport  byte = 0x04
	FlagEnergyExpended  byte = 0x08
	FlagRRInterval      byte = 0x10
)

var (
	ErrEmptyPayload = errors.New("heart rate payload is empty")
	ErrTruncated    = errors.New("heart rate payload is truncated")
)

// Measurement is a decoded Heart Rate Measurement.
//
// Only BPM is guaranteed. The optional fields are filled in when their flag
// is set and enough bytes remain; a short optional section never fails the
// decode.
type Measurement struct {
	BPM   uint16
	Flags byte

	// ContactSupported and Contact mirror the sensor contact status bits.
	ContactSupported bool
	Contact          bool

	// EnergyExpended is in kilojoules, nil when absent.
	EnergyExpended *uint16
	// RRIntervals are beat-to-beat intervals, converted from 1/1024 s units.
	RRIntervals []time.Duration
}

// Decode parses a raw notification payload.
//
// Bit 0 of the flags byte selects the heart rate value width: clear means a
// uint8 at byte 1, set means a little-endian uint16 at bytes 1..2. An empty
// payload returns ErrEmptyPayload and a payload too short for the selected
// width returns ErrTruncated.
func Decode(data []byte) (Measurement, error) {
	var m Measurement
	err := m.UnmarshalBinary(data)
	return m, err
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *Measurement) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return ErrEmptyPayload
	}

	flags := data[0]
	offset := 1

	var bpm uint16
	if flags&FlagValueUint16 == 0 {
		if len(data) < offset+1 {
			return fmt.Errorf("%w: uint8 value needs 2 bytes, got %d", ErrTruncated, len(data))
		}
		bpm = uint16(data[offset])
		offset++
	} else {
		if len(data) < offset+2 {
			return fmt.Errorf("%w: uint16 value needs 3 bytes, got %d", ErrTruncated, len(data))
		}
		bpm = binary.LittleEndian.Uint16(data[offset:])
		offset += 2
	}

	*m = Measurement{
		BPM:              bpm,
		Flags:            flags,
		ContactSupported: flags&FlagContactSupport != 0,
		Contact:          flags&FlagContactDetected != 0,
	}

	if flags&FlagEnergyExpended != 0 && len(data) >= offset+2 {
		energy := binary.LittleEndian.Uint16(data[offset:])
		m.EnergyExpended = &energy
		offset += 2
	}

	if flags&FlagRRInterval != 0 {
		for ; len(data) >= offset+2; offset += 2 {
			rr := binary.LittleEndian.Uint16(data[offset:])
			m.RRIntervals = append(m.RRIntervals, time.Duration(rr)*time.Second/1024)
		}
	}

	return nil
}

// HasContact reports whether the sensor is known to be in skin contact.
// Sensors without contact detection are assumed to be in contact.
func (m Measurement) HasContact() bool {
	return !m.ContactSupported || m.Contact
}
