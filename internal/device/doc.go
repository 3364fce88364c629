// Package device provides the Bluetooth Low Energy abstractions the heart
// rate monitor is built on.
//
// The package defines the small surface the monitor needs from a BLE stack:
//   - Scanner delivers advertisements as they are received
//   - Connector dials a peripheral by address
//   - Client, Service and Characteristic walk the GATT hierarchy down to a
//     notifiable characteristic
//
// Concrete implementations live in the goble (github.com/go-ble/ble) and
// tinygo (tinygo.org/x/bluetooth) subpackages. The error taxonomy shared by
// both backends is defined here as well.
package device
