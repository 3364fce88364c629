package devicefactory

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrwatch/internal/device"
	goble "github.com/srg/hrwatch/internal/device/go-ble"
	"github.com/srg/hrwatch/internal/device/simulated"
	tinyble "github.com/srg/hrwatch/internal/device/tinygo-ble"
	"github.com/srg/hrwatch/pkg/config"
)

// BackendFactory creates the device.Backend selected by cfg.
// This is a variable so that it can be overridden in tests.
var BackendFactory = func(cfg *config.Config, logger *logrus.Logger) (device.Backend, error) {
	switch cfg.Backend {
	case config.BackendGoBLE, "":
		b, err := goble.NewBackend(cfg.HCIDevice, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendTinyGo:
		b, err := tinyble.NewBackend([]string{device.HeartRateServiceUUID}, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendSimulated:
		return simulated.NewBackend(simulated.Options{}, logger), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// NewBackend creates the configured backend and logs which one is in use.
func NewBackend(cfg *config.Config, logger *logrus.Logger) (device.Backend, error) {
	b, err := BackendFactory(cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.WithField("backend", cfg.Backend).Debug("BLE backend ready")
	return b, nil
}
