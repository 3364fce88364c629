package monitor

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrwatch/internal/device"
	"github.com/srg/hrwatch/internal/emitter"
	"github.com/srg/hrwatch/internal/groutine"
	"github.com/srg/hrwatch/internal/heartrate"
)

// subscribe registers the notification handler for c and, when the client
// reports disconnects, ends the chain once the link drops.
func (m *Monitor) subscribe(ctx context.Context, c *chain, char device.Characteristic) error {
	if err := char.Subscribe(func(data []byte) {
		m.handleNotification(c, data)
	}); err != nil {
		return err
	}

	if dc, ok := c.getClient().(interface{ Disconnected() <-chan struct{} }); ok && dc.Disconnected() != nil {
		groutine.Go(ctx, fmt.Sprintf("hr-disconnect-%d", c.id), func(ctx context.Context) {
			select {
			case <-dc.Disconnected():
				m.logger.WithFields(c.fields()).Warn("Heart rate device disconnected")
				m.release(c)
			case <-ctx.Done():
			}
		})
	}
	return nil
}

// handleNotification decodes one notification and queues the reading. It
// runs on the BLE library's goroutine, so failures are logged and contained.
func (m *Monitor) handleNotification(c *chain, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithFields(c.fields()).WithField("panic", r).Error("Notification handler panicked")
		}
	}()

	ts := m.now()
	meas, err := heartrate.Decode(data)
	if err != nil {
		m.decodeErrors.Add(1)
		m.logger.WithFields(c.fields()).WithFields(logrus.Fields{
			"payload": fmt.Sprintf("%x", data),
			"error":   err,
		}).Error("Failed to decode heart rate measurement")
		return
	}

	if len(meas.RRIntervals) > 0 || meas.EnergyExpended != nil {
		m.logger.WithFields(c.fields()).WithFields(logrus.Fields{
			"bpm":     meas.BPM,
			"rr":      meas.RRIntervals,
			"contact": meas.HasContact(),
		}).Debug("Heart rate measurement")
	}

	if dropped := m.readings.ForceSend(emitter.NewReading(ts, meas.BPM, c.address)); dropped {
		m.logger.WithFields(c.fields()).Warn("Readings queue full, dropped oldest reading")
	}
}
