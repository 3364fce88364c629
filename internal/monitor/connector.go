package monitor

import (
	"context"
	"fmt"

	"github.com/srg/hrwatch/internal/device"
)

// runChain drives one chain from connect to subscription.
func (m *Monitor) runChain(ctx context.Context, c *chain) {
	log := m.logger.WithFields(c.fields())

	client, err := m.connect(ctx, c)
	if err != nil {
		if ctx.Err() == nil {
			m.failed.Add(1)
			log.WithError(err).Error("Failed to connect to heart rate device")
		}
		m.endChain(c)
		return
	}
	if !c.setClient(client) {
		log.Debug("Chain released while dialing, dropping late connection")
		if err := client.Disconnect(); err != nil {
			log.WithError(err).Warn("Failed to release heart rate device")
		}
		return
	}
	if ctx.Err() != nil {
		m.release(c)
		return
	}

	c.setStage(stageResolving)
	char, err := m.resolve(client)
	if err != nil {
		m.failed.Add(1)
		log.WithError(err).Error("Failed to resolve heart rate measurement characteristic")
		m.release(c)
		return
	}

	c.setStage(stageSubscribing)
	if err := m.subscribe(ctx, c, char); err != nil {
		m.failed.Add(1)
		c.setStage(stageIdle)
		log.WithError(err).Error("Failed to subscribe to heart rate notifications")
		return
	}

	c.setStage(stageSubscribed)
	m.subscribed.Add(1)
	log.Info("Streaming heart rate notifications")
}

// connect dials the chain's address within the connect timeout.
func (m *Monitor) connect(ctx context.Context, c *chain) (device.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	m.logger.WithFields(c.fields()).WithField("timeout", m.opts.ConnectTimeout).Debug("Connecting to heart rate device...")
	client, err := m.connector.Connect(dialCtx, c.address)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, &device.ConnectionError{State: device.NotConnected, Msg: fmt.Sprintf("no client returned for %s", c.address)}
	}
	return client, nil
}
