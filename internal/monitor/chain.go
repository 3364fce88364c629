package monitor

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrwatch/internal/device"
)

type stage string

const (
	stageConnecting  stage = "connecting"
	stageResolving   stage = "resolving"
	stageSubscribing stage = "subscribing"
	stageSubscribed  stage = "subscribed"
	// stageIdle is a connected chain whose subscription failed.
	stageIdle stage = "idle"
)

// chain is one connect → resolve → subscribe attempt for one advertisement.
type chain struct {
	id      uint64
	address string
	key     string

	mu       sync.Mutex
	stage    stage
	client   device.Client
	released bool
}

func (c *chain) setStage(s stage) {
	c.mu.Lock()
	c.stage = s
	c.mu.Unlock()
}

func (c *chain) currentStage() stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

// setClient records client and reports false when the chain was already
// released, in which case the caller still owns client.
func (c *chain) setClient(client device.Client) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return false
	}
	c.client = client
	return true
}

func (c *chain) getClient() device.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// takeClient returns the client once and marks the chain released, even
// while it is still dialing; later calls return nil.
func (c *chain) takeClient() device.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil
	}
	c.released = true
	return c.client
}

func (c *chain) fields() logrus.Fields {
	return logrus.Fields{
		"address": c.address,
		"chain":   c.id,
	}
}

// endChain removes c from the registry and frees its address for dedupe.
func (m *Monitor) endChain(c *chain) {
	m.chains.Del(c.id)
	if m.opts.Dedupe {
		if owner, ok := m.active.Get(c.key); ok && owner == c.id {
			m.active.Del(c.key)
		}
	}
}

// release disconnects the chain's client, if any, and ends the chain.
func (m *Monitor) release(c *chain) {
	if client := c.takeClient(); client != nil {
		if err := client.Disconnect(); err != nil {
			m.logger.WithFields(c.fields()).WithError(err).Warn("Failed to release heart rate device")
		}
	}
	m.endChain(c)
}
