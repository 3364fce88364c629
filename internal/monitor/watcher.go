package monitor

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrwatch/internal/device"
	"github.com/srg/hrwatch/internal/groutine"
)

// handleAdvertisement runs on the scanner goroutine. It never blocks: a
// matching advertisement is handed to a new chain goroutine.
func (m *Monitor) handleAdvertisement(ctx context.Context, adv device.Advertisement) {
	if !device.ContainsUUID(adv.Services(), device.HeartRateServiceUUID) {
		return
	}

	address := adv.Addr()
	if address == "" {
		m.logger.WithField("name", adv.LocalName()).Debug("Heart rate advertisement without address dropped")
		return
	}
	key := strings.ToLower(address)
	if !m.shouldIncludeDevice(key) {
		m.logger.WithField("address", address).Debug("Heart rate device filtered out")
		return
	}

	id := m.nextID.Add(1)
	if m.opts.Dedupe {
		if owner, loaded := m.active.GetOrInsert(key, id); loaded {
			m.logger.WithFields(logrus.Fields{
				"address": address,
				"chain":   owner,
			}).Debug("Heart rate device already has a chain")
			return
		}
	}

	m.matched.Add(1)
	c := &chain{id: id, address: address, key: key, stage: stageConnecting}
	m.chains.Set(id, c)

	m.logger.WithFields(logrus.Fields{
		"address": address,
		"name":    adv.LocalName(),
		"rssi":    adv.RSSI(),
		"chain":   id,
	}).Info("Discovered heart rate device")

	m.wg.Add(1)
	groutine.Go(ctx, fmt.Sprintf("hr-chain-%d", id), func(ctx context.Context) {
		m.runChain(ctx, c)
	}, m.wg.Done)
}

// shouldIncludeDevice applies the allow/block address filters
func (m *Monitor) shouldIncludeDevice(key string) bool {
	if slices.Contains(m.opts.BlockList, key) {
		return false
	}
	if len(m.opts.AllowList) > 0 && !slices.Contains(m.opts.AllowList, key) {
		return false
	}
	return true
}

func normalizeAddresses(addrs []string) []string {
	result := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			result = append(result, a)
		}
	}
	return result
}
