package app

import (
	"context"
	"sync"

	"github.com/viaclara/clarad/internal/eventbus"
	"github.com/viaclara/clarad/internal/lifx"
)

// Directory caches the latest device-cloud snapshot. The activation
// tracker drives the refresh cadence through FetchSnapshot; request
// handlers read the cached copy and never block on cloud I/O.
type Directory struct {
	client *lifx.Client
	bus    *eventbus.Bus

	mu   sync.RWMutex
	snap *lifx.Snapshot
}

// NewDirectory creates a directory cache around the cloud client
func NewDirectory(client *lifx.Client, bus *eventbus.Bus) *Directory {
	return &Directory{client: client, bus: bus}
}

// FetchSnapshot reads the directory from the cloud and caches it. It
// satisfies the tracker's snapshot provider, so every tracker poll also
// refreshes the cache.
func (d *Directory) FetchSnapshot(ctx context.Context) (*lifx.Snapshot, error) {
	snap, err := d.client.FetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.snap = snap
	d.mu.Unlock()

	if d.bus != nil {
		d.bus.Publish(eventbus.SnapshotRefreshed{
			Devices: len(snap.Devices),
			Groups:  len(snap.Groups),
			Scenes:  len(snap.Scenes),
		})
	}
	return snap, nil
}

// Current returns the last good snapshot, or nil before the first
// successful poll. Callers treat nil as "directory unavailable" and fail
// closed.
func (d *Directory) Current() *lifx.Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snap
}
