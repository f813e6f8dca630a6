// Package controller implements the fleet-level Controller: a
// lifecycle manager for the per-node Device Facades that make up a
// running fabric connection, as named in the source's own "Controller"
// abstraction atop one-shadow-per-node.
package controller

import (
	"context"
	"sync"

	"github.com/nodefabric/shadowd/internal/shadow"
	"github.com/nodefabric/shadowd/internal/shadow/device"
)

// Factory builds the per-node collaborators a Device needs. Most
// fields of the returned Deps are shared across nodes (storage,
// issuer, session provider). The Controller passes node in and uses
// the returned Deps as they are, so the factory sets Deps.Node itself.
type Factory func(node shadow.NodeId) device.Deps

// Controller owns one Device per node and hands out references by
// NodeId. Safe for concurrent use.
type Controller struct {
	mu      sync.RWMutex
	devices map[shadow.NodeId]*device.Device
	build   Factory
}

// New returns an empty Controller that builds devices with build.
func New(build Factory) *Controller {
	return &Controller{
		devices: make(map[shadow.NodeId]*device.Device),
		build:   build,
	}
}

// Device returns the existing Device for node, constructing one on
// first use.
func (c *Controller) Device(node shadow.NodeId) *device.Device {
	c.mu.RLock()
	d, ok := c.devices[node]
	c.mu.RUnlock()
	if ok {
		return d
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.devices[node]; ok {
		return d
	}
	d = device.New(c.build(node))
	c.devices[node] = d
	return d
}

// Remove invalidates and drops the Device for node, if one exists.
func (c *Controller) Remove(node shadow.NodeId) {
	c.mu.Lock()
	d, ok := c.devices[node]
	delete(c.devices, node)
	c.mu.Unlock()
	if ok {
		d.Invalidate()
	}
}

// Nodes returns the set of nodes currently tracked.
func (c *Controller) Nodes() []shadow.NodeId {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]shadow.NodeId, 0, len(c.devices))
	for n := range c.devices {
		out = append(out, n)
	}
	return out
}

// FlushAll flushes every tracked device's dirty clusters through
// storage, returning the first error encountered (if any) after
// attempting all of them.
func (c *Controller) FlushAll(ctx context.Context, storage shadow.Storage) error {
	c.mu.RLock()
	devices := make([]*device.Device, 0, len(c.devices))
	for _, d := range c.devices {
		devices = append(devices, d)
	}
	c.mu.RUnlock()

	var firstErr error
	for _, d := range devices {
		if err := d.Flush(ctx, storage); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Shutdown invalidates every tracked device and clears the registry.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	devices := make([]*device.Device, 0, len(c.devices))
	for _, d := range c.devices {
		devices = append(devices, d)
	}
	c.devices = make(map[shadow.NodeId]*device.Device)
	c.mu.Unlock()

	for _, d := range devices {
		d.Invalidate()
	}
}
