package controller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodefabric/shadowd/internal/shadow"
	"github.com/nodefabric/shadowd/internal/shadow/device"
)

type fakeSessionProvider struct{}

func (fakeSessionProvider) AcquireSession(_ context.Context, node shadow.NodeId, onDone func(shadow.SessionHandle, error, *shadow.RetryDelay)) {
	onDone(nil, require.AnError, nil)
}

type fakeMonitor struct{}

func (fakeMonitor) Start(func()) {}
func (fakeMonitor) Stop()        {}

type fakeIssuer struct{}

func (fakeIssuer) IssueRead(context.Context, shadow.NodeId, []shadow.AttributePath, func(shadow.OperationResult)) {
}
func (fakeIssuer) IssueWrite(context.Context, shadow.NodeId, shadow.AttributePath, shadow.DataValue, func(shadow.OperationResult)) {
}
func (fakeIssuer) IssueInvoke(context.Context, shadow.NodeId, shadow.AttributePath, shadow.CommandId, shadow.DataValue, *shadow.RetryDelay, func(shadow.OperationResult)) {
}

func testFactory(node shadow.NodeId) device.Deps {
	return device.Deps{
		Node:       node,
		Issuer:     fakeIssuer{},
		Sessions:   fakeSessionProvider{},
		NewClient:  func(shadow.NodeId) shadow.ReadClient { return nil },
		Monitor:    fakeMonitor{},
		RatePerSec: 100,
		Overrides:  shadow.TestOverrides{SkipSubscription: true},
	}
}

func TestDeviceIsConstructedOnceAndReused(t *testing.T) {
	c := New(testFactory)
	d1 := c.Device(5)
	d2 := c.Device(5)
	require.Same(t, d1, d2)
	require.ElementsMatch(t, []shadow.NodeId{5}, c.Nodes())
}

func TestRemoveInvalidatesAndDrops(t *testing.T) {
	c := New(testFactory)
	c.Device(7)
	c.Remove(7)
	require.Empty(t, c.Nodes())
}

func TestShutdownClearsAllDevices(t *testing.T) {
	c := New(testFactory)
	c.Device(1)
	c.Device(2)
	c.Shutdown()
	require.Empty(t, c.Nodes())
}
