package device

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodefabric/shadowd/internal/shadow"
	"github.com/nodefabric/shadowd/internal/shadow/expectedcache"
	"github.com/nodefabric/shadowd/internal/shadow/workqueue"
)

type fakeSession struct{ node shadow.NodeId }

func (f fakeSession) NodeID() shadow.NodeId { return f.node }

type fakeSessionProvider struct{}

func (fakeSessionProvider) AcquireSession(_ context.Context, node shadow.NodeId, onDone func(shadow.SessionHandle, error, *shadow.RetryDelay)) {
	onDone(fakeSession{node: node}, nil, nil)
}

type fakeReadClient struct{}

func (fakeReadClient) Subscribe(context.Context, shadow.SessionHandle, []shadow.DataVersionFilter, uint32, uint32, shadow.ReadClientCallbacks) error {
	return nil
}
func (fakeReadClient) Close() {}

type fakeMonitor struct{}

func (fakeMonitor) Start(func()) {}
func (fakeMonitor) Stop()        {}

type fakeIssuer struct {
	mu        sync.Mutex
	writes    int
	invokes   int
	writeErr  error
	invokeErr error
	reads     [][]shadow.AttributePath
}

func (f *fakeIssuer) IssueRead(_ context.Context, _ shadow.NodeId, paths []shadow.AttributePath, onDone func(shadow.OperationResult)) {
	f.mu.Lock()
	f.reads = append(f.reads, paths)
	f.mu.Unlock()
	var vals []shadow.AttributeReport
	for _, p := range paths {
		vals = append(vals, shadow.AttributeReport{Path: p, Value: shadow.DataValue{Type: shadow.TypeBoolean, Bool: true}})
	}
	onDone(shadow.OperationResult{Values: vals})
}

func (f *fakeIssuer) IssueWrite(_ context.Context, _ shadow.NodeId, path shadow.AttributePath, value shadow.DataValue, onDone func(shadow.OperationResult)) {
	f.mu.Lock()
	f.writes++
	err := f.writeErr
	f.mu.Unlock()
	if err != nil {
		onDone(shadow.OperationResult{Err: err, Kind: shadow.KindRemote})
		return
	}
	onDone(shadow.OperationResult{Values: []shadow.AttributeReport{{Path: path, Value: value}}})
}

func (f *fakeIssuer) IssueInvoke(_ context.Context, _ shadow.NodeId, path shadow.AttributePath, _ shadow.CommandId, _ shadow.DataValue, _ *shadow.RetryDelay, onDone func(shadow.OperationResult)) {
	f.mu.Lock()
	f.invokes++
	err := f.invokeErr
	f.mu.Unlock()
	if err != nil {
		onDone(shadow.OperationResult{Err: err, Kind: shadow.KindRemote})
		return
	}
	onDone(shadow.OperationResult{Values: []shadow.AttributeReport{{Path: path}}})
}

type fakeDelegate struct {
	mu      sync.Mutex
	reports [][]shadow.AttributeReport
}

func (d *fakeDelegate) StateChanged(shadow.ReachabilityState) {}
func (d *fakeDelegate) ReceivedAttributeReport(b []shadow.AttributeReport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reports = append(d.reports, b)
}
func (d *fakeDelegate) ReceivedEventReport([]shadow.EventReport) {}
func (d *fakeDelegate) DeviceCachePrimed()                       {}
func (d *fakeDelegate) DeviceConfigurationChanged()              {}
func (d *fakeDelegate) DeviceBecameActive()                      {}

func newTestDevice(issuer *fakeIssuer, overrides shadow.TestOverrides) *Device {
	return New(Deps{
		Node:       1,
		Storage:    nil,
		Issuer:     issuer,
		Sessions:   fakeSessionProvider{},
		NewClient:  func(shadow.NodeId) shadow.ReadClient { return fakeReadClient{} },
		Monitor:    fakeMonitor{},
		RatePerSec: 1000,
		Overrides:  overrides,
	})
}

func TestReadAttributeReturnsExpectedOverCached(t *testing.T) {
	d := newTestDevice(&fakeIssuer{}, shadow.TestOverrides{SkipSubscription: true})
	path := shadow.AttributePath{Endpoint: 1, Cluster: 6, Attribute: 0}
	d.store.Set(path, shadow.DataValue{Type: shadow.TypeBoolean, Bool: false})

	d.WriteAttribute(context.Background(), path, shadow.DataValue{Type: shadow.TypeBoolean, Bool: true}, 5000, nil)

	v, ok := d.ReadAttribute(context.Background(), path, workqueue.ReadParams{})
	require.True(t, ok)
	require.Equal(t, shadow.DataValue{Type: shadow.TypeBoolean, Bool: true}, v)
}

func TestWriteAttributeReportsOptimisticTransition(t *testing.T) {
	del := &fakeDelegate{}
	d := newTestDevice(&fakeIssuer{}, shadow.TestOverrides{SkipSubscription: true})
	d.SetDelegate(context.Background(), del)

	path := shadow.AttributePath{Endpoint: 1, Cluster: 6, Attribute: 0}
	d.store.Set(path, shadow.DataValue{Type: shadow.TypeBoolean, Bool: false})

	d.WriteAttribute(context.Background(), path, shadow.DataValue{Type: shadow.TypeBoolean, Bool: true}, 5000, nil)

	del.mu.Lock()
	defer del.mu.Unlock()
	require.NotEmpty(t, del.reports)
	require.Equal(t, shadow.DataValue{Type: shadow.TypeBoolean, Bool: true}, del.reports[0][0].Value)
}

func TestWriteAttributeFailureRollsBackExpectedValue(t *testing.T) {
	del := &fakeDelegate{}
	issuer := &fakeIssuer{writeErr: require.AnError}
	d := newTestDevice(issuer, shadow.TestOverrides{SkipSubscription: true})
	d.SetDelegate(context.Background(), del)

	path := shadow.AttributePath{Endpoint: 1, Cluster: 6, Attribute: 0}
	d.store.Set(path, shadow.DataValue{Type: shadow.TypeBoolean, Bool: false})

	d.WriteAttribute(context.Background(), path, shadow.DataValue{Type: shadow.TypeBoolean, Bool: true}, 5000, nil)
	ctx := context.Background()
	d.queue.Pump(ctx)

	v, ok := d.ReadAttribute(ctx, path, workqueue.ReadParams{})
	require.True(t, ok)
	require.Equal(t, shadow.DataValue{Type: shadow.TypeBoolean, Bool: false}, v, "expected value must roll back to cached truth on failure")
}

func TestInvokeCommandSkipsExpectedValuesWithoutInterval(t *testing.T) {
	issuer := &fakeIssuer{}
	d := newTestDevice(issuer, shadow.TestOverrides{SkipSubscription: true})

	d.InvokeCommand(context.Background(), InvokeSpec{
		Path:           shadow.AttributePath{Endpoint: 1, Cluster: 6, Attribute: 0},
		Command:        1,
		ExpectedValues: []expectedcache.Pending{{Path: shadow.AttributePath{Endpoint: 1, Cluster: 6, Attribute: 0}, Value: shadow.DataValue{Type: shadow.TypeBoolean, Bool: true}}},
	})

	_, ok := d.expected.Lookup(shadow.AttributePath{Endpoint: 1, Cluster: 6, Attribute: 0})
	require.False(t, ok, "no expected_interval_ms means no expected values installed")
}

func TestReadAttributeRefreshesChangesOmittedAttribute(t *testing.T) {
	issuer := &fakeIssuer{}
	d := newTestDevice(issuer, shadow.TestOverrides{SkipSubscription: true})
	path := shadow.AttributePath{Endpoint: 0, Cluster: 0x0033, Attribute: 0x0000}

	_, _ = d.ReadAttribute(context.Background(), path, workqueue.ReadParams{})

	require.Equal(t, 1, d.queue.Len(), "changes-omitted attribute must always enqueue a refresh")
}
