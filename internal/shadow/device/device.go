// Package device implements the Device Facade (C5): the public
// surface composing the cluster data store, expected-value cache, work
// queue, and subscription engine into readAttribute/writeAttribute/
// invokeCommand/setDelegate/invalidate.
package device

import (
	"context"
	"sync"
	"time"

	"github.com/nodefabric/shadowd/internal/shadow"
	"github.com/nodefabric/shadowd/internal/shadow/clusterstore"
	"github.com/nodefabric/shadowd/internal/shadow/expectedcache"
	"github.com/nodefabric/shadowd/internal/shadow/subscription"
	"github.com/nodefabric/shadowd/internal/shadow/workqueue"
)

// Delegate is the client-supplied callback surface (spec §6), dispatched
// asynchronously and never while any device lock is held. Its method
// set matches subscription.Delegate exactly so a Delegate can be handed
// straight to the subscription engine.
type Delegate interface {
	StateChanged(shadow.ReachabilityState)
	ReceivedAttributeReport(batch []shadow.AttributeReport)
	ReceivedEventReport(batch []shadow.EventReport)
	DeviceCachePrimed()
	DeviceConfigurationChanged()
	DeviceBecameActive()
}

const (
	clusterGeneralDiagnostics  = shadow.ClusterId(0x0033)
	attrUpTime                 = shadow.AttributeId(0x0000)
	clusterOperationalCreds    = shadow.ClusterId(0x003E)
	attrNOCs                   = shadow.AttributeId(0x0000)
	clusterElectricalMeasure   = shadow.ClusterId(0x0090)
	attrActivePower            = shadow.AttributeId(0x050B)
	clusterTimeSynchronization = shadow.ClusterId(0x0038)
	attrUTCTime                = shadow.AttributeId(0x0000)
	attrLocalTime              = shadow.AttributeId(0x0001)
)

// isChangesOmitted reports whether path belongs to the fixed, hard-coded
// set of attributes whose reports the node may omit on change (spec
// §4.5): diagnostic counters, uptime, the NOC list, power-source
// metering, and UTC/local time. A facade read for one of these always
// refreshes from the node rather than trusting the cache alone.
func isChangesOmitted(path shadow.AttributePath) bool {
	switch path.Cluster {
	case clusterGeneralDiagnostics:
		return path.Attribute == attrUpTime
	case clusterOperationalCreds:
		return path.Attribute == attrNOCs
	case clusterElectricalMeasure:
		return path.Attribute == attrActivePower
	case clusterTimeSynchronization:
		return path.Attribute == attrUTCTime || path.Attribute == attrLocalTime
	}
	return false
}

const (
	minTimedTimeoutMs     = 1
	maxTimedTimeoutMs     = 65535
	defaultTimedTimeoutMs = 10000
	minExpectedIntervalMs = 1
)

// Deps are the collaborators a Device is assembled from; all are
// required except Storage (nil disables persistence) and Overrides,
// whose zero value is a no-op.
type Deps struct {
	Node       shadow.NodeId
	Storage    shadow.Storage
	Issuer     shadow.OperationIssuer
	Sessions   shadow.SessionProvider
	NewClient  func(shadow.NodeId) shadow.ReadClient
	Monitor    shadow.ConnectivityMonitor
	RatePerSec float64
	Overrides  shadow.TestOverrides
}

// Device is one node's shadow (C5). Not safe to share across nodes; the
// Controller owns one per node.
type Device struct {
	node shadow.NodeId

	mu       sync.Mutex
	delegate Delegate

	store     *clusterstore.Store
	expected  *expectedcache.Cache
	queue     *workqueue.Queue
	engine    *subscription.Engine
	overrides shadow.TestOverrides

	kickSweep func()
}

// AttachSweeper registers a callback invoked after every expected-value
// install, so the caller's scheduler.ExpectedValueSweeper can
// reschedule itself at the new earliest deadline (spec §4.2). This
// package never imports the scheduler package. Nothing in this
// repository calls AttachSweeper (cmd/shadowd does not), so a device
// built by the daemon has no sweeper and drops expired expected values
// only lazily, when Lookup meets them.
func (d *Device) AttachSweeper(kick func()) {
	d.kickSweep = kick
}

func (d *Device) onExpectedValuesChanged() {
	if d.kickSweep != nil {
		d.kickSweep()
	}
}

// ExpectedCache exposes the device's expected-value cache so a
// scheduler.ExpectedValueSweeper can be built against it and then
// attached back via AttachSweeper.
func (d *Device) ExpectedCache() *expectedcache.Cache {
	return d.expected
}

// New assembles a Device from its collaborators.
func New(d Deps) *Device {
	store := clusterstore.New(d.Node, d.Storage)
	dev := &Device{
		node:      d.Node,
		store:     store,
		expected:  expectedcache.New(),
		queue:     workqueue.New(d.Node, d.Issuer, d.RatePerSec),
		overrides: d.Overrides,
	}
	dev.engine = subscription.New(d.Node, d.Sessions, d.NewClient, d.Monitor, store, d.Overrides)
	return dev
}

// LoadPersisted seeds the cluster store from a prior session, without
// marking anything dirty (spec §4.1, §8 scenario 1).
func (d *Device) LoadPersisted(path shadow.ClusterPath, data shadow.ClusterData) {
	d.store.LoadPersisted(path, data)
}

// Flush persists all dirty clusters.
func (d *Device) Flush(ctx context.Context, storage shadow.Storage) error {
	return d.store.FlushTo(ctx, storage)
}

// SetDelegate installs the client's delegate and, unless test overrides
// say otherwise, begins establishing a subscription (spec §4.4, §4.5).
func (d *Device) SetDelegate(ctx context.Context, delegate Delegate) {
	d.mu.Lock()
	d.delegate = delegate
	d.mu.Unlock()

	if delegate == nil || d.overrides.SkipSubscription {
		return
	}
	d.engine.SetDelegate(ctx, delegate)
}

// Invalidate is the only client-initiated cancellation (spec §5): it
// stops future subscription attempts, drops the delegate, stops the
// connectivity monitor, and halts new work-item execution.
func (d *Device) Invalidate() {
	d.mu.Lock()
	d.delegate = nil
	d.mu.Unlock()

	d.engine.Invalidate()
	d.queue.Cancel()
}

func (d *Device) currentDelegate() Delegate {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.delegate
}

// Reachability reports the subscription engine's current reachability
// state, for the fleet metrics sweep.
func (d *Device) Reachability() shadow.ReachabilityState {
	return d.engine.Reachability()
}

// SubscriptionState reports the subscription engine's lifecycle state,
// for the fleet metrics sweep.
func (d *Device) SubscriptionState() shadow.SubscriptionState {
	return d.engine.State()
}

// QueueLen reports the number of items waiting in this device's work
// queue, for the fleet metrics sweep.
func (d *Device) QueueLen() int {
	return d.queue.Len()
}

// ExpectedCacheLen reports the number of entries currently held in
// this device's expected-value cache, for the fleet metrics sweep.
func (d *Device) ExpectedCacheLen() int {
	return d.expected.Len()
}

// ReadAttribute returns the best currently-known value for path:
// expected (optimistic) value if present, else the cached value,
// else absent. It may additionally enqueue a background refresh read
// when the subscription can't be relied on to report this path's
// future changes, without delaying the return (spec §4.5).
func (d *Device) ReadAttribute(ctx context.Context, path shadow.AttributePath, params workqueue.ReadParams) (shadow.DataValue, bool) {
	if v, ok := d.expected.Lookup(path); ok {
		d.maybeRefresh(ctx, path, params)
		return v, true
	}

	v, ok := d.store.Get(ctx, path)

	d.maybeRefresh(ctx, path, params)
	return v, ok
}

func (d *Device) maybeRefresh(ctx context.Context, path shadow.AttributePath, params workqueue.ReadParams) {
	if d.engine.CanReportFuture() && !isChangesOmitted(path) {
		return
	}
	d.queue.EnqueueRead([]shadow.AttributePath{path}, params, func(res workqueue.Result) {
		d.onReadComplete(res)
	})

	if d.engine.ReadThroughShouldResubscribe() {
		// The guard's result is not acted on here: a read schedules no
		// resubscribe attempt. The engine's own retry timer and
		// connectivity hint drive the next attempt.
		_ = ctx
	}
}

func (d *Device) onReadComplete(res workqueue.Result) {
	if res.Status != workqueue.StatusComplete || len(res.Reports) == 0 {
		return
	}
	reports, configChanged := d.store.IngestBatch(res.Reports)
	if len(reports) == 0 {
		return
	}
	if del := d.currentDelegate(); del != nil {
		del.ReceivedAttributeReport(reports)
		if configChanged {
			del.DeviceConfigurationChanged()
		}
	}
}

// WriteGeneration identifies one installed batch of expected values, so
// a failed operation can roll back exactly the values it installed.
type WriteGeneration = uint64

// WriteAttribute clamps its timing parameters, optimistically installs
// the new value in the expected-value cache (unless test overrides skip
// it), and enqueues the write (spec §4.5 scenario 2).
func (d *Device) WriteAttribute(ctx context.Context, path shadow.AttributePath, value shadow.DataValue, expectedIntervalMs uint32, timedTimeoutMs *uint32) {
	interval := clampExpectedInterval(expectedIntervalMs)
	if timedTimeoutMs != nil {
		clampTimedTimeout(*timedTimeoutMs) // clamped for validation; the work queue has no write-side deadline to carry it to
	}

	var generation uint64
	if !d.overrides.SkipExpectedValues {
		gen, reports := d.expected.Set([]expectedcache.Pending{{Path: path, Value: value}}, interval, func(p shadow.AttributePath) (shadow.DataValue, bool) {
			return d.store.Get(context.Background(), p)
		})
		generation = gen
		d.forwardReports(reports, false)
		d.onExpectedValuesChanged()
	}

	d.queue.EnqueueWrite(path, value, generation, func(res workqueue.Result) {
		d.onWriteComplete(path, generation, res)
	})
}

func (d *Device) onWriteComplete(path shadow.AttributePath, generation uint64, res workqueue.Result) {
	if res.Status == workqueue.StatusComplete && res.Err == nil {
		reports, configChanged := d.store.IngestBatch(res.Reports)
		d.forwardReports(reports, configChanged)
		return
	}

	// Remote/Protocol (and any other) failure: the expected value no
	// longer reflects a pending truth, so it is removed and the cache
	// reconverges (spec §7).
	if generation == 0 {
		return
	}
	report := d.expected.Remove(path, generation, func(p shadow.AttributePath) (shadow.DataValue, bool) {
		return d.store.Get(context.Background(), p)
	})
	if report != nil {
		d.forwardReports([]shadow.AttributeReport{*report}, false)
	}
}

// InvokeSpec is one command invocation request.
type InvokeSpec struct {
	Path                shadow.AttributePath
	Command             shadow.CommandId
	Args                shadow.DataValue
	ExpectedValues      []expectedcache.Pending
	ExpectedIntervalMs  *uint32
	RequiresTimedInvoke bool
	TimedTimeoutMs      *uint32
}

// InvokeCommand installs expected values (if any were provided with a
// positive interval) under one generation, supplies a default timed-
// invoke timeout when the schema requires one and none was given, and
// enqueues the invoke (spec §4.5).
func (d *Device) InvokeCommand(ctx context.Context, spec InvokeSpec) {
	var generation uint64
	if spec.ExpectedIntervalMs != nil && *spec.ExpectedIntervalMs > 0 && len(spec.ExpectedValues) > 0 && !d.overrides.SkipExpectedValues {
		interval := clampExpectedInterval(*spec.ExpectedIntervalMs)
		gen, reports := d.expected.Set(spec.ExpectedValues, interval, func(p shadow.AttributePath) (shadow.DataValue, bool) {
			return d.store.Get(ctx, p)
		})
		generation = gen
		d.forwardReports(reports, false)
		d.onExpectedValuesChanged()
	}

	var opts workqueue.InvokeOptions
	switch {
	case spec.TimedTimeoutMs != nil:
		t := clampTimedTimeout(*spec.TimedTimeoutMs)
		dur := time.Duration(t) * time.Millisecond
		opts.TimedTimeout = &dur
	case spec.RequiresTimedInvoke:
		dur := time.Duration(defaultTimedTimeoutMs) * time.Millisecond
		opts.TimedTimeout = &dur
	}

	d.queue.EnqueueInvoke(spec.Path, spec.Command, spec.Args, opts, func(res workqueue.Result) {
		d.onInvokeComplete(spec.ExpectedValues, generation, res)
	})
}

func (d *Device) onInvokeComplete(expected []expectedcache.Pending, generation uint64, res workqueue.Result) {
	if res.Status == workqueue.StatusComplete && res.Err == nil {
		reports, configChanged := d.store.IngestBatch(res.Reports)
		d.forwardReports(reports, configChanged)
		return
	}

	if generation == 0 {
		return
	}
	var reports []shadow.AttributeReport
	for _, p := range expected {
		if r := d.expected.Remove(p.Path, generation, func(path shadow.AttributePath) (shadow.DataValue, bool) {
			return d.store.Get(context.Background(), path)
		}); r != nil {
			reports = append(reports, *r)
		}
	}
	d.forwardReports(reports, false)
}

func (d *Device) forwardReports(reports []shadow.AttributeReport, configChanged bool) {
	if len(reports) == 0 {
		return
	}
	del := d.currentDelegate()
	if del == nil {
		return
	}
	del.ReceivedAttributeReport(reports)
	if configChanged {
		del.DeviceConfigurationChanged()
	}
}

func clampExpectedInterval(ms uint32) time.Duration {
	if ms < minExpectedIntervalMs {
		ms = minExpectedIntervalMs
	}
	return time.Duration(ms) * time.Millisecond
}

func clampTimedTimeout(ms uint32) uint32 {
	if ms < minTimedTimeoutMs {
		return minTimedTimeoutMs
	}
	if ms > maxTimedTimeoutMs {
		return maxTimedTimeoutMs
	}
	return ms
}
