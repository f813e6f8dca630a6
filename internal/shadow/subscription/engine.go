// Package subscription implements the subscription lifecycle state
// machine (C4): establishing a live subscription to a node, priming
// reports, resubscribe with exponential backoff, connectivity-
// triggered fast retry, and report intake.
package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/nodefabric/shadowd/internal/shadow"
)

// Delegate is the subset of the Device Facade's delegate dispatch that
// the subscription engine drives directly (spec §6).
type Delegate interface {
	StateChanged(shadow.ReachabilityState)
	ReceivedAttributeReport(batch []shadow.AttributeReport)
	ReceivedEventReport(batch []shadow.EventReport)
	DeviceCachePrimed()
	DeviceConfigurationChanged()
	DeviceBecameActive()
}

// ClusterStore is the narrow slice of C1 the engine needs: a version
// map to build filters from, batch ingestion, and point lookups to
// evaluate the cache-primed predicate.
type ClusterStore interface {
	DataVersionMap() map[shadow.ClusterPath]shadow.DataVersion
	IngestBatch(entries []shadow.AttributeReport) (reports []shadow.AttributeReport, configChanged bool)
	Get(ctx context.Context, path shadow.AttributePath) (shadow.DataValue, bool)
	FlushIfDirty(ctx context.Context) error
}

const unreachableTimerDelay = 10 * time.Second
const readThroughStalenessGuard = 10 * time.Minute

// Engine drives one device's subscription lifecycle. Not safe to share
// across devices.
type Engine struct {
	node      shadow.NodeId
	sessions  shadow.SessionProvider
	newClient func(shadow.NodeId) shadow.ReadClient
	monitor   shadow.ConnectivityMonitor
	store     ClusterStore
	overrides shadow.TestOverrides

	mu               sync.Mutex
	state            shadow.SubscriptionState
	reachability     shadow.ReachabilityState
	backoff          *Backoff
	lastFailureAt    time.Time
	hasFailedOnce    bool
	cachePrimedFired bool
	primingActive    bool
	delegate         Delegate
	readClient       shadow.ReadClient
	monitorActive    bool
	unreachableTimer *time.Timer
	retryTimer       *time.Timer

	// dispatch executes a delegate callback. Production code runs it
	// asynchronously on the delegate's own queue; tests can run it
	// inline by supplying a synchronous func.
	dispatch func(func())
}

// New returns an Engine in state Unsubscribed.
func New(node shadow.NodeId, sessions shadow.SessionProvider, newClient func(shadow.NodeId) shadow.ReadClient, monitor shadow.ConnectivityMonitor, store ClusterStore, overrides shadow.TestOverrides) *Engine {
	return &Engine{
		node:      node,
		sessions:  sessions,
		newClient: newClient,
		monitor:   monitor,
		store:     store,
		overrides: overrides,
		backoff:   NewBackoff(),
		dispatch:  func(f func()) { go f() },
	}
}

// SetDispatcher overrides how delegate callbacks are scheduled; tests
// use this to run them synchronously and deterministically.
func (e *Engine) SetDispatcher(d func(func())) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dispatch = d
}

// State returns the current internal subscription state.
func (e *Engine) State() shadow.SubscriptionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Reachability returns the current public reachability state.
func (e *Engine) Reachability() shadow.ReachabilityState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reachability
}

// CanReportFuture reports whether the engine believes it can deliver
// future reports for this device right now (spec §4.5 read-through
// fallback condition).
func (e *Engine) CanReportFuture() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.delegate != nil && !e.overrides.SkipSubscription && e.state != shadow.StateUnsubscribed
}

// SetDelegate installs a delegate and, unless overridden, begins
// establishing a subscription (spec §4.4 Unsubscribed -> Subscribing).
func (e *Engine) SetDelegate(ctx context.Context, d Delegate) {
	e.mu.Lock()
	e.delegate = d
	firePrimed := false
	if !e.cachePrimedFired && IsPrimed(func(p shadow.AttributePath) (shadow.DataValue, bool) { return e.store.Get(ctx, p) }) {
		e.cachePrimedFired = true
		firePrimed = true
	}
	alreadyStarting := e.state != shadow.StateUnsubscribed || e.overrides.SkipSubscription
	if !alreadyStarting {
		e.state = shadow.StateSubscribing
	}
	e.mu.Unlock()

	if firePrimed {
		e.emit(func() { d.DeviceCachePrimed() })
	}
	if alreadyStarting {
		return
	}

	e.armUnreachableTimer()
	e.attemptEstablish(ctx)
}

// Invalidate stops future subscription attempts, drops the delegate,
// and stops the connectivity monitor, without changing internal state
// (spec §4.4 "do not change internal state if a read client is still
// live").
func (e *Engine) Invalidate() {
	e.mu.Lock()
	e.delegate = nil
	if e.unreachableTimer != nil {
		e.unreachableTimer.Stop()
	}
	if e.retryTimer != nil {
		e.retryTimer.Stop()
	}
	if e.monitorActive {
		e.monitor.Stop()
		e.monitorActive = false
	}
	rc := e.readClient
	e.mu.Unlock()

	if rc != nil {
		rc.Close()
	}
}

func (e *Engine) armUnreachableTimer() {
	e.mu.Lock()
	if e.unreachableTimer != nil {
		e.unreachableTimer.Stop()
	}
	e.unreachableTimer = time.AfterFunc(unreachableTimerDelay, func() {
		e.mu.Lock()
		becomeUnreachable := e.state == shadow.StateSubscribing && e.reachability != shadow.ReachabilityUnreachable
		if becomeUnreachable {
			e.reachability = shadow.ReachabilityUnreachable
		}
		d := e.delegate
		e.mu.Unlock()
		if becomeUnreachable && d != nil {
			e.emit(func() { d.StateChanged(shadow.ReachabilityUnreachable) })
		}
	})
	e.mu.Unlock()
}

func (e *Engine) attemptEstablish(ctx context.Context) {
	e.sessions.AcquireSession(ctx, e.node, func(session shadow.SessionHandle, err error, delay *shadow.RetryDelay) {
		if err != nil {
			e.onFailure(ctx, delay)
			return
		}
		e.subscribe(ctx, session)
	})
}

func (e *Engine) subscribe(ctx context.Context, session shadow.SessionHandle) {
	versions := e.store.DataVersionMap()
	filters := BuildFilters(versions)

	client := e.newClient(e.node)

	minInterval, maxInterval := uint32(0), clampMaxInterval(e.testOverride())

	_, _, err := SubscribeWithFilterRetry(filters, func(f []shadow.DataVersionFilter) error {
		return client.Subscribe(ctx, session, f, minInterval, maxInterval, shadow.ReadClientCallbacks{
			OnAttributeData:           e.onAttributeData,
			OnEventData:               e.onEventData,
			OnError:                   func(err error) { e.onReadClientError(ctx) },
			OnResubscriptionNeeded:    func(err error) { e.onResubscriptionNeeded(ctx) },
			OnSubscriptionEstablished: e.onSubscriptionEstablished,
			OnDone:                    e.onDone,
			OnUnsolicitedMessage:      e.onUnsolicitedMessage,
			OnReportBegin:             e.onReportBegin,
			OnReportEnd:               e.onReportEnd,
		})
	})

	if err != nil {
		client.Close()
		e.onFailure(ctx, nil)
		return
	}

	e.mu.Lock()
	e.readClient = client
	e.mu.Unlock()
}

func (e *Engine) testOverride() *shadow.IntervalRange {
	return e.overrides.SubscriptionIntervalOverride
}

func clampMaxInterval(override *shadow.IntervalRange) uint32 {
	if override != nil {
		return override.MaxSeconds
	}
	return 3600
}

func (e *Engine) onFailure(ctx context.Context, serverDelay *shadow.RetryDelay) {
	var delay *time.Duration
	if serverDelay != nil {
		d := time.Duration(serverDelay.Seconds * float64(time.Second))
		delay = &d
	}
	wait := e.backoff.Failure(delay)

	e.mu.Lock()
	e.lastFailureAt = time.Now()
	e.hasFailedOnce = true
	wasEstablished := e.state == shadow.StateInitialEstablished
	e.state = shadow.StateSubscribing

	var newReach shadow.ReachabilityState
	reachChanged := false
	if wasEstablished {
		if e.reachability != shadow.ReachabilityUnknown {
			newReach = shadow.ReachabilityUnknown
			reachChanged = true
		}
	} else if e.reachability != shadow.ReachabilityUnreachable {
		newReach = shadow.ReachabilityUnreachable
		reachChanged = true
	}
	if reachChanged {
		e.reachability = newReach
	}
	d := e.delegate
	if !e.monitorActive && d != nil {
		e.monitorActive = true
	}
	startMonitor := e.monitorActive
	if e.retryTimer != nil {
		e.retryTimer.Stop()
	}
	e.retryTimer = time.AfterFunc(wait, func() { e.attemptEstablish(ctx) })
	e.mu.Unlock()

	if reachChanged && d != nil {
		e.emit(func() { d.StateChanged(newReach) })
	}
	if startMonitor {
		e.monitor.Start(func() { e.onConnectivityHint(ctx) })
	}
}

// onConnectivityHint implements the connectivity-triggered fast retry
// of spec §4.4: if reachability is not Reachable, schedule an
// immediate resubscribe and reset the backoff counter.
func (e *Engine) onConnectivityHint(ctx context.Context) {
	e.mu.Lock()
	if e.reachability == shadow.ReachabilityReachable {
		e.mu.Unlock()
		return
	}
	if e.retryTimer != nil {
		e.retryTimer.Stop()
	}
	e.backoff.Success() // reset: a stuck backoff must not block a now-reachable device
	e.mu.Unlock()

	e.attemptEstablish(ctx)
}

func (e *Engine) onSubscriptionEstablished() {
	e.backoff.Success()

	e.mu.Lock()
	e.state = shadow.StateInitialEstablished
	reachChanged := e.reachability != shadow.ReachabilityReachable
	e.reachability = shadow.ReachabilityReachable
	if e.unreachableTimer != nil {
		e.unreachableTimer.Stop()
	}
	if e.monitorActive {
		e.monitor.Stop()
		e.monitorActive = false
	}
	firePrimed := false
	if !e.cachePrimedFired && IsPrimed(func(p shadow.AttributePath) (shadow.DataValue, bool) {
		return e.store.Get(context.Background(), p)
	}) {
		e.cachePrimedFired = true
		firePrimed = true
	}
	d := e.delegate
	e.mu.Unlock()

	if d == nil {
		return
	}
	if reachChanged {
		e.emit(func() { d.StateChanged(shadow.ReachabilityReachable) })
	}
	if firePrimed {
		e.emit(func() { d.DeviceCachePrimed() })
	}
}

func (e *Engine) onResubscriptionNeeded(ctx context.Context) {
	e.mu.Lock()
	reachChanged := e.reachability != shadow.ReachabilityUnknown
	e.reachability = shadow.ReachabilityUnknown
	e.lastFailureAt = time.Now()
	d := e.delegate
	if !e.monitorActive && d != nil {
		e.monitorActive = true
	}
	startMonitor := e.monitorActive
	e.mu.Unlock()

	if reachChanged && d != nil {
		e.emit(func() { d.StateChanged(shadow.ReachabilityUnknown) })
	}
	if startMonitor {
		e.monitor.Start(func() { e.onConnectivityHint(ctx) })
	}
}

func (e *Engine) onReadClientError(ctx context.Context) {
	e.onFailure(ctx, nil)
}

func (e *Engine) onDone() {
	e.mu.Lock()
	e.readClient = nil
	e.mu.Unlock()
}

// onUnsolicitedMessage handles an out-of-band publisher message. Per
// spec §9, calling reattempt-now here is only meaningful in one of two
// states that cannot co-occur with an active subscription that is
// already receiving unsolicited messages, so in the common path this
// is a reachability/activity signal only.
func (e *Engine) onUnsolicitedMessage() {
	e.mu.Lock()
	reachChanged := e.reachability != shadow.ReachabilityReachable
	e.reachability = shadow.ReachabilityReachable
	d := e.delegate
	e.mu.Unlock()

	if d == nil {
		return
	}
	if reachChanged {
		e.emit(func() { d.StateChanged(shadow.ReachabilityReachable) })
	}
	e.emit(func() { d.DeviceBecameActive() })
}

func (e *Engine) onReportBegin() {
	e.mu.Lock()
	e.primingActive = e.reachability != shadow.ReachabilityReachable
	e.mu.Unlock()
}

// onReportEnd closes out a report batch. Per spec §4.1 "Persistence
// trigger", a flush is attempted exactly once here, after every batch,
// regardless of whether a delegate is installed; a failed flush simply
// leaves the dirty set intact for the next batch or the periodic flush
// worker to retry (spec §7).
func (e *Engine) onReportEnd() {
	e.mu.Lock()
	e.primingActive = false
	e.mu.Unlock()

	_ = e.store.FlushIfDirty(context.Background())
}

func (e *Engine) onAttributeData(batch []shadow.AttributeReport) {
	reports, configChanged := e.store.IngestBatch(batch)

	e.mu.Lock()
	d := e.delegate
	e.mu.Unlock()
	if d == nil || len(reports) == 0 {
		if d != nil && configChanged {
			e.emit(func() { d.DeviceConfigurationChanged() })
		}
		return
	}
	e.emit(func() { d.ReceivedAttributeReport(reports) })
	if configChanged {
		e.emit(func() { d.DeviceConfigurationChanged() })
	}
}

func (e *Engine) onEventData(batch []shadow.EventReport) {
	e.mu.Lock()
	historical := e.primingActive
	d := e.delegate
	e.mu.Unlock()

	if d == nil {
		return
	}
	tagged := make([]shadow.EventReport, len(batch))
	for i, ev := range batch {
		ev.IsHistorical = historical
		tagged[i] = ev
	}
	e.emit(func() { d.ReceivedEventReport(tagged) })
}

// ReadThroughShouldResubscribe implements spec §4.4's 10-minute guard:
// it reports whether reachability is not Reachable and the last failure
// is more than 10 minutes old. It only reports; it schedules nothing.
func (e *Engine) ReadThroughShouldResubscribe() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reachability == shadow.ReachabilityReachable {
		return false
	}
	if !e.hasFailedOnce {
		return false
	}
	return time.Since(e.lastFailureAt) > readThroughStalenessGuard
}

func (e *Engine) emit(f func()) {
	e.mu.Lock()
	dispatch := e.dispatch
	e.mu.Unlock()
	dispatch(f)
}
