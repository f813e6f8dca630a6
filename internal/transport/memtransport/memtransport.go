// Package memtransport is an in-process fake of the protocol-stack
// contracts (ReadClient, SessionProvider, OperationIssuer,
// ConnectivityMonitor), backed by a simple in-memory node model. It
// exists for tests and for running a controller against a simulated
// fabric without a NATS broker.
package memtransport

import (
	"context"
	"sync"

	"github.com/nodefabric/shadowd/internal/shadow"
)

// Node is an in-memory simulated device: a fixed attribute map plus a
// per-cluster data version, mutated directly by tests to drive
// scenarios.
type Node struct {
	mu         sync.Mutex
	attributes map[shadow.AttributePath]shadow.DataValue
	versions   map[shadow.ClusterPath]shadow.DataVersion
	listeners  []shadow.ReadClientCallbacks
	busyCount  map[shadow.AttributePath]int
}

// NewNode returns an empty simulated node.
func NewNode() *Node {
	return &Node{
		attributes: make(map[shadow.AttributePath]shadow.DataValue),
		versions:   make(map[shadow.ClusterPath]shadow.DataVersion),
		busyCount:  make(map[shadow.AttributePath]int),
	}
}

// SetAttribute sets an attribute's present value directly, bumping its
// cluster's data version, and fans the change out to every active
// subscriber as an attribute report.
func (n *Node) SetAttribute(path shadow.AttributePath, value shadow.DataValue) {
	n.mu.Lock()
	n.attributes[path] = value
	cp := path.Path()
	n.versions[cp] = n.versions[cp] + 1
	listeners := append([]shadow.ReadClientCallbacks(nil), n.listeners...)
	n.mu.Unlock()

	for _, cb := range listeners {
		cb.OnReportBegin()
		cb.OnAttributeData([]shadow.AttributeReport{{Path: path, Value: value}})
		cb.OnReportEnd()
	}
}

// FailNextInvokesWithBusy makes the next n invokes against path answer
// Busy before any further attempt succeeds (spec §8 scenario 5). The
// error is this package's own busy error, not workqueue.ErrBusy, so a
// workqueue.Queue issuing through Issuer does not retry on it.
func (n *Node) FailNextInvokesWithBusy(path shadow.AttributePath, count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.busyCount[path] = count
}

func (n *Node) get(path shadow.AttributePath) (shadow.DataValue, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.attributes[path]
	return v, ok
}

func (n *Node) versionMap() map[shadow.ClusterPath]shadow.DataVersion {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[shadow.ClusterPath]shadow.DataVersion, len(n.versions))
	for k, v := range n.versions {
		out[k] = v
	}
	return out
}

func (n *Node) addListener(cb shadow.ReadClientCallbacks) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, cb)
	return len(n.listeners) - 1
}

func (n *Node) removeListener(idx int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if idx < 0 || idx >= len(n.listeners) {
		return
	}
	n.listeners = append(n.listeners[:idx], n.listeners[idx+1:]...)
}

// Registry maps NodeId to simulated Node, the moral equivalent of the
// broker address space natstransport uses subjects for.
type Registry struct {
	mu    sync.Mutex
	nodes map[shadow.NodeId]*Node
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return &Registry{nodes: make(map[shadow.NodeId]*Node)} }

// Node returns (creating if needed) the simulated node for id.
func (r *Registry) Node(id shadow.NodeId) *Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if !ok {
		n = NewNode()
		r.nodes[id] = n
	}
	return n
}

// SessionProvider always succeeds immediately.
type SessionProvider struct{ Registry *Registry }

type session struct{ node shadow.NodeId }

func (s session) NodeID() shadow.NodeId { return s.node }

// AcquireSession always succeeds synchronously against the simulated
// fabric.
func (p SessionProvider) AcquireSession(_ context.Context, node shadow.NodeId, onDone func(shadow.SessionHandle, error, *shadow.RetryDelay)) {
	onDone(session{node: node}, nil, nil)
}

// Issuer implements shadow.OperationIssuer directly against a Registry.
type Issuer struct{ Registry *Registry }

// IssueRead answers every requested path from the simulated node's
// current attribute map.
func (i Issuer) IssueRead(_ context.Context, node shadow.NodeId, paths []shadow.AttributePath, onDone func(shadow.OperationResult)) {
	n := i.Registry.Node(node)
	var reports []shadow.AttributeReport
	for _, p := range paths {
		if v, ok := n.get(p); ok {
			reports = append(reports, shadow.AttributeReport{Path: p, Value: v})
		}
	}
	onDone(shadow.OperationResult{Values: reports})
}

// IssueWrite writes directly into the simulated node's attribute map.
func (i Issuer) IssueWrite(_ context.Context, node shadow.NodeId, path shadow.AttributePath, value shadow.DataValue, onDone func(shadow.OperationResult)) {
	n := i.Registry.Node(node)
	n.SetAttribute(path, value)
	onDone(shadow.OperationResult{Values: []shadow.AttributeReport{{Path: path, Value: value}}})
}

// IssueInvoke honors FailNextInvokesWithBusy, otherwise always
// succeeds with no return values.
func (i Issuer) IssueInvoke(_ context.Context, node shadow.NodeId, path shadow.AttributePath, _ shadow.CommandId, _ shadow.DataValue, _ *shadow.RetryDelay, onDone func(shadow.OperationResult)) {
	n := i.Registry.Node(node)
	n.mu.Lock()
	remaining := n.busyCount[path]
	if remaining > 0 {
		n.busyCount[path] = remaining - 1
	}
	n.mu.Unlock()

	if remaining > 0 {
		onDone(shadow.OperationResult{Err: errBusy, Kind: shadow.KindRemote})
		return
	}
	onDone(shadow.OperationResult{})
}

var errBusy = busyError{}

type busyError struct{}

func (busyError) Error() string { return "remote reported busy" }

// ReadClient streams reports for one node by registering as a listener
// on the simulated Node.
type ReadClient struct {
	node        shadow.NodeId
	registry    *Registry
	listenerIdx int
	closed      bool
	cb          shadow.ReadClientCallbacks
	mu          sync.Mutex
}

// NewReadClient returns a ReadClient bound to one simulated node.
func NewReadClient(registry *Registry, node shadow.NodeId) *ReadClient {
	return &ReadClient{node: node, registry: registry}
}

// Subscribe registers cb to receive every subsequent SetAttribute on
// the node and immediately reports established.
func (c *ReadClient) Subscribe(_ context.Context, _ shadow.SessionHandle, _ []shadow.DataVersionFilter, _, _ uint32, cb shadow.ReadClientCallbacks) error {
	n := c.registry.Node(c.node)
	c.mu.Lock()
	c.listenerIdx = n.addListener(cb)
	c.cb = cb
	c.mu.Unlock()
	if cb.OnSubscriptionEstablished != nil {
		cb.OnSubscriptionEstablished()
	}
	return nil
}

// Close deregisters the listener and fires OnDone, per the read-client
// contract (spec §6 "the core guarantees it will not destroy the
// read-client before on_done").
func (c *ReadClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cb := c.cb
	idx := c.listenerIdx
	c.mu.Unlock()

	n := c.registry.Node(c.node)
	n.removeListener(idx)
	if cb.OnDone != nil {
		cb.OnDone()
	}
}

// Monitor is a manually-triggered ConnectivityMonitor for tests.
type Monitor struct {
	mu      sync.Mutex
	handler func()
}

// Start registers handler.
func (m *Monitor) Start(handler func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// Stop deregisters the handler.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = nil
}

// Fire invokes the registered handler, if any, simulating a
// connectivity hint.
func (m *Monitor) Fire() {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h()
	}
}
