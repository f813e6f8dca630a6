package shadow

import "context"

// Storage is the narrow contract C1 consumes from the on-disk storage
// implementation (spec §6). Values are opaque to the core; only
// structural equality (ClusterData.Equal) is ever used on them.
type Storage interface {
	Load(ctx context.Context, node NodeId, path ClusterPath) (ClusterData, bool, error)
	Store(ctx context.Context, node NodeId, clusters map[ClusterPath]ClusterData) error
}

// SessionHandle is an opaque handle to an established session with a
// node, returned by SessionProvider and passed back opaquely to
// ReadClient operations. Its internals belong to the interaction-model
// engine, which is out of scope for this spec.
type SessionHandle interface {
	NodeID() NodeId
}

// SessionProvider is the narrow contract C4 consumes to acquire a
// session before it can establish a subscription or issue an
// operation. Real implementations negotiate PASE/CASE and message
// framing; none of that is modeled here.
type SessionProvider interface {
	// AcquireSession asks for a session to node, completing
	// asynchronously via the callback. This never blocks the device
	// queue (spec §5 "suspension points").
	AcquireSession(ctx context.Context, node NodeId, onDone func(SessionHandle, error, *RetryDelay))
}

// RetryDelay is an optional server-suggested backoff delay (spec §4.4
// "with a server-provided delay d").
type RetryDelay struct {
	Seconds float64
}

// DataVersionFilter is one entry of a subscription's data-version
// filter list, built from C1 to avoid re-sending unchanged clusters in
// a priming report.
type DataVersionFilter struct {
	Path    ClusterPath
	Version DataVersion
}

// AttributeReport is one entry of an incoming report batch, as
// delivered by the read client and as forwarded to delegates.
type AttributeReport struct {
	Path     AttributePath
	Value    DataValue
	Previous *DataValue
	Err      error
}

// EventReport is one event delivered in a report batch.
type EventReport struct {
	Path         AttributePath
	Event        EventId
	Value        DataValue
	IsHistorical bool
}

// ReadClientCallbacks are the nine callbacks a read-client accepts, per
// spec §6. The core guarantees it will not destroy the read client
// before OnDone fires.
type ReadClientCallbacks struct {
	OnAttributeData         func(batch []AttributeReport)
	OnEventData              func(batch []EventReport)
	OnError                  func(err error)
	OnResubscriptionNeeded   func(err error)
	OnSubscriptionEstablished func()
	OnDone                   func()
	OnUnsolicitedMessage     func()
	OnReportBegin            func()
	OnReportEnd              func()
}

// ReadClient is the narrow contract C4 consumes to run an
// auto-resubscribing streaming read against a node.
type ReadClient interface {
	// Subscribe issues an auto-resubscribing read with the given
	// filters and interval bounds. minIntervalSeconds/maxIntervalSeconds
	// follow spec §4.4 ("min-interval 0 and max-interval in [60,3600]").
	Subscribe(ctx context.Context, session SessionHandle, filters []DataVersionFilter, minIntervalSeconds, maxIntervalSeconds uint32, cb ReadClientCallbacks) error
	// Close tears down the read client. OnDone still fires.
	Close()
}

// NoMemoryError is returned by ReadClient.Subscribe when the
// underlying engine reports it is out of memory for the requested
// filter list; the subscription engine retries with a shorter filter
// list (spec §4.4).
type NoMemoryError struct{}

func (NoMemoryError) Error() string { return "no memory for subscribe request" }

// ConnectivityMonitor is the narrow contract C4 consumes to get a hint
// that routability to a node may have improved.
type ConnectivityMonitor interface {
	Start(handler func())
	Stop()
}

// OperationResult is returned by the transport for a single read,
// write, or invoke attempt.
type OperationResult struct {
	Values []AttributeReport
	Err    error
	Kind   ErrorKind
	// RetryDelay, if non-nil, is a server-provided delay overriding
	// the backoff computation (spec §4.3, §4.4).
	RetryDelay *RetryDelay
}

// OperationIssuer is the narrow contract C3 consumes to actually send
// a read, write, or invoke to the node once it is head-of-line.
type OperationIssuer interface {
	IssueRead(ctx context.Context, node NodeId, paths []AttributePath, onDone func(OperationResult))
	IssueWrite(ctx context.Context, node NodeId, path AttributePath, value DataValue, onDone func(OperationResult))
	IssueInvoke(ctx context.Context, node NodeId, path AttributePath, command CommandId, args DataValue, timeout *RetryDelay, onDone func(OperationResult))
}
