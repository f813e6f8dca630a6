// Package workqueue implements the per-device work queue (C3): a
// serialized FIFO of read, write, and invoke items that batches
// compatible operations, suppresses duplicate reads, and retries
// transient failures up to a kind-specific budget.
//
// Issuance is paced with a token-bucket limiter (golang.org/x/time/rate)
// so a burst of writes queued by many devices at once doesn't storm the
// fabric — the same reasoning cc-backend applies when staging metric
// writes, just swapped from a buffer-capacity bound to a rate bound.
package workqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nodefabric/shadowd/internal/shadow"
)

// ErrBusy is the sentinel "busy" status from the remote that alone
// triggers invoke retries (spec §4.3 "only on a specific busy status").
var ErrBusy = errors.New("remote reported busy")

const (
	maxReadBatch     = 9
	readRetryBudget  = 2
	invokeRetryBudget = 5
)

// Kind identifies the shape of a queued operation.
type Kind int

const (
	KindRead Kind = iota
	KindWrite
	KindInvoke
)

// ReadParams governs how a read is allowed to batch: two read items
// may only share a request iff their params are structurally equal
// (spec §4.3 "a single read operation never spans differing params").
type ReadParams struct {
	FabricFiltered bool
}

// Item is one queued operation. Exactly one of the kind-specific
// fields is meaningful, selected by Kind.
type Item struct {
	id   uint64
	kind Kind
	node shadow.NodeId

	// Read
	readParams ReadParams
	readPaths  []shadow.AttributePath

	// Write
	writePath          shadow.AttributePath
	writeValue         shadow.DataValue
	expectedGeneration *uint64

	// Invoke
	invokePath    shadow.AttributePath
	invokeCommand shadow.CommandId
	invokeArgs    shadow.DataValue
	cutoff        *time.Time
	timeout       *time.Duration

	retriesLeft int
	onComplete  func(Result)
}

// Result is delivered to an item's completion callback.
type Result struct {
	Reports []shadow.AttributeReport
	Err     error
	Kind    shadow.ErrorKind
	Status  Status
}

// Status is the coarse outcome reported to delegates (spec §4.3).
type Status int

const (
	StatusComplete Status = iota
	StatusNeedsRetry
	StatusCanceled
)

// Queue is one device's serialized work queue. Not safe to share
// across devices.
type Queue struct {
	mu      sync.Mutex
	node    shadow.NodeId
	items   []*Item
	nextID  uint64
	inFlight bool
	canceled bool

	issuer  shadow.OperationIssuer
	limiter *rate.Limiter
	now     func() time.Time
}

// New returns an empty queue for node, issuing operations through
// issuer at up to ratePerSecond operations/second (burst ratePerSecond+1;
// a non-positive rate means 50).
func New(node shadow.NodeId, issuer shadow.OperationIssuer, ratePerSecond float64) *Queue {
	if ratePerSecond <= 0 {
		ratePerSecond = 50
	}
	return &Queue{
		node:    node,
		issuer:  issuer,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond)+1),
		now:     time.Now,
	}
}

// EnqueueRead enqueues a read for paths under params. If an
// indistinguishable read is already queued, the new one is dropped (a
// duplicate) and enqueued reports false so the caller can serve the
// answer synchronously from cache instead.
func (q *Queue) EnqueueRead(paths []shadow.AttributePath, params ReadParams, onComplete func(Result)) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, existing := range q.items {
		if existing.kind != KindRead {
			continue
		}
		if existing.readParams != params {
			continue
		}
		if samePathSet(existing.readPaths, paths) {
			return false
		}
	}

	q.nextID++
	q.items = append(q.items, &Item{
		id: q.nextID, kind: KindRead, node: q.node,
		readParams: params, readPaths: append([]shadow.AttributePath(nil), paths...),
		retriesLeft: readRetryBudget, onComplete: onComplete,
	})
	return true
}

// EnqueueWrite enqueues a write, replacing (last-writer-wins) any
// already-queued write to the same path.
func (q *Queue) EnqueueWrite(path shadow.AttributePath, value shadow.DataValue, generation uint64, onComplete func(Result)) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, existing := range q.items {
		if existing.kind == KindWrite && existing.writePath == path {
			existing.writeValue = value
			g := generation
			existing.expectedGeneration = &g
			existing.onComplete = onComplete
			return
		}
	}

	q.nextID++
	g := generation
	q.items = append(q.items, &Item{
		id: q.nextID, kind: KindWrite, node: q.node,
		writePath: path, writeValue: value, expectedGeneration: &g,
		onComplete: onComplete,
	})
}

// InvokeOptions configures a queued invoke.
type InvokeOptions struct {
	TimedTimeout *time.Duration
}

// EnqueueInvoke enqueues a command invocation. Invokes never batch
// with anything.
func (q *Queue) EnqueueInvoke(path shadow.AttributePath, command shadow.CommandId, args shadow.DataValue, opts InvokeOptions, onComplete func(Result)) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextID++
	item := &Item{
		id: q.nextID, kind: KindInvoke, node: q.node,
		invokePath: path, invokeCommand: command, invokeArgs: args,
		retriesLeft: invokeRetryBudget, onComplete: onComplete,
	}
	if opts.TimedTimeout != nil {
		cutoff := q.now().Add(*opts.TimedTimeout)
		item.cutoff = &cutoff
		item.timeout = opts.TimedTimeout
	}
	q.items = append(q.items, item)
}

// Len reports the number of queued items, for metrics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cancel stops issuing new operations and reports StatusCanceled to
// every queued item. An already-issued operation still completes at the
// transport, but its callback is not called again with the transport's
// result (spec §5 "invalidate ...
// halts new work-item execution").
func (q *Queue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.canceled = true
	for _, it := range q.items {
		it.onComplete(Result{Status: StatusCanceled})
	}
	q.items = nil
}

// Pump drives the queue forward by one head-of-line item if nothing
// is currently in flight. It is safe to call opportunistically (after
// every enqueue and every completion) because it is a no-op when
// there is nothing to do.
func (q *Queue) Pump(ctx context.Context) {
	q.mu.Lock()
	if q.canceled || q.inFlight || len(q.items) == 0 {
		q.mu.Unlock()
		return
	}
	head := q.items[0]
	q.batch(head)
	q.inFlight = true
	q.mu.Unlock()

	if err := q.limiter.Wait(ctx); err != nil {
		q.complete(head, Result{Status: StatusCanceled, Err: err})
		return
	}
	q.issue(ctx, head)
}

// batch repeatedly merges head with q.items[1] following the rules of
// spec §4.3, removing fully-merged items and stopping at the first
// NotBatched outcome or the queue end. Caller holds q.mu.
func (q *Queue) batch(head *Item) {
	for len(q.items) > 1 {
		next := q.items[1]
		switch head.kind {
		case KindRead:
			if next.kind != KindRead || next.readParams != head.readParams {
				return
			}
			room := maxReadBatch - len(head.readPaths)
			if room <= 0 {
				return
			}
			if len(next.readPaths) <= room {
				head.readPaths = append(head.readPaths, next.readPaths...)
				q.items = append(q.items[:1], q.items[2:]...)
				continue
			}
			head.readPaths = append(head.readPaths, next.readPaths[:room]...)
			next.readPaths = next.readPaths[room:]
			return
		case KindWrite:
			if next.kind != KindWrite || next.writePath != head.writePath {
				return
			}
			head.writeValue = next.writeValue
			head.expectedGeneration = next.expectedGeneration
			head.onComplete = next.onComplete
			q.items = append(q.items[:1], q.items[2:]...)
			continue
		default: // invoke never batches
			return
		}
	}
}

func (q *Queue) issue(ctx context.Context, item *Item) {
	switch item.kind {
	case KindRead:
		q.issuer.IssueRead(ctx, item.node, item.readPaths, func(res shadow.OperationResult) {
			q.onIssued(item, res)
		})
	case KindWrite:
		q.issuer.IssueWrite(ctx, item.node, item.writePath, item.writeValue, func(res shadow.OperationResult) {
			q.onIssued(item, res)
		})
	case KindInvoke:
		now := q.now()
		if item.cutoff != nil && now.After(*item.cutoff) {
			q.onIssued(item, shadow.OperationResult{Err: errTimeout, Kind: shadow.KindTimeout})
			return
		}
		var remaining *shadow.RetryDelay
		if item.cutoff != nil {
			remaining = &shadow.RetryDelay{Seconds: item.cutoff.Sub(now).Seconds()}
		}
		q.issuer.IssueInvoke(ctx, item.node, item.invokePath, item.invokeCommand, item.invokeArgs, remaining, func(res shadow.OperationResult) {
			q.onIssued(item, res)
		})
	}
}

var errTimeout = errors.New("timed invoke deadline exceeded")

func (q *Queue) onIssued(item *Item, res shadow.OperationResult) {
	if res.Err == nil {
		q.complete(item, Result{Reports: res.Values, Status: StatusComplete})
		return
	}

	retryable := item.kind == KindRead && res.Kind == shadow.KindTransient ||
		item.kind == KindInvoke && errors.Is(res.Err, ErrBusy)

	if retryable && item.retriesLeft > 0 {
		item.retriesLeft--
		q.mu.Lock()
		q.inFlight = false
		q.mu.Unlock()
		q.issue(context.Background(), item)
		return
	}

	q.complete(item, Result{Err: res.Err, Kind: res.Kind, Status: StatusComplete})
}

func (q *Queue) complete(item *Item, result Result) {
	q.mu.Lock()
	if len(q.items) > 0 && q.items[0] == item {
		q.items = q.items[1:]
	}
	q.inFlight = false
	canceled := q.canceled
	q.mu.Unlock()

	// Cancel has already reported StatusCanceled to every item it
	// dropped, including the one in flight.
	if canceled {
		return
	}
	if item.onComplete != nil {
		item.onComplete(result)
	}
}

func samePathSet(a, b []shadow.AttributePath) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
