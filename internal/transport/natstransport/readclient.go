package natstransport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/nodefabric/shadowd/internal/shadow"
	ccnats "github.com/nodefabric/shadowd/pkg/nats"
)

// ReadClient implements shadow.ReadClient: it issues a subscribe
// request naming the desired filters and interval bounds, then
// consumes a continuous stream of reportMessage frames off the node's
// reports subject until Close.
type ReadClient struct {
	node   shadow.NodeId
	client natsClient

	mu    sync.Mutex
	subID int // incremented on every Subscribe, used to ignore frames from a torn-down generation
	cb    shadow.ReadClientCallbacks
}

// NewReadClient builds a ReadClient bound to one node.
func NewReadClient(node shadow.NodeId, client *ccnats.Client) *ReadClient {
	return &ReadClient{node: node, client: client}
}

// Subscribe sends the subscribe request and, on success, starts
// consuming the node's reports subject. NoMemoryError is returned
// verbatim so subscription.SubscribeWithFilterRetry can react to it.
func (c *ReadClient) Subscribe(ctx context.Context, _ shadow.SessionHandle, filters []shadow.DataVersionFilter, minIntervalSeconds, maxIntervalSeconds uint32, cb shadow.ReadClientCallbacks) error {
	raw, err := c.client.Request(subjectSubscribe(c.node), marshal(subscribeRequest{
		Filters:            filters,
		MinIntervalSeconds: minIntervalSeconds,
		MaxIntervalSeconds: maxIntervalSeconds,
	}), ctx)
	if err != nil {
		return err
	}
	var resp subscribeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return err
	}
	if resp.NoMemory {
		return shadow.NoMemoryError{}
	}
	if resp.Err != "" {
		return errors.New(resp.Err)
	}

	c.mu.Lock()
	c.subID++
	generation := c.subID
	c.cb = cb
	c.mu.Unlock()

	err = c.client.Subscribe(subjectReports(c.node), func(_ string, data []byte) {
		c.mu.Lock()
		current := c.subID
		c.mu.Unlock()
		if current != generation {
			return // a later Subscribe/Close superseded this stream
		}
		c.dispatch(data, cb)
	})
	if err != nil {
		return err
	}

	cb.OnSubscriptionEstablished()
	return nil
}

func (c *ReadClient) dispatch(data []byte, cb shadow.ReadClientCallbacks) {
	var msg reportMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		cb.OnError(err)
		return
	}
	switch msg.Kind {
	case "attributes":
		cb.OnAttributeData(toAttributeReports(msg.Attributes))
	case "events":
		out := make([]shadow.EventReport, len(msg.Events))
		for i, e := range msg.Events {
			out[i] = shadow.EventReport{Path: e.Path, Event: e.Event, Value: e.Value}
		}
		cb.OnEventData(out)
	case "report_begin":
		cb.OnReportBegin()
	case "report_end":
		cb.OnReportEnd()
	case "resubscribe":
		cb.OnResubscriptionNeeded(errors.New(msg.Err))
	case "unsolicited":
		cb.OnUnsolicitedMessage()
	case "error":
		cb.OnError(errors.New(msg.Err))
	}
}

// Close tears down this generation; in-flight frames from it are
// dropped, and OnDone fires since the read client considers itself
// fully torn down at this point.
func (c *ReadClient) Close() {
	c.mu.Lock()
	c.subID++
	cb := c.cb
	c.mu.Unlock()
	if cb.OnDone != nil {
		cb.OnDone()
	}
}
