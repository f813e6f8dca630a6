package natstransport

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nodefabric/shadowd/internal/shadow"
	"github.com/nodefabric/shadowd/internal/shadow/workqueue"
	ccnats "github.com/nodefabric/shadowd/pkg/nats"
)

// natsClient is the narrow slice of pkg/nats.Client this package
// depends on, so tests can supply a fake without a live broker.
type natsClient interface {
	Request(subject string, data []byte, ctx context.Context) ([]byte, error)
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler ccnats.MessageHandler) error
}

// Issuer implements shadow.OperationIssuer over NATS request/reply.
type Issuer struct {
	client natsClient
}

// NewIssuer wraps an existing NATS client.
func NewIssuer(client *ccnats.Client) *Issuer {
	return &Issuer{client: client}
}

func toAttributeReports(results []attributeResult) []shadow.AttributeReport {
	out := make([]shadow.AttributeReport, len(results))
	for i, r := range results {
		out[i] = shadow.AttributeReport{Path: r.Path, Value: r.Value}
		if r.Err != "" {
			out[i].Err = errors.New(r.Err)
		}
	}
	return out
}

// IssueRead sends a batched read request and reports the decoded
// per-path results.
func (i *Issuer) IssueRead(ctx context.Context, node shadow.NodeId, paths []shadow.AttributePath, onDone func(shadow.OperationResult)) {
	raw, err := i.client.Request(subjectRead(node), marshal(readRequest{Paths: paths}), ctx)
	if err != nil {
		onDone(shadow.OperationResult{Err: err, Kind: shadow.KindTransient})
		return
	}
	var resp readResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		onDone(shadow.OperationResult{Err: err, Kind: shadow.KindProtocol})
		return
	}
	if resp.Err != "" {
		onDone(shadow.OperationResult{Err: errors.New(resp.Err), Kind: shadow.KindRemote})
		return
	}
	onDone(shadow.OperationResult{Values: toAttributeReports(resp.Results)})
}

// IssueWrite sends a single write request.
func (i *Issuer) IssueWrite(ctx context.Context, node shadow.NodeId, path shadow.AttributePath, value shadow.DataValue, onDone func(shadow.OperationResult)) {
	raw, err := i.client.Request(subjectWrite(node), marshal(writeRequest{Path: path, Value: value}), ctx)
	if err != nil {
		onDone(shadow.OperationResult{Err: err, Kind: shadow.KindTransient})
		return
	}
	var resp writeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		onDone(shadow.OperationResult{Err: err, Kind: shadow.KindProtocol})
		return
	}
	if resp.Err != "" {
		onDone(shadow.OperationResult{Err: errors.New(resp.Err), Kind: shadow.KindRemote})
		return
	}
	onDone(shadow.OperationResult{Values: []shadow.AttributeReport{{Path: path, Value: value}}})
}

// IssueInvoke sends a command invocation request. A Busy response maps
// to workqueue.ErrBusy so the queue's invoke-retry rule (spec §4.3)
// recognizes it.
func (i *Issuer) IssueInvoke(ctx context.Context, node shadow.NodeId, path shadow.AttributePath, command shadow.CommandId, args shadow.DataValue, timeout *shadow.RetryDelay, onDone func(shadow.OperationResult)) {
	req := invokeRequest{Path: path, Command: command, Args: args}
	if timeout != nil {
		req.TimeoutSeconds = &timeout.Seconds
	}
	raw, err := i.client.Request(subjectInvoke(node), marshal(req), ctx)
	if err != nil {
		onDone(shadow.OperationResult{Err: err, Kind: shadow.KindTransient})
		return
	}
	var resp invokeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		onDone(shadow.OperationResult{Err: err, Kind: shadow.KindProtocol})
		return
	}
	if resp.Busy {
		onDone(shadow.OperationResult{Err: workqueue.ErrBusy, Kind: shadow.KindRemote})
		return
	}
	if resp.Err != "" {
		onDone(shadow.OperationResult{Err: errors.New(resp.Err), Kind: shadow.KindRemote})
		return
	}
	onDone(shadow.OperationResult{Values: toAttributeReports(resp.Results)})
}
