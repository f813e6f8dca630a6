package graph

// This file will be automatically regenerated based on the schema, any resolver implementations
// will be copied through when generating and any unknown code will be moved to the end.

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nodefabric/shadowd/graph/model"
	"github.com/nodefabric/shadowd/internal/shadow"
	"github.com/nodefabric/shadowd/internal/shadow/device"
	"github.com/nodefabric/shadowd/internal/shadow/expectedcache"
)

func clampedUint32(v *int) *uint32 {
	if v == nil {
		return nil
	}
	u := uint32(*v)
	return &u
}

func (r *mutationResolver) WriteAttribute(ctx context.Context, input model.WriteAttributeInput) (*model.WriteAttributeResult, error) {
	node, err := parseNodeID(input.NodeID)
	if err != nil {
		return nil, err
	}

	var value shadow.DataValue
	if err := json.Unmarshal([]byte(input.ValueJSON), &value); err != nil {
		return nil, fmt.Errorf("invalid valueJSON: %w", err)
	}

	var intervalMs uint32
	if input.ExpectedIntervalMs != nil {
		intervalMs = uint32(*input.ExpectedIntervalMs)
	}

	r.Controller.Device(node).WriteAttribute(ctx, toAttributePath(input.Path), value, intervalMs, clampedUint32(input.TimedTimeoutMs))
	return &model.WriteAttributeResult{Accepted: true}, nil
}

func (r *mutationResolver) InvokeCommand(ctx context.Context, input model.InvokeCommandInput) (*model.InvokeCommandResult, error) {
	node, err := parseNodeID(input.NodeID)
	if err != nil {
		return nil, err
	}

	var args shadow.DataValue
	if err := json.Unmarshal([]byte(input.ArgsJSON), &args); err != nil {
		return nil, fmt.Errorf("invalid argsJSON: %w", err)
	}

	spec := device.InvokeSpec{
		Path:           toAttributePath(input.Path),
		Command:        shadow.CommandId(input.Command),
		Args:           args,
		ExpectedValues: []expectedcache.Pending{},
	}
	if input.ExpectedIntervalMs != nil {
		v := uint32(*input.ExpectedIntervalMs)
		spec.ExpectedIntervalMs = &v
	}
	spec.TimedTimeoutMs = clampedUint32(input.TimedTimeoutMs)

	r.Controller.Device(node).InvokeCommand(ctx, spec)
	return &model.InvokeCommandResult{Accepted: true}, nil
}
