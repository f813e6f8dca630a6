package graph

//go:generate go run github.com/99designs/gqlgen
import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nodefabric/shadowd/graph/generated"
	"github.com/nodefabric/shadowd/graph/model"
	"github.com/nodefabric/shadowd/internal/shadow"
	"github.com/nodefabric/shadowd/internal/shadow/controller"
	"github.com/nodefabric/shadowd/internal/shadow/workqueue"
)

// Resolver wraps the fleet controller every device query/mutation is
// dispatched through, the same shape as the teacher's Resolver
// wrapping a *sqlx.DB.
type Resolver struct {
	Controller *controller.Controller
}

// NewRootResolvers builds a gqlgen Config bound to ctl, mirroring the
// teacher's NewRootResolvers(db) constructor.
func NewRootResolvers(ctl *controller.Controller) generated.Config {
	return generated.Config{
		Resolvers: &Resolver{Controller: ctl},
	}
}

func parseNodeID(id string) (shadow.NodeId, error) {
	var n uint64
	if _, err := fmt.Sscanf(id, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid nodeId %q: %w", id, err)
	}
	return shadow.NodeId(n), nil
}

func toAttributePath(in model.AttributePathInput) shadow.AttributePath {
	return shadow.AttributePath{
		Endpoint:  shadow.EndpointId(in.Endpoint),
		Cluster:   shadow.ClusterId(in.Cluster),
		Attribute: shadow.AttributeId(in.Attribute),
	}
}

func (r *Resolver) Query() generated.QueryResolver       { return &queryResolver{r} }
func (r *Resolver) Mutation() generated.MutationResolver { return &mutationResolver{r} }

type queryResolver struct{ *Resolver }
type mutationResolver struct{ *Resolver }

func (r *queryResolver) Device(ctx context.Context, nodeID string) (*model.Device, error) {
	node, err := parseNodeID(nodeID)
	if err != nil {
		return nil, err
	}
	dev := r.Controller.Device(node)
	return &model.Device{
		NodeID:            nodeID,
		Reachability:      dev.Reachability().String(),
		SubscriptionState: dev.SubscriptionState().String(),
		QueueDepth:        dev.QueueLen(),
		ExpectedCacheSize: dev.ExpectedCacheLen(),
	}, nil
}

func (r *queryResolver) ReadAttribute(ctx context.Context, nodeID string, path model.AttributePathInput) (*model.AttributeValue, error) {
	node, err := parseNodeID(nodeID)
	if err != nil {
		return nil, err
	}
	ap := toAttributePath(path)
	value, ok := r.Controller.Device(node).ReadAttribute(ctx, ap, workqueue.ReadParams{})
	if !ok {
		return &model.AttributeValue{Endpoint: path.Endpoint, Cluster: path.Cluster, Attribute: path.Attribute, Present: false}, nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return &model.AttributeValue{
		Endpoint:  path.Endpoint,
		Cluster:   path.Cluster,
		Attribute: path.Attribute,
		ValueJSON: string(raw),
		Present:   true,
	}, nil
}
