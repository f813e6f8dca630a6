package subscription

import (
	"errors"
	"sort"

	"github.com/nodefabric/shadowd/internal/shadow"
)

// BuildFilters returns one DataVersionFilter per known cluster version,
// in a deterministic order (so tests and logs are stable; the spec
// only requires the *set* to be correct).
func BuildFilters(versions map[shadow.ClusterPath]shadow.DataVersion) []shadow.DataVersionFilter {
	out := make([]shadow.DataVersionFilter, 0, len(versions))
	for path, v := range versions {
		out = append(out, shadow.DataVersionFilter{Path: path, Version: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path.Endpoint != out[j].Path.Endpoint {
			return out[i].Path.Endpoint < out[j].Path.Endpoint
		}
		return out[i].Path.Cluster < out[j].Path.Cluster
	})
	return out
}

// SubscribeWithFilterRetry attempts to send filters via attempt. If the
// underlying engine reports "no memory", it retries in a tight loop,
// dropping one filter entry each time, until the request succeeds or a
// different error is seen (spec §4.4). It returns the filters actually
// sent and how many entries were dropped.
func SubscribeWithFilterRetry(filters []shadow.DataVersionFilter, attempt func([]shadow.DataVersionFilter) error) ([]shadow.DataVersionFilter, int, error) {
	current := filters
	reduction := 0
	for {
		err := attempt(current)
		if err == nil {
			return current, reduction, nil
		}
		var noMem shadow.NoMemoryError
		if errors.As(err, &noMem) && len(current) > 0 {
			current = current[:len(current)-1]
			reduction++
			continue
		}
		return current, reduction, err
	}
}
