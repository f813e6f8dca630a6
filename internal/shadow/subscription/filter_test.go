package subscription

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodefabric/shadowd/internal/shadow"
)

func TestBuildFiltersMatchesVersionMap(t *testing.T) {
	versions := map[shadow.ClusterPath]shadow.DataVersion{
		{Endpoint: 0, Cluster: 0x1D}: 7,
	}
	filters := BuildFilters(versions)
	require.Len(t, filters, 1)
	require.Equal(t, shadow.DataVersion(7), filters[0].Version)
}

func TestSubscribeWithFilterRetryDropsOneEntryPerNoMemory(t *testing.T) {
	filters := []shadow.DataVersionFilter{{}, {}, {}}
	attempts := 0
	sent, reduction, err := SubscribeWithFilterRetry(filters, func(f []shadow.DataVersionFilter) error {
		attempts++
		if len(f) > 1 {
			return shadow.NoMemoryError{}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, reduction)
	require.Len(t, sent, 1)
	require.Equal(t, 3, attempts)
}

func TestSubscribeWithFilterRetryStopsOnOtherError(t *testing.T) {
	filters := []shadow.DataVersionFilter{{}, {}}
	other := errors.New("send failed")
	_, reduction, err := SubscribeWithFilterRetry(filters, func(f []shadow.DataVersionFilter) error {
		if len(f) == 2 {
			return shadow.NoMemoryError{}
		}
		return other
	})
	require.ErrorIs(t, err, other)
	require.Equal(t, 1, reduction)
}
