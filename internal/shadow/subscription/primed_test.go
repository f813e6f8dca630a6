package subscription

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodefabric/shadowd/internal/shadow"
)

func epArray(eps ...uint64) shadow.DataValue {
	v := shadow.DataValue{Type: shadow.TypeArray}
	for _, e := range eps {
		v.Array = append(v.Array, shadow.DataValue{Type: shadow.TypeUnsignedInt, Uint: e})
	}
	return v
}

func TestIsPrimedRequiresPartsListAndEveryEndpoint(t *testing.T) {
	cache := map[shadow.AttributePath]shadow.DataValue{}
	get := func(p shadow.AttributePath) (shadow.DataValue, bool) {
		v, ok := cache[p]
		return v, ok
	}

	require.False(t, IsPrimed(get))

	cache[shadow.AttributePath{Endpoint: 0, Cluster: descriptorCluster, Attribute: attrPartsList}] = epArray(1, 2)
	require.False(t, IsPrimed(get), "missing per-endpoint device-type-list")

	cache[shadow.AttributePath{Endpoint: 1, Cluster: descriptorCluster, Attribute: attrDeviceTypeList}] = shadow.DataValue{Type: shadow.TypeArray}
	require.False(t, IsPrimed(get))

	cache[shadow.AttributePath{Endpoint: 2, Cluster: descriptorCluster, Attribute: attrDeviceTypeList}] = shadow.DataValue{Type: shadow.TypeArray}
	require.True(t, IsPrimed(get))
}
