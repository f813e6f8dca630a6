package subscription

import "github.com/nodefabric/shadowd/internal/shadow"

const (
	descriptorCluster = shadow.ClusterId(0x001D)
	attrPartsList      = shadow.AttributeId(0x0001)
	attrDeviceTypeList = shadow.AttributeId(0x0000)
	rootEndpoint       = shadow.EndpointId(0)
)

// Lookup resolves a currently cached attribute value.
type Lookup func(path shadow.AttributePath) (shadow.DataValue, bool)

// IsPrimed implements the cache-primed predicate of spec §4.4: the
// root endpoint's Descriptor parts-list must be present, and every
// endpoint it lists must have its own Descriptor device-type-list
// present.
func IsPrimed(get Lookup) bool {
	parts, ok := get(shadow.AttributePath{Endpoint: rootEndpoint, Cluster: descriptorCluster, Attribute: attrPartsList})
	if !ok || parts.Type != shadow.TypeArray {
		return false
	}
	for _, item := range parts.Array {
		if item.Type != shadow.TypeUnsignedInt {
			return false
		}
		ep := shadow.EndpointId(item.Uint)
		if _, ok := get(shadow.AttributePath{Endpoint: ep, Cluster: descriptorCluster, Attribute: attrDeviceTypeList}); !ok {
			return false
		}
	}
	return true
}
