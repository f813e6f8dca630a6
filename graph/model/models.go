// Package model holds the hand-written GraphQL models that sit
// alongside gqlgen's generated ones. See gqlgen.yml for what gqlgen
// generates into models_gen.go versus what lives here.
package model

// Device is the resolver-facing summary of one node's shadow state.
type Device struct {
	NodeID            string `json:"nodeId"`
	Reachability      string `json:"reachability"`
	SubscriptionState string `json:"subscriptionState"`
	QueueDepth        int    `json:"queueDepth"`
	ExpectedCacheSize int    `json:"expectedCacheSize"`
}

// AttributeValue is one attribute's value, carried as its canonical
// JSON encoding rather than a GraphQL union over every DataValue
// shape.
type AttributeValue struct {
	Endpoint  int    `json:"endpoint"`
	Cluster   int    `json:"cluster"`
	Attribute int    `json:"attribute"`
	ValueJSON string `json:"valueJSON"`
	Present   bool   `json:"present"`
}
