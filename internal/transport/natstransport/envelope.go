// Package natstransport implements the protocol-stack contracts (C4's
// ReadClient/SessionProvider, C3's OperationIssuer, and a connectivity
// monitor) on top of a NATS connection, using the same request/response
// and pub/sub shapes the teacher's own pkg/nats wrapper exposes.
//
// A node's subjects are namespaced under "shadow.<nodeId>.": ".read",
// ".write", and ".invoke" are request/reply; ".reports" carries a
// continuous stream of attribute/event batches once a subscription is
// established on the node side.
package natstransport

import (
	"encoding/json"
	"fmt"

	"github.com/nodefabric/shadowd/internal/shadow"
)

func subjectRead(node shadow.NodeId) string    { return fmt.Sprintf("shadow.%d.read", node) }
func subjectWrite(node shadow.NodeId) string    { return fmt.Sprintf("shadow.%d.write", node) }
func subjectInvoke(node shadow.NodeId) string   { return fmt.Sprintf("shadow.%d.invoke", node) }
func subjectSubscribe(node shadow.NodeId) string { return fmt.Sprintf("shadow.%d.subscribe", node) }
func subjectReports(node shadow.NodeId) string  { return fmt.Sprintf("shadow.%d.reports", node) }

// readRequest is the wire shape of a batched read.
type readRequest struct {
	Paths []shadow.AttributePath `json:"paths"`
}

type attributeResult struct {
	Path  shadow.AttributePath `json:"path"`
	Value shadow.DataValue     `json:"value"`
	Err   string               `json:"err,omitempty"`
}

type readResponse struct {
	Results []attributeResult `json:"results"`
	Err     string            `json:"err,omitempty"`
}

type writeRequest struct {
	Path  shadow.AttributePath `json:"path"`
	Value shadow.DataValue     `json:"value"`
}

type writeResponse struct {
	Err string `json:"err,omitempty"`
}

type invokeRequest struct {
	Path           shadow.AttributePath `json:"path"`
	Command        shadow.CommandId     `json:"command"`
	Args           shadow.DataValue     `json:"args"`
	TimeoutSeconds *float64             `json:"timeout_seconds,omitempty"`
}

type invokeResponse struct {
	Results []attributeResult `json:"results,omitempty"`
	Busy    bool              `json:"busy,omitempty"`
	Err     string            `json:"err,omitempty"`
}

type subscribeRequest struct {
	Filters            []shadow.DataVersionFilter `json:"filters"`
	MinIntervalSeconds uint32                     `json:"min_interval_seconds"`
	MaxIntervalSeconds uint32                     `json:"max_interval_seconds"`
}

type subscribeResponse struct {
	NoMemory bool   `json:"no_memory,omitempty"`
	Err      string `json:"err,omitempty"`
}

// reportMessage is one frame published on a node's reports subject.
// Exactly one of the payload fields is meaningful, selected by Kind.
type reportMessage struct {
	Kind string `json:"kind"` // "attributes" | "events" | "established" | "error" | "resubscribe" | "report_begin" | "report_end" | "unsolicited"

	Attributes []attributeResult      `json:"attributes,omitempty"`
	Events     []eventResult          `json:"events,omitempty"`
	Err        string                 `json:"err,omitempty"`
}

type eventResult struct {
	Path  shadow.AttributePath `json:"path"`
	Event shadow.EventId       `json:"event"`
	Value shadow.DataValue     `json:"value"`
}

func marshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err) // every payload here is built from in-process values; a marshal failure is a programming error
	}
	return b
}
