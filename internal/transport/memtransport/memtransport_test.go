package memtransport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodefabric/shadowd/internal/shadow"
)

func TestSubscribeReceivesSubsequentAttributeChanges(t *testing.T) {
	reg := NewRegistry()
	rc := NewReadClient(reg, 1)

	var got []shadow.AttributeReport
	var begins, ends int
	err := rc.Subscribe(context.Background(), nil, nil, 0, 3600, shadow.ReadClientCallbacks{
		OnAttributeData: func(b []shadow.AttributeReport) { got = b },
		OnReportBegin:   func() { begins++ },
		OnReportEnd:     func() { ends++ },
	})
	require.NoError(t, err)

	path := shadow.AttributePath{Endpoint: 1, Cluster: 6, Attribute: 0}
	reg.Node(1).SetAttribute(path, shadow.DataValue{Type: shadow.TypeBoolean, Bool: true})

	require.Len(t, got, 1)
	require.Equal(t, 1, begins)
	require.Equal(t, 1, ends)
}

func TestCloseStopsFurtherDelivery(t *testing.T) {
	reg := NewRegistry()
	rc := NewReadClient(reg, 1)

	calls := 0
	done := false
	require.NoError(t, rc.Subscribe(context.Background(), nil, nil, 0, 3600, shadow.ReadClientCallbacks{
		OnAttributeData: func([]shadow.AttributeReport) { calls++ },
		OnDone:          func() { done = true },
	}))

	rc.Close()
	require.True(t, done)

	reg.Node(1).SetAttribute(shadow.AttributePath{Endpoint: 1, Cluster: 6, Attribute: 0}, shadow.DataValue{Type: shadow.TypeBoolean, Bool: true})
	require.Equal(t, 0, calls)
}

func TestIssueInvokeHonorsBusyBudget(t *testing.T) {
	reg := NewRegistry()
	issuer := Issuer{Registry: reg}
	path := shadow.AttributePath{Endpoint: 1, Cluster: 6, Attribute: 1}
	reg.Node(1).FailNextInvokesWithBusy(path, 2)

	var results []shadow.OperationResult
	for i := 0; i < 3; i++ {
		issuer.IssueInvoke(context.Background(), 1, path, 1, shadow.DataValue{}, nil, func(res shadow.OperationResult) {
			results = append(results, res)
		})
	}

	require.Error(t, results[0].Err)
	require.Error(t, results[1].Err)
	require.NoError(t, results[2].Err)
}
