package natstransport

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodefabric/shadowd/internal/shadow"
	"github.com/nodefabric/shadowd/internal/shadow/workqueue"
	ccnats "github.com/nodefabric/shadowd/pkg/nats"
)

type fakeNatsClient struct {
	mu            sync.Mutex
	requestRaw    []byte
	requestErr    error
	subscriptions map[string]ccnats.MessageHandler
}

func newFakeNatsClient() *fakeNatsClient {
	return &fakeNatsClient{subscriptions: make(map[string]ccnats.MessageHandler)}
}

func (f *fakeNatsClient) Request(_ string, _ []byte, _ context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requestRaw, f.requestErr
}

func (f *fakeNatsClient) Publish(string, []byte) error { return nil }

func (f *fakeNatsClient) Subscribe(subject string, handler ccnats.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions[subject] = handler
	return nil
}

func (f *fakeNatsClient) publish(subject string, v any) {
	f.mu.Lock()
	h := f.subscriptions[subject]
	f.mu.Unlock()
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	h(subject, b)
}

func TestIssueReadDecodesResults(t *testing.T) {
	client := newFakeNatsClient()
	path := shadow.AttributePath{Endpoint: 1, Cluster: 6, Attribute: 0}
	client.requestRaw, _ = json.Marshal(readResponse{Results: []attributeResult{
		{Path: path, Value: shadow.DataValue{Type: shadow.TypeBoolean, Bool: true}},
	}})

	issuer := &Issuer{client: client}
	var got shadow.OperationResult
	issuer.IssueRead(context.Background(), 1, []shadow.AttributePath{path}, func(res shadow.OperationResult) { got = res })

	require.NoError(t, got.Err)
	require.Len(t, got.Values, 1)
	require.Equal(t, path, got.Values[0].Path)
}

func TestIssueInvokeBusyMapsToErrBusy(t *testing.T) {
	client := newFakeNatsClient()
	client.requestRaw, _ = json.Marshal(invokeResponse{Busy: true})

	issuer := &Issuer{client: client}
	var got shadow.OperationResult
	issuer.IssueInvoke(context.Background(), 1, shadow.AttributePath{}, 1, shadow.DataValue{}, nil, func(res shadow.OperationResult) { got = res })

	require.Error(t, got.Err)
	require.ErrorIs(t, got.Err, workqueue.ErrBusy)
	require.Equal(t, shadow.KindRemote, got.Kind)
}

func TestReadClientSubscribeEstablishesAndStreamsAttributeData(t *testing.T) {
	client := newFakeNatsClient()
	client.requestRaw, _ = json.Marshal(subscribeResponse{})

	rc := &ReadClient{node: 1, client: client}

	var established bool
	var gotBatch []shadow.AttributeReport
	err := rc.Subscribe(context.Background(), nil, nil, 0, 3600, shadow.ReadClientCallbacks{
		OnSubscriptionEstablished: func() { established = true },
		OnAttributeData:           func(b []shadow.AttributeReport) { gotBatch = b },
		OnDone:                    func() {},
	})
	require.NoError(t, err)
	require.True(t, established)

	path := shadow.AttributePath{Endpoint: 1, Cluster: 6, Attribute: 0}
	client.publish(subjectReports(1), reportMessage{
		Kind:       "attributes",
		Attributes: []attributeResult{{Path: path, Value: shadow.DataValue{Type: shadow.TypeBoolean, Bool: true}}},
	})

	require.Len(t, gotBatch, 1)
	require.Equal(t, path, gotBatch[0].Path)
}

func TestReadClientSubscribeNoMemory(t *testing.T) {
	client := newFakeNatsClient()
	client.requestRaw, _ = json.Marshal(subscribeResponse{NoMemory: true})

	rc := &ReadClient{node: 1, client: client}
	err := rc.Subscribe(context.Background(), nil, nil, 0, 3600, shadow.ReadClientCallbacks{})
	require.ErrorAs(t, err, &shadow.NoMemoryError{})
}

func TestMonitorFanOutAndStop(t *testing.T) {
	source := NewMonitorSource()
	m1 := NewMonitor(source)
	m2 := NewMonitor(source)

	var fired1, fired2 bool
	m1.Start(func() { fired1 = true })
	m2.Start(func() { fired2 = true })

	source.Fire()
	require.True(t, fired1)
	require.True(t, fired2)

	fired1, fired2 = false, false
	m1.Stop()
	source.Fire()
	require.False(t, fired1)
	require.True(t, fired2)
}
