package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/nodefabric/shadowd/internal/api"
	"github.com/nodefabric/shadowd/internal/shadow"
	"github.com/nodefabric/shadowd/internal/shadow/controller"
	"github.com/nodefabric/shadowd/internal/shadow/device"
	"github.com/nodefabric/shadowd/internal/transport/memtransport"
)

func setup(t *testing.T) (*api.RestAPI, *memtransport.Registry) {
	t.Helper()
	registry := memtransport.NewRegistry()
	ctl := controller.New(func(node shadow.NodeId) device.Deps {
		return device.Deps{
			Node:       node,
			Issuer:     memtransport.Issuer{Registry: registry},
			Sessions:   memtransport.SessionProvider{Registry: registry},
			NewClient:  func(n shadow.NodeId) shadow.ReadClient { return memtransport.NewReadClient(registry, n) },
			Monitor:    &memtransport.Monitor{},
			RatePerSec: 100,
			Overrides:  shadow.TestOverrides{SkipSubscription: true},
		}
	})
	return &api.RestAPI{Controller: ctl}, registry
}

func TestGetDeviceReturnsSummary(t *testing.T) {
	restAPI, _ := setup(t)
	r := mux.NewRouter()
	restAPI.MountRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/api/devices/42", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	require.Equal(t, http.StatusOK, rw.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &body))
	require.Equal(t, "42", body["nodeId"])
}

func TestGetAttributeReportsAbsentWhenUncached(t *testing.T) {
	restAPI, _ := setup(t)
	r := mux.NewRouter()
	restAPI.MountRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/api/devices/1/attributes/0/6/0", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	require.Equal(t, http.StatusOK, rw.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &body))
	require.Equal(t, false, body["present"])
}

func TestPutAttributeAccepted(t *testing.T) {
	restAPI, registry := setup(t)
	r := mux.NewRouter()
	restAPI.MountRoutes(r)

	node := registry.Node(9)
	node.SetAttribute(shadow.AttributePath{Endpoint: 1, Cluster: 6, Attribute: 0}, shadow.DataValue{Type: shadow.TypeBoolean, Bool: false})

	body := bytes.NewBufferString(`{"value": {"Type": 2, "Bool": true}, "expectedIntervalMs": 5000}`)
	req := httptest.NewRequest(http.MethodPut, "/api/devices/9/attributes/1/6/0", body)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	require.Equal(t, http.StatusAccepted, rw.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/api/devices/9/attributes/1/6/0", nil)
	getRw := httptest.NewRecorder()
	r.ServeHTTP(getRw, getReq)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(getRw.Body.Bytes(), &resp))
	require.Equal(t, true, resp["present"])
}

func TestPostCommandAccepted(t *testing.T) {
	restAPI, _ := setup(t)
	r := mux.NewRouter()
	restAPI.MountRoutes(r)

	body := bytes.NewBufferString(`{"args": {"Type": 0}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/devices/3/commands/0/6/1", body)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	require.Equal(t, http.StatusAccepted, rw.Code)
}
