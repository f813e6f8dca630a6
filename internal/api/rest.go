// Package api implements shadowd's REST control surface over the
// device facade, mirroring the teacher's internal/api.RestApi: one
// struct wrapping the domain collaborator (there a *repository.JobRepository,
// here a *controller.Controller), mounted onto a gorilla/mux subrouter,
// with swaggo annotations feeding the generated OpenAPI doc.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/nodefabric/shadowd/internal/apiauth"
	"github.com/nodefabric/shadowd/internal/shadow"
	"github.com/nodefabric/shadowd/internal/shadow/controller"
	"github.com/nodefabric/shadowd/internal/shadow/device"
	"github.com/nodefabric/shadowd/internal/shadow/expectedcache"
	"github.com/nodefabric/shadowd/internal/shadow/workqueue"
)

// @title                      shadowd Device Control REST API
// @version                    1.0.0
// @description                Fleet-facing REST surface over the per-node device shadow.

// @tag.name Device API

// @license.name               MIT License
// @license.url                https://opensource.org/licenses/MIT

// @host                       localhost:8080
// @basePath                   /api

// @securityDefinitions.apikey ApiKeyAuth
// @in                         header
// @name                       Authorization

// RestAPI wraps the fleet controller every device route is dispatched
// through. Auth may be nil, in which case write/invoke routes are left
// unguarded (matching the teacher's DisableAuthentication escape hatch).
type RestAPI struct {
	Controller *controller.Controller
	Auth       *apiauth.Authenticator
}

// ErrorResponse is the JSON body returned on any non-2xx response.
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func handleError(err error, statusCode int, rw http.ResponseWriter) {
	cclog.Warnf("shadowd REST error: %s", err.Error())
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(statusCode)
	json.NewEncoder(rw).Encode(ErrorResponse{
		Status: http.StatusText(statusCode),
		Error:  err.Error(),
	})
}

func decode(r io.Reader, val interface{}) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(val)
}

// MountRoutes registers /api/devices/... onto r, guarding write and
// invoke routes with Auth (when configured) the same way the teacher
// gates its mutating routes behind RestAPI.Authentication.
func (api *RestAPI) MountRoutes(r *mux.Router) {
	sub := r.PathPrefix("/api").Subrouter()
	sub.StrictSlash(true)

	sub.HandleFunc("/devices/{node}", api.getDevice).Methods(http.MethodGet)
	sub.HandleFunc("/devices/{node}/attributes/{ep}/{cl}/{attr}", api.getAttribute).Methods(http.MethodGet)

	write := sub.NewRoute().Subrouter()
	write.HandleFunc("/devices/{node}/attributes/{ep}/{cl}/{attr}", api.putAttribute).Methods(http.MethodPut)
	write.HandleFunc("/devices/{node}/commands/{ep}/{cl}/{cmd}", api.postCommand).Methods(http.MethodPost)
	if api.Auth != nil {
		write.Use(func(next http.Handler) http.Handler {
			return api.Auth.RequireRole(apiauth.RoleAdmin, next)
		})
	}
}

func pathVars(r *http.Request) (node shadow.NodeId, path shadow.AttributePath, err error) {
	vars := mux.Vars(r)
	n, err := strconv.ParseUint(vars["node"], 10, 64)
	if err != nil {
		return 0, shadow.AttributePath{}, fmt.Errorf("invalid node id: %w", err)
	}
	ep, err := strconv.ParseUint(vars["ep"], 10, 16)
	if err != nil {
		return 0, shadow.AttributePath{}, fmt.Errorf("invalid endpoint id: %w", err)
	}
	cl, err := strconv.ParseUint(vars["cl"], 10, 32)
	if err != nil {
		return 0, shadow.AttributePath{}, fmt.Errorf("invalid cluster id: %w", err)
	}
	var attr uint64
	if a, ok := vars["attr"]; ok {
		attr, err = strconv.ParseUint(a, 10, 32)
		if err != nil {
			return 0, shadow.AttributePath{}, fmt.Errorf("invalid attribute id: %w", err)
		}
	}
	return shadow.NodeId(n), shadow.AttributePath{
		Endpoint:  shadow.EndpointId(ep),
		Cluster:   shadow.ClusterId(cl),
		Attribute: shadow.AttributeId(attr),
	}, nil
}

// deviceSummary is the JSON shape returned by getDevice.
type deviceSummary struct {
	NodeID            string `json:"nodeId"`
	Reachability      string `json:"reachability"`
	SubscriptionState string `json:"subscriptionState"`
	QueueDepth        int    `json:"queueDepth"`
	ExpectedCacheSize int    `json:"expectedCacheSize"`
}

// getDevice godoc
// @summary     Report one node's shadow summary
// @tags        Device API
// @produce     json
// @param       node path int true "Node id"
// @success     200 {object} deviceSummary
// @failure     400 {object} ErrorResponse
// @router      /api/devices/{node} [get]
func (api *RestAPI) getDevice(rw http.ResponseWriter, r *http.Request) {
	node, _, err := pathVars(r)
	if err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}
	dev := api.Controller.Device(node)
	writeJSON(rw, http.StatusOK, deviceSummary{
		NodeID:            strconv.FormatUint(uint64(node), 10),
		Reachability:      dev.Reachability().String(),
		SubscriptionState: dev.SubscriptionState().String(),
		QueueDepth:        dev.QueueLen(),
		ExpectedCacheSize: dev.ExpectedCacheLen(),
	})
}

type attributeResponse struct {
	Path    string          `json:"path"`
	Present bool            `json:"present"`
	Value   json.RawMessage `json:"value,omitempty"`
}

// getAttribute godoc
// @summary     Read the best currently-known value of one attribute
// @tags        Device API
// @produce     json
// @param       node path int true "Node id"
// @param       ep   path int true "Endpoint id"
// @param       cl   path int true "Cluster id"
// @param       attr path int true "Attribute id"
// @success     200 {object} attributeResponse
// @failure     400 {object} ErrorResponse
// @router      /api/devices/{node}/attributes/{ep}/{cl}/{attr} [get]
func (api *RestAPI) getAttribute(rw http.ResponseWriter, r *http.Request) {
	node, path, err := pathVars(r)
	if err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}

	value, ok := api.Controller.Device(node).ReadAttribute(r.Context(), path, workqueue.ReadParams{})
	resp := attributeResponse{Path: path.String(), Present: ok}
	if ok {
		raw, err := json.Marshal(value)
		if err != nil {
			handleError(err, http.StatusInternalServerError, rw)
			return
		}
		resp.Value = raw
	}
	writeJSON(rw, http.StatusOK, resp)
}

// writeAttributeRequest is the JSON body putAttribute expects.
type writeAttributeRequest struct {
	Value              json.RawMessage `json:"value"`
	ExpectedIntervalMs uint32          `json:"expectedIntervalMs"`
	TimedTimeoutMs     *uint32         `json:"timedTimeoutMs,omitempty"`
}

// putAttribute godoc
// @summary     Write one attribute, optimistically predicting the new value
// @tags        Device API
// @accept      json
// @produce     json
// @param       node    path int                   true "Node id"
// @param       ep      path int                   true "Endpoint id"
// @param       cl      path int                   true "Cluster id"
// @param       attr    path int                   true "Attribute id"
// @param       request body writeAttributeRequest true "Value to write"
// @success     202
// @failure     400 {object} ErrorResponse
// @failure     401 {object} ErrorResponse
// @security    ApiKeyAuth
// @router      /api/devices/{node}/attributes/{ep}/{cl}/{attr} [put]
func (api *RestAPI) putAttribute(rw http.ResponseWriter, r *http.Request) {
	node, path, err := pathVars(r)
	if err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}

	var req writeAttributeRequest
	if err := decode(r.Body, &req); err != nil {
		handleError(fmt.Errorf("parsing request body failed: %w", err), http.StatusBadRequest, rw)
		return
	}

	var value shadow.DataValue
	if err := json.Unmarshal(req.Value, &value); err != nil {
		handleError(fmt.Errorf("invalid value: %w", err), http.StatusBadRequest, rw)
		return
	}

	api.Controller.Device(node).WriteAttribute(r.Context(), path, value, req.ExpectedIntervalMs, req.TimedTimeoutMs)
	rw.WriteHeader(http.StatusAccepted)
}

// invokeCommandRequest is the JSON body postCommand expects.
type invokeCommandRequest struct {
	Args               json.RawMessage `json:"args"`
	ExpectedIntervalMs *uint32         `json:"expectedIntervalMs,omitempty"`
	TimedTimeoutMs     *uint32         `json:"timedTimeoutMs,omitempty"`
}

// postCommand godoc
// @summary     Invoke one command against a cluster
// @tags        Device API
// @accept      json
// @produce     json
// @param       node    path int                  true "Node id"
// @param       ep      path int                  true "Endpoint id"
// @param       cl      path int                  true "Cluster id"
// @param       cmd     path int                  true "Command id"
// @param       request body invokeCommandRequest true "Command arguments"
// @success     202
// @failure     400 {object} ErrorResponse
// @failure     401 {object} ErrorResponse
// @security    ApiKeyAuth
// @router      /api/devices/{node}/commands/{ep}/{cl}/{cmd} [post]
func (api *RestAPI) postCommand(rw http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	node, clusterPath, err := pathVars(r)
	if err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}
	cmd, err := strconv.ParseUint(vars["cmd"], 10, 32)
	if err != nil {
		handleError(fmt.Errorf("invalid command id: %w", err), http.StatusBadRequest, rw)
		return
	}

	var req invokeCommandRequest
	if err := decode(r.Body, &req); err != nil {
		handleError(fmt.Errorf("parsing request body failed: %w", err), http.StatusBadRequest, rw)
		return
	}
	var args shadow.DataValue
	if len(req.Args) > 0 {
		if err := json.Unmarshal(req.Args, &args); err != nil {
			handleError(fmt.Errorf("invalid args: %w", err), http.StatusBadRequest, rw)
			return
		}
	}

	spec := device.InvokeSpec{
		Path:               clusterPath,
		Command:            shadow.CommandId(cmd),
		Args:               args,
		ExpectedValues:     []expectedcache.Pending{},
		ExpectedIntervalMs: req.ExpectedIntervalMs,
		TimedTimeoutMs:     req.TimedTimeoutMs,
	}
	api.Controller.Device(node).InvokeCommand(r.Context(), spec)
	rw.WriteHeader(http.StatusAccepted)
}

func writeJSON(rw http.ResponseWriter, status int, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}
