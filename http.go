package tfm

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nfvproject/TFM/flow"
	"github.com/nfvproject/TFM/nom"
)

// Operations and middleboxes are served as json.
const (
	serverV1MovesPath       = "/api/v1/moves"
	serverV1MovePath        = "/api/v1/moves/{id:[0-9]+}"
	serverV1MiddleboxesPath = "/api/v1/middleboxes"
	serverV1PacketsPath     = "/api/v1/packets"
	serverMetricsPath       = "/metrics"
)

// MoveSpec is the body of a move request on the REST API.
type MoveSpec struct {
	Src             nom.MiddleboxID `json:"src"`
	Dst             nom.MiddleboxID `json:"dst"`
	Key             flow.Selector   `json:"key"`
	Scope           Scope           `json:"scope"`
	Guarantee       Guarantee       `json:"guarantee"`
	Optimization    Optimization    `json:"optimization"`
	InPort          nom.PortID      `json:"inPort"`
	RedirectPattern string          `json:"redirectPattern,omitempty"`
}

// MiddleboxInfo describes a middlebox on the REST API.
type MiddleboxInfo struct {
	ID        nom.MiddleboxID `json:"id"`
	Port      nom.UID         `json:"port"`
	Mgmt      string          `json:"mgmt,omitempty"`
	Connected bool            `json:"connected"`
}

// PacketIn is a packet received from a switch, posted by the controller of
// the forwarding plane. Data is base64 encoded in json.
type PacketIn struct {
	Node nom.NodeID `json:"node"`
	Port nom.PortID `json:"port"`
	Data []byte     `json:"data"`
}

type v1Handler struct {
	mgr *Manager
}

func newRouter(mgr *Manager, g prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	h := v1Handler{mgr: mgr}
	h.install(r)
	if g != nil {
		r.Handle(serverMetricsPath, promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}
	return r
}

func (h *v1Handler) install(r *mux.Router) {
	r.HandleFunc(serverV1MovesPath, h.handleMove).Methods("POST")
	r.HandleFunc(serverV1MovesPath, h.handleMoves).Methods("GET")
	r.HandleFunc(serverV1MovePath, h.handleMoveState).Methods("GET")
	r.HandleFunc(serverV1MiddleboxesPath, h.handleMiddleboxes).Methods("GET")
	r.HandleFunc(serverV1PacketsPath, h.handlePacket).Methods("POST")
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	j, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(j)
}

func errorCode(err error) int {
	switch {
	case errors.Is(err, errors.NotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.AlreadyExists):
		return http.StatusConflict
	case IsConfigError(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrTransport), errors.Is(err, ErrProtocol):
		return http.StatusBadGateway
	case errors.Is(err, ErrManagerStopped):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *v1Handler) handleMove(w http.ResponseWriter, r *http.Request) {
	var spec MoveSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	src, err := h.mgr.Middlebox(spec.Src)
	if err != nil {
		http.Error(w, err.Error(), errorCode(err))
		return
	}
	dst, err := h.mgr.Middlebox(spec.Dst)
	if err != nil {
		http.Error(w, err.Error(), errorCode(err))
		return
	}

	id, err := h.mgr.Move(MoveRequest{
		Src:             src,
		Dst:             dst,
		Key:             spec.Key,
		Scope:           spec.Scope,
		Guarantee:       spec.Guarantee,
		Optimization:    spec.Optimization,
		InPort:          spec.InPort,
		RedirectPattern: spec.RedirectPattern,
	})
	if err != nil {
		glog.Errorf("cannot move %v from %v to %v: %v", spec.Key, src, dst, err)
		http.Error(w, err.Error(), errorCode(err))
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		ID OpID `json:"id"`
	}{id})
}

func (h *v1Handler) handleMoves(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mgr.Snapshots())
}

func (h *v1Handler) handleMoveState(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s, err := h.mgr.Snapshot(OpID(id))
	if err != nil {
		http.Error(w, err.Error(), errorCode(err))
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *v1Handler) handleMiddleboxes(w http.ResponseWriter, r *http.Request) {
	mbs := h.mgr.Middleboxes()
	infos := make([]MiddleboxInfo, 0, len(mbs))
	for _, mb := range mbs {
		infos = append(infos, MiddleboxInfo{
			ID:        mb.ID,
			Port:      mb.Port.UID(),
			Mgmt:      mb.Mgmt,
			Connected: mb.Connected(),
		})
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *v1Handler) handlePacket(w http.ResponseWriter, r *http.Request) {
	var in PacketIn
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if in.Node == "" || len(in.Data) == 0 {
		http.Error(w, "packet without a node or data", http.StatusBadRequest)
		return
	}
	h.mgr.DispatchPacket(Packet{
		Data: in.Data,
		In:   nom.Port{ID: in.Port, Node: in.Node},
	})
	w.WriteHeader(http.StatusAccepted)
}
