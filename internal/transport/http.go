package transport

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mrshabel/treekeep/internal/raft"
)

// statusView is what /status reports: enough for an operator to see
// this server's role and progress without a full RPC client.
type statusView struct {
	Role        string `json:"role"`
	Term        uint64 `json:"term"`
	CommitIndex uint64 `json:"commit_index"`
}

type httpServer struct {
	core *raft.Core
}

// NewHTTPServer returns a read-only debug HTTP server exposing this
// server's Raft status, mirroring gumlog's NewHTTPServer but serving
// operator diagnostics instead of produce/consume traffic.
func NewHTTPServer(addr string, core *raft.Core) *http.Server {
	h := &httpServer{core: core}
	router := mux.NewRouter()
	router.HandleFunc("/status", h.handleStatus).Methods("GET")
	return &http.Server{Addr: addr, Handler: router}
}

func (h *httpServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	view := statusView{
		Role:        h.core.RoleState().String(),
		Term:        h.core.CurrentTerm(),
		CommitIndex: h.core.CommitIndex(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(view); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
