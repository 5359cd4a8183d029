package webserver

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/agusx1211/corral/internal/services"
)

func (srv *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	var list []services.TrackedService
	if agentID := strings.TrimSpace(r.URL.Query().Get("agent")); agentID != "" {
		list = srv.deps.Services.ListForAgent(agentID)
	} else {
		list = srv.deps.Services.List()
	}
	if list == nil {
		list = []services.TrackedService{}
	}
	writeJSON(w, http.StatusOK, list)
}

// handleScanServices rereads every profile's manifest.
func (srv *Server) handleScanServices(w http.ResponseWriter, r *http.Request) {
	if srv.deps.Config == nil {
		writeError(w, http.StatusServiceUnavailable, "no profiles configured")
		return
	}
	if err := srv.deps.Services.ScanProfiles(r.Context(), srv.deps.Config.Profiles); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, srv.deps.Services.List())
}

func (srv *Server) handleRestartService(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("name"))
	if err := srv.deps.Services.RestartService(name); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (srv *Server) handleStopService(w http.ResponseWriter, r *http.Request) {
	port, err := strconv.Atoi(r.PathValue("port"))
	if err != nil || port <= 0 || port > 65535 {
		writeError(w, http.StatusBadRequest, "invalid port")
		return
	}
	if err := srv.deps.Services.StopService(port); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
