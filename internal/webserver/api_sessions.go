package webserver

import (
	"net/http"
	"strings"

	"github.com/agusx1211/corral/internal/terminal"
)

type spawnSessionRequest struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Cwd     string            `json:"cwd"`
	Env     map[string]string `json:"env"`
	Cols    int               `json:"cols"`
	Rows    int               `json:"rows"`
}

type scrollbackResponse struct {
	AgentID string `json:"agent_id"`
	Data    string `json:"data"`
}

func (srv *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list := srv.deps.Sessions.List()
	if list == nil {
		list = []terminal.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (srv *Server) handleSpawnSession(w http.ResponseWriter, r *http.Request) {
	agentID := strings.TrimSpace(r.PathValue("agent"))
	var req spawnSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if srv.deps.Sessions.Has(agentID) {
		writeError(w, http.StatusConflict, terminal.ErrAlreadyRunning.Error())
		return
	}

	res := srv.deps.Sessions.Spawn(agentID, req.Command, req.Args, terminal.SpawnOptions{
		Cwd:  req.Cwd,
		Env:  req.Env,
		Cols: req.Cols,
		Rows: req.Rows,
	})
	if !res.Success {
		status := http.StatusInternalServerError
		if strings.Contains(res.Error, terminal.ErrAlreadyRunning.Error()) {
			status = http.StatusConflict
		}
		writeJSON(w, status, res)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (srv *Server) handleKillSession(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent")
	if !srv.deps.Sessions.Has(agentID) {
		writeError(w, http.StatusNotFound, terminal.ErrNoSession.Error())
		return
	}
	srv.deps.Sessions.Kill(agentID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (srv *Server) handleScrollback(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent")
	if !srv.deps.Sessions.Has(agentID) {
		writeError(w, http.StatusNotFound, terminal.ErrNoSession.Error())
		return
	}
	writeJSON(w, http.StatusOK, scrollbackResponse{AgentID: agentID, Data: srv.deps.Sessions.Scrollback(agentID)})
}
