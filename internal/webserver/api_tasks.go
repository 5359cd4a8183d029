package webserver

import (
	"net/http"
	"strings"

	"github.com/agusx1211/corral/internal/store"
)

type createTaskRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    int      `json:"priority"`
	AssignedTo  string   `json:"assigned_to"`
	CreatedBy   string   `json:"created_by"`
	Source      string   `json:"source"`
	Tags        []string `json:"tags"`
}

type assignTaskRequest struct {
	AgentID string `json:"agent_id"`
}

func (srv *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f store.Filter
	for _, raw := range q["status"] {
		for _, part := range strings.Split(raw, ",") {
			st := store.Status(strings.TrimSpace(part))
			if st == "" {
				continue
			}
			if !st.Valid() {
				writeError(w, http.StatusBadRequest, "invalid status "+string(st))
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	f.AssignedTo = strings.TrimSpace(q.Get("agent"))
	f.Tag = strings.TrimSpace(q.Get("tag"))
	f.Source = store.Source(strings.TrimSpace(q.Get("source")))
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.Limit = limit

	tasks, err := srv.deps.Tasks.List(f)
	if err != nil {
		writeErr(w, err)
		return
	}
	if tasks == nil {
		tasks = []*store.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (srv *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	source := store.Source(strings.TrimSpace(req.Source))
	switch source {
	case "", store.SourceUser, store.SourceSystem, store.SourceAgent:
	default:
		writeError(w, http.StatusBadRequest, "invalid source "+string(source))
		return
	}

	task, err := srv.deps.Scheduler.Submit(&store.Task{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Priority:    req.Priority,
		Source:      source,
		CreatedBy:   strings.TrimSpace(req.CreatedBy),
		AssignedTo:  strings.TrimSpace(req.AssignedTo),
		Tags:        req.Tags,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (srv *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := srv.deps.Tasks.Get(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (srv *Server) handleAssignTask(w http.ResponseWriter, r *http.Request) {
	var req assignTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	agentID := strings.TrimSpace(req.AgentID)
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}
	id := r.PathValue("id")
	if err := srv.deps.Scheduler.Assign(id, agentID); err != nil {
		writeErr(w, err)
		return
	}
	task, err := srv.deps.Tasks.Get(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (srv *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if err := srv.deps.Scheduler.Cancel(r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
