package webserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/agusx1211/corral/internal/debug"
	"github.com/agusx1211/corral/internal/scheduler"
	"github.com/agusx1211/corral/internal/services"
	"github.com/agusx1211/corral/internal/store"
	"github.com/agusx1211/corral/internal/terminal"
)

const maxRequestBody = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		debug.LogKV("webserver", "failed to encode json response", "status", status, "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// decodeJSON reads a request body into v. An empty body leaves v as is.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// errorStatus maps core sentinels onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrTaskNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, services.ErrNotFound),
		errors.Is(err, terminal.ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrTerminal),
		errors.Is(err, scheduler.ErrTransition),
		errors.Is(err, terminal.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, services.ErrNoCommand):
		return http.StatusUnprocessableEntity
	case errors.Is(err, scheduler.ErrNotStarted):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, errorStatus(err), err.Error())
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

type profileResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Runtime        string `json:"runtime"`
	Model          string `json:"model,omitempty"`
	Cwd            string `json:"cwd,omitempty"`
	FullAccess     bool   `json:"full_access"`
	AllowInterrupt bool   `json:"allow_interrupt"`
	MaxConcurrent  int    `json:"max_concurrent"`
	Running        int    `json:"running"`
	Session        bool   `json:"session"`
}

func (srv *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	if srv.deps.Config == nil {
		writeJSON(w, http.StatusOK, []profileResponse{})
		return
	}
	def := srv.deps.Config.Settings.DefaultConcurrency
	out := make([]profileResponse, 0, len(srv.deps.Config.Profiles))
	for i := range srv.deps.Config.Profiles {
		p := &srv.deps.Config.Profiles[i]
		resp := profileResponse{
			ID:             p.ID,
			Name:           p.DisplayName(),
			Runtime:        p.Runtime,
			Model:          p.Model,
			Cwd:            p.Cwd,
			FullAccess:     p.FullAccess,
			AllowInterrupt: p.AllowInterrupt,
			MaxConcurrent:  p.Concurrency(def),
		}
		if srv.deps.Scheduler != nil {
			resp.Running = srv.deps.Scheduler.ActiveCount(p.ID)
		}
		if srv.deps.Sessions != nil {
			resp.Session = srv.deps.Sessions.Has(p.ID)
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}
