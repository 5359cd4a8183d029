// Package webserver is the HTTP and WebSocket surface the UI talks to: task
// submission and cancellation, service control, interactive sessions and a
// live event stream.
package webserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agusx1211/corral/internal/buildinfo"
	"github.com/agusx1211/corral/internal/config"
	"github.com/agusx1211/corral/internal/debug"
	"github.com/agusx1211/corral/internal/events"
	"github.com/agusx1211/corral/internal/scheduler"
	"github.com/agusx1211/corral/internal/services"
	"github.com/agusx1211/corral/internal/store"
	"github.com/agusx1211/corral/internal/terminal"
)

// Options configures web server behavior.
type Options struct {
	Host      string
	Port      int
	TLSMode   string // "", "self-signed" or "custom"
	CertFile  string
	KeyFile   string
	AuthToken string
	RateLimit float64 // requests per second per client, 0 disables
}

// Deps are the components the API fronts.
type Deps struct {
	Config    *config.Config
	Tasks     *store.Store
	Scheduler *scheduler.Scheduler
	Sessions  *terminal.Manager
	Services  *services.Registry
	Bus       *events.Bus
	Gatherer  prometheus.Gatherer
}

// Server hosts the HTTP API and the WebSocket bridges.
type Server struct {
	deps       Deps
	httpServer *http.Server
	port       int
	host       string
	tlsMode    string
	certFile   string
	keyFile    string
	authToken  string
	rateLimit  float64
	startedAt  time.Time
}

// New constructs a server; call Start to listen.
func New(deps Deps, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := opts.Port
	if port <= 0 {
		port = 8080
	}
	if deps.Bus == nil && deps.Scheduler != nil {
		deps.Bus = deps.Scheduler.Bus()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	srv := &Server{
		deps:      deps,
		host:      host,
		port:      port,
		tlsMode:   strings.TrimSpace(opts.TLSMode),
		certFile:  strings.TrimSpace(opts.CertFile),
		keyFile:   strings.TrimSpace(opts.KeyFile),
		authToken: strings.TrimSpace(opts.AuthToken),
		rateLimit: opts.RateLimit,
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	srv.setupRoutes(mux)

	handler := corsMiddleware(logMiddleware(rateLimitMiddleware(srv.rateLimit, authMiddleware(srv.authToken, mux))))
	srv.httpServer = &http.Server{
		Addr:              srv.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

// Handler returns the fully wrapped handler.
func (srv *Server) Handler() http.Handler { return srv.httpServer.Handler }

// Start listens and serves in a background goroutine.
func (srv *Server) Start() error {
	if srv.tlsMode != "" {
		var cert tls.Certificate
		var err error
		switch srv.tlsMode {
		case "self-signed":
			cert, err = selfSignedCert([]string{srv.host}, 365*24*time.Hour)
			if err != nil {
				return fmt.Errorf("generating self-signed certificate: %w", err)
			}
		case "custom":
			cert, err = tls.LoadX509KeyPair(srv.certFile, srv.keyFile)
			if err != nil {
				return fmt.Errorf("loading TLS certificate: %w", err)
			}
		default:
			return fmt.Errorf("unsupported TLS mode: %q", srv.tlsMode)
		}
		srv.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	ln, err := net.Listen("tcp", srv.Addr())
	if err != nil {
		return err
	}
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		srv.port = tcpAddr.Port
		srv.httpServer.Addr = srv.Addr()
	}

	go func() {
		var err error
		if srv.tlsMode != "" {
			err = srv.httpServer.ServeTLS(ln, "", "")
		} else {
			err = srv.httpServer.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			debug.LogKV("webserver", "server stopped with error", "error", err)
		}
	}()
	debug.LogKV("webserver", "listening", "addr", srv.Addr(), "tls", srv.tlsMode != "")
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (srv *Server) Shutdown(ctx context.Context) error {
	return srv.httpServer.Shutdown(ctx)
}

// Addr returns the bound host:port address.
func (srv *Server) Addr() string {
	return net.JoinHostPort(srv.host, strconv.Itoa(srv.port))
}

// Port returns the bound port.
func (srv *Server) Port() int { return srv.port }

// Scheme returns the URL scheme for the running server.
func (srv *Server) Scheme() string {
	if srv.tlsMode != "" {
		return "https"
	}
	return "http"
}

func (srv *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(srv.deps.Gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /api/profiles", srv.handleListProfiles)

	mux.HandleFunc("GET /api/tasks", srv.handleListTasks)
	mux.HandleFunc("POST /api/tasks", srv.handleCreateTask)
	mux.HandleFunc("GET /api/tasks/{id}", srv.handleGetTask)
	mux.HandleFunc("POST /api/tasks/{id}/assign", srv.handleAssignTask)
	mux.HandleFunc("POST /api/tasks/{id}/cancel", srv.handleCancelTask)

	mux.HandleFunc("GET /api/services", srv.handleListServices)
	mux.HandleFunc("POST /api/services/scan", srv.handleScanServices)
	mux.HandleFunc("POST /api/services/{name}/restart", srv.handleRestartService)
	mux.HandleFunc("POST /api/services/port/{port}/stop", srv.handleStopService)

	mux.HandleFunc("GET /api/sessions", srv.handleListSessions)
	mux.HandleFunc("POST /api/sessions/{agent}", srv.handleSpawnSession)
	mux.HandleFunc("DELETE /api/sessions/{agent}", srv.handleKillSession)
	mux.HandleFunc("GET /api/sessions/{agent}/scrollback", srv.handleScrollback)

	mux.HandleFunc("GET /ws/sessions/{agent}", srv.handleSessionWebSocket)
	mux.HandleFunc("GET /ws/events", srv.handleEventsWebSocket)

	mux.HandleFunc("/api/{rest...}", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

type healthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Uptime      string `json:"uptime"`
	ActiveTasks int    `json:"active_tasks"`
	Sessions    int    `json:"sessions"`
	Services    int    `json:"services"`
}

func (srv *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Version: buildinfo.Current().Version,
		Uptime:  time.Since(srv.startedAt).Round(time.Second).String(),
	}
	if srv.deps.Scheduler != nil {
		resp.ActiveTasks = srv.deps.Scheduler.ActiveTotal()
	}
	if srv.deps.Sessions != nil {
		resp.Sessions = len(srv.deps.Sessions.List())
	}
	if srv.deps.Services != nil {
		resp.Services = len(srv.deps.Services.List())
	}
	writeJSON(w, http.StatusOK, resp)
}
