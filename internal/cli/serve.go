package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/agusx1211/corral/internal/agent"
	"github.com/agusx1211/corral/internal/config"
	"github.com/agusx1211/corral/internal/debug"
	"github.com/agusx1211/corral/internal/events"
	"github.com/agusx1211/corral/internal/metrics"
	"github.com/agusx1211/corral/internal/proctree"
	"github.com/agusx1211/corral/internal/scheduler"
	"github.com/agusx1211/corral/internal/services"
	"github.com/agusx1211/corral/internal/terminal"
	"github.com/agusx1211/corral/internal/webserver"
)

const (
	serveDaemonChildEnv  = "CORRAL_SERVE_DAEMON_CHILD"
	servePIDFileName     = "serve.pid"
	serveStateFileName   = "serve.json"
	serveMDNSServiceType = "_corral._tcp"
)

type serveRuntimeState struct {
	PID    int    `json:"pid"`
	URL    string `json:"url"`
	Port   int    `json:"port"`
	Host   string `json:"host"`
	Scheme string `json:"scheme"`
	Token  string `json:"token,omitempty"`
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, session manager, health monitor and API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemonized server",
	Args:  cobra.NoArgs,
	RunE:  runServeStop,
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemonized server status",
	Args:  cobra.NoArgs,
	RunE:  runServeStatus,
}

func init() {
	addServeFlags(serveCmd)
	serveCmd.AddCommand(serveStopCmd, serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	cmd.Flags().String("host", "127.0.0.1", "Host to bind to")
	cmd.Flags().Bool("expose", false, "Bind to 0.0.0.0 for LAN access (enables TLS and a generated token)")
	cmd.Flags().String("tls", "", "TLS mode: 'self-signed' or 'custom' (requires --cert and --key)")
	cmd.Flags().String("cert", "", "Path to TLS certificate file (for --tls=custom)")
	cmd.Flags().String("key", "", "Path to TLS key file (for --tls=custom)")
	cmd.Flags().String("auth-token", "", "Require Bearer token for API access")
	cmd.Flags().Float64("rate-limit", 0, "Max requests per second per IP (0 = unlimited)")
	cmd.Flags().Bool("daemon", false, "Run in the background")
	cmd.Flags().Bool("mdns", false, "Advertise the server on the local network via mDNS")
	cmd.Flags().Bool("qr", false, "Print a QR code of the server URL")
}

// serveOptions is the validated form of the serve flags.
type serveOptions struct {
	web         webserver.Options
	expose      bool
	mdns        bool
	qr          bool
	daemon      bool
	daemonChild bool
	userToken   bool
}

func parseServeFlags(cmd *cobra.Command) (serveOptions, error) {
	var o serveOptions
	o.web.Port, _ = cmd.Flags().GetInt("port")
	o.web.Host, _ = cmd.Flags().GetString("host")
	o.web.TLSMode, _ = cmd.Flags().GetString("tls")
	o.web.CertFile, _ = cmd.Flags().GetString("cert")
	o.web.KeyFile, _ = cmd.Flags().GetString("key")
	o.web.AuthToken, _ = cmd.Flags().GetString("auth-token")
	o.web.RateLimit, _ = cmd.Flags().GetFloat64("rate-limit")
	o.expose, _ = cmd.Flags().GetBool("expose")
	o.mdns, _ = cmd.Flags().GetBool("mdns")
	o.qr, _ = cmd.Flags().GetBool("qr")
	o.daemon, _ = cmd.Flags().GetBool("daemon")
	o.daemonChild = os.Getenv(serveDaemonChildEnv) == "1"
	o.userToken = cmd.Flags().Changed("auth-token")

	if o.expose {
		o.web.Host = "0.0.0.0"
		if !cmd.Flags().Changed("tls") {
			o.web.TLSMode = "self-signed"
		}
		if !o.userToken {
			o.web.AuthToken = generateToken()
		}
		o.qr = o.qr || !o.daemonChild
	}
	switch o.web.TLSMode {
	case "", "self-signed":
	case "custom":
		if o.web.CertFile == "" || o.web.KeyFile == "" {
			return o, fmt.Errorf("--tls=custom requires both --cert and --key")
		}
	default:
		return o, fmt.Errorf("invalid --tls value %q, expected 'self-signed' or 'custom'", o.web.TLSMode)
	}
	return o, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	o, err := parseServeFlags(cmd)
	if err != nil {
		return err
	}
	if o.daemon && !o.daemonChild {
		return runServeDaemonParent(cmd, o)
	}

	state, running, err := loadServeState(servePIDFilePath(), serveStateFilePath(), isPIDAlive)
	if err != nil {
		return fmt.Errorf("checking existing server: %w", err)
	}
	if running && state.PID != os.Getpid() {
		return fmt.Errorf("corral is already serving (pid %d, %s)", state.PID, state.URL)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	tasks, err := openStore(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	m := metrics.MustNewMetrics(prometheus.DefaultRegisterer)
	go m.Watch(ctx, bus)

	engine := agent.NewEngine(cfg.Settings)
	engine.Observe = m.ObserveExecution

	sched := scheduler.New(scheduler.Options{
		Store:    tasks,
		Profiles: cfg,
		Engine:   engine,
		Bus:      bus,
		Settings: cfg.Settings,
	})

	termOpts := terminal.Options{
		Profiles:        cfg,
		ScrollbackLines: cfg.Settings.ScrollbackLines,
		Grace:           proctree.DefaultGrace,
	}
	termOpts.PublishTo(bus)
	sessions := terminal.NewManager(termOpts)
	defer sessions.Close()

	registry := services.NewRegistry(services.OptionsFromSettings(cfg.Settings, bus))
	if err := registry.ScanProfiles(ctx, cfg.Profiles); err != nil {
		fmt.Fprintln(os.Stderr, styleWarn.Render("Warning: "+err.Error()))
	}
	registry.StartHealthMonitor(ctx)
	defer registry.StopHealthMonitor()

	// Stop, not the signal, ends executions so their tasks stay resumable.
	if err := sched.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	srv := webserver.New(webserver.Deps{
		Config:    cfg,
		Tasks:     tasks,
		Scheduler: sched,
		Sessions:  sessions,
		Services:  registry,
		Bus:       bus,
		Gatherer:  prometheus.DefaultGatherer,
	}, o.web)
	if err := srv.Start(); err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			fmt.Fprintf(os.Stderr, "Port %d is already in use.\n", o.web.Port)
			fmt.Fprintf(os.Stderr, "Try: corral serve --port %d\n", o.web.Port+1)
		}
		return fmt.Errorf("starting server: %w", err)
	}

	url := fmt.Sprintf("%s://%s", srv.Scheme(), srv.Addr())
	host, port := splitHostPort(srv.Addr())
	state = serveRuntimeState{
		PID:    os.Getpid(),
		URL:    url,
		Port:   port,
		Host:   host,
		Scheme: srv.Scheme(),
		Token:  o.web.AuthToken,
	}
	if err := writeServeRuntimeFiles(servePIDFilePath(), serveStateFilePath(), state); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return fmt.Errorf("writing server metadata: %w", err)
	}
	defer func() {
		_ = removeServeRuntimeFiles(servePIDFilePath(), serveStateFilePath())
	}()

	debug.LogKV("cli", "serving", "url", url, "profiles", len(cfg.Profiles), "data_dir", cfg.DataDir())
	if !o.daemonChild {
		fmt.Printf("\033]8;;%s\033\\%s\033]8;;\033\\\n", url, url)
		fmt.Printf("Serving %d profiles, tasks in %s\n", len(cfg.Profiles), cfg.DataDir())
		if o.web.AuthToken != "" {
			if o.userToken {
				fmt.Println("Auth token required for API access.")
			} else {
				fmt.Fprintf(os.Stderr, "Generated auth token: %s\n", o.web.AuthToken)
			}
		}
		if o.expose {
			fmt.Fprintln(os.Stderr, styleWarn.Render("Warning: exposing corral on all interfaces."))
		}
		if o.qr && isatty.IsTerminal(os.Stdout.Fd()) {
			if err := printQRCode(url); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to render QR code: %v\n", err)
			}
		}
	}

	if o.expose || o.mdns {
		server, err := startMDNSService(host, port, url)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to start mDNS advertisement: %v\n", err)
		} else {
			defer server.Shutdown()
		}
	}

	<-ctx.Done()
	debug.LogKV("cli", "shutting down", "cause", context.Cause(ctx))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

func generateToken() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func runServeDaemonParent(cmd *cobra.Command, o serveOptions) error {
	state, running, err := loadServeState(servePIDFilePath(), serveStateFilePath(), isPIDAlive)
	if err != nil {
		return fmt.Errorf("checking existing server: %w", err)
	}
	if running {
		return fmt.Errorf("corral is already serving (pid %d)", state.PID)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("finding executable: %w", err)
	}
	childArgs := daemonChildArgs(os.Args[1:])
	if o.web.AuthToken != "" && !hasAuthTokenArg(childArgs) {
		childArgs = append(childArgs, "--auth-token", o.web.AuthToken)
	}
	child := exec.Command(exe, childArgs...)
	child.Env = append(os.Environ(), serveDaemonChildEnv+"=1")
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- child.Wait()
	}()
	state, err = waitForServeStartup(waitCh, 8*time.Second)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "corral started in daemon mode.")
	fmt.Fprintf(out, "URL: %s\n", state.URL)
	fmt.Fprintf(out, "PID: %d\n", state.PID)
	if o.web.AuthToken != "" && !o.userToken {
		fmt.Fprintf(out, "Auth token: %s\n", o.web.AuthToken)
	}
	if o.qr {
		if err := printQRCode(state.URL); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to render QR code: %v\n", err)
		}
	}
	return nil
}

func waitForServeStartup(waitCh <-chan error, timeout time.Duration) (serveRuntimeState, error) {
	deadline := time.Now().Add(timeout)
	for {
		state, running, err := loadServeState(servePIDFilePath(), serveStateFilePath(), isPIDAlive)
		if err != nil {
			return serveRuntimeState{}, fmt.Errorf("reading daemon state: %w", err)
		}
		if running && strings.TrimSpace(state.URL) != "" {
			return state, nil
		}

		select {
		case err := <-waitCh:
			if err == nil {
				return serveRuntimeState{}, fmt.Errorf("daemon exited before startup")
			}
			return serveRuntimeState{}, fmt.Errorf("daemon exited before startup: %w", err)
		default:
		}

		if time.Now().After(deadline) {
			return serveRuntimeState{}, fmt.Errorf("timed out waiting for daemon startup")
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func runServeStop(cmd *cobra.Command, args []string) error {
	state, running, err := loadServeState(servePIDFilePath(), serveStateFilePath(), isPIDAlive)
	if err != nil {
		return fmt.Errorf("checking server status: %w", err)
	}
	if !running {
		fmt.Fprintln(cmd.OutOrStdout(), "No server running.")
		return nil
	}

	if err := syscall.Kill(state.PID, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("sending SIGTERM to pid %d: %w", state.PID, err)
	}
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) && isPIDAlive(state.PID) {
		time.Sleep(100 * time.Millisecond)
	}
	if isPIDAlive(state.PID) {
		if err := syscall.Kill(state.PID, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("sending SIGKILL to pid %d: %w", state.PID, err)
		}
	}

	if err := removeServeRuntimeFiles(servePIDFilePath(), serveStateFilePath()); err != nil {
		return fmt.Errorf("removing runtime metadata: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Server stopped.")
	return nil
}

func runServeStatus(cmd *cobra.Command, args []string) error {
	state, running, err := loadServeState(servePIDFilePath(), serveStateFilePath(), isPIDAlive)
	if err != nil {
		return fmt.Errorf("checking server status: %w", err)
	}
	if !running {
		fmt.Fprintln(cmd.OutOrStdout(), "Server not running.")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Server running (PID %d)\n", state.PID)
	if url := stateURL(state); url != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "URL: %s\n", url)
	}
	return nil
}

func servePIDFilePath() string {
	return filepath.Join(config.Dir(), servePIDFileName)
}

func serveStateFilePath() string {
	return filepath.Join(config.Dir(), serveStateFileName)
}

func startMDNSService(host string, port int, url string) (*mdns.Server, error) {
	if port <= 0 {
		return nil, fmt.Errorf("invalid port for mDNS advertisement: %d", port)
	}
	hostname, err := os.Hostname()
	if err != nil || strings.TrimSpace(hostname) == "" {
		hostname = "corral"
	}
	txt := []string{"url=" + url, "host=" + host}
	service, err := mdns.NewMDNSService("corral-"+hostname, serveMDNSServiceType, "local", "", port, nil, txt)
	if err != nil {
		return nil, err
	}
	return mdns.NewServer(&mdns.Config{Zone: service})
}

func printQRCode(url string) error {
	code, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return err
	}
	fmt.Println(code.ToString(false))
	return nil
}

func splitHostPort(addr string) (string, int) {
	host, rawPort, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil {
		return host, 0
	}
	return host, port
}

func isPIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
