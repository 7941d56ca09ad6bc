package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MaiM-with-u/MaiLuncher/internal/audit"
	"github.com/MaiM-with-u/MaiLuncher/internal/config"
	"github.com/MaiM-with-u/MaiLuncher/internal/connectors/localexec"
	"github.com/MaiM-with-u/MaiLuncher/internal/controlplane"
	"github.com/MaiM-with-u/MaiLuncher/internal/logfmt"
	"github.com/MaiM-with-u/MaiLuncher/internal/logging"
	"github.com/MaiM-with-u/MaiLuncher/internal/store"
	"github.com/MaiM-with-u/MaiLuncher/internal/supervisor"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	listenAddr string
	dbPath     string
	autostart  bool
	background bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the launcher daemon",
	Long:  `Starts the launcher daemon which supervises the bot processes and serves the HTTP API.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (default from config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (default from config)")
	daemonCmd.Flags().BoolVar(&autostart, "autostart", false, "Start the bot and every adapter on startup")
	daemonCmd.Flags().BoolVar(&background, "background", false, "Detach and run in the background")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Daemon.Listen = listenAddr
	}
	if dbPath != "" {
		cfg.Daemon.DBPath = dbPath
	}

	if background {
		return startDaemon(cfg)
	}

	log, closeLog, err := logging.New(cfg.Logging.Level, cfg.LogFile())
	if err != nil {
		return err
	}
	defer closeLog()

	log.Info("starting daemon", zap.String("version", controlplane.Version), zap.String("base_dir", cfg.Dir()))

	// Initialize store
	s, err := store.New(cfg.DBPath())
	if err != nil {
		return err
	}
	defer s.Close()

	if n, err := s.CloseOrphanedRuns(); err != nil {
		log.Warn("close orphaned runs", zap.Error(err))
	} else if n > 0 {
		log.Info("closed runs left open by a previous launcher", zap.Int64("count", n))
	}

	// Initialize components
	pdr := audit.NewPDRWriter(s)
	connector := localexec.New(cfg.WorkDir())
	sup := supervisor.New(connector, cfg.SupervisorConfig(),
		supervisor.WithLogger(log),
		supervisor.WithSink(controlplane.NewHistory(s, log)),
		supervisor.WithFormatter(logfmt.New()),
	)

	// Create service and server
	service := controlplane.NewService(sup, s, pdr, cfg, log)
	server := controlplane.NewServer(service, cfg.Daemon.Listen, log)

	if autostart {
		for _, err := range service.StartAll() {
			log.Error("autostart", zap.Error(err))
		}
	}

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		err := server.Start()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error
	var runErr error
	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			log.Error("server error", zap.Error(err))
			runErr = err
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info("shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown", zap.Error(err))
	}

	log.Info("stopping processes")
	service.Shutdown()

	log.Info("shutdown complete")
	return runErr
}

// startDaemon re-executes the launcher as a detached daemon and waits for
// its API to answer.
func startDaemon(cfg *config.Config) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	addr := "http://" + cfg.Daemon.Listen
	if _, err := checkHealthAt(addr); err == nil {
		return fmt.Errorf("daemon already running at %s", addr)
	}

	args := []string{"daemon", "--config", configFile(), "--listen", cfg.Daemon.Listen}
	if dbPath != "" {
		args = append(args, "--db", dbPath)
	}
	if autostart {
		args = append(args, "--autostart")
	}
	cmd := exec.Command(exe, args...)
	configureDaemonProc(cmd)
	cmd.Dir = cfg.Dir()
	cmd.Stdin = nil

	// Stderr goes to a file so the daemon does not hold the terminal.
	logPath := filepath.Join(cfg.Dir(), "logs", "daemon.out")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer out.Close()
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return err
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()

	// Wait for it to become ready
	fmt.Print("Waiting for daemon...")
	for i := 0; i < 20; i++ { // Wait up to 5 seconds
		if _, err := checkHealthAt(addr); err == nil {
			fmt.Printf(" Done. (pid %d, %s)\n", pid, addr)
			return nil
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" Timeout!")
	return fmt.Errorf("daemon started but API not reachable at %s (see %s)", addr, logPath)
}
