package main

import (
	"fmt"
	"path/filepath"

	"github.com/MaiM-with-u/MaiLuncher/internal/audit"
	"github.com/MaiM-with-u/MaiLuncher/internal/connectors/localexec"
	"github.com/MaiM-with-u/MaiLuncher/internal/controlplane"
	"github.com/MaiM-with-u/MaiLuncher/internal/logfmt"
	"github.com/MaiM-with-u/MaiLuncher/internal/logging"
	"github.com/MaiM-with-u/MaiLuncher/internal/store"
	"github.com/MaiM-with-u/MaiLuncher/internal/supervisor"
	"github.com/MaiM-with-u/MaiLuncher/internal/tui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var consoleCmd = &cobra.Command{
	Use:     "console",
	Aliases: []string{"tui"},
	Short:   "Run the processes in the interactive console",
	Long:    `Supervises the bot processes inside this terminal. Quitting the console stops them.`,
	RunE:    runConsole,
}

func runConsole(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Logs must not draw over the screen.
	logFile := cfg.LogFile()
	if logFile == "" {
		logFile = filepath.Join(cfg.Dir(), "logs", "console.log")
	}
	log, closeLog, err := logging.New(cfg.Logging.Level, logFile)
	if err != nil {
		return err
	}
	defer closeLog()

	s, err := store.New(cfg.DBPath())
	if err != nil {
		return err
	}
	defer s.Close()

	sink := tui.NewSink()
	connector := localexec.New(cfg.WorkDir())
	sup := supervisor.New(connector, cfg.SupervisorConfig(),
		supervisor.WithLogger(log),
		supervisor.WithSink(supervisor.MultiSink{controlplane.NewHistory(s, log), sink}),
		supervisor.WithFormatter(logfmt.New()),
	)
	service := controlplane.NewService(sup, s, audit.NewPDRWriter(s), cfg, log)

	log.Info("console started", zap.String("base_dir", cfg.Dir()))
	app := tui.New(service, sink, cfg.Supervisor.LogCap)
	runErr := app.Run()

	service.UIDisconnect()
	service.Shutdown()
	log.Info("console closed")

	if runErr != nil {
		return fmt.Errorf("console error: %w", runErr)
	}
	return nil
}
