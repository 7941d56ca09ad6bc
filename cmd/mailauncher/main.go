package main

import (
	"fmt"
	"os"

	"github.com/MaiM-with-u/MaiLuncher/internal/config"
	"github.com/MaiM-with-u/MaiLuncher/internal/controlplane"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mailauncher",
	Short: "MaiLauncher - MaiBot process launcher",
	Long:  `MaiLauncher starts, stops and watches the MaiBot process and its adapters, keeping their console output and run history.`,
	// No RunE - defaults to showing help when no subcommand is provided
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("mailauncher", controlplane.Version)
	},
}

var (
	apiAddr    string
	configPath string
)

func init() {
	rootCmd.SilenceUsage = true
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7466", "API server address")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <base>/config/gui_config.toml)")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(psCmd, startCmd, stopCmd, restartCmd, rmCmd, logsCmd, historyCmd)
	rootCmd.AddCommand(detectCmd, botCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// configFile returns the --config value or the default location.
func configFile() string {
	if configPath != "" {
		return configPath
	}
	return config.ConfigFile(config.BaseDir())
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
