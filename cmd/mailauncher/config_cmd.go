package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/MaiM-with-u/MaiLuncher/internal/config"
	"github.com/MaiM-with-u/MaiLuncher/internal/interp"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the launcher config",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective config",
	RunE:  runConfigShow,
}

var (
	initDetect bool
	initForce  bool
)

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd)

	configInitCmd.Flags().BoolVar(&initDetect, "detect", false, "Detect a Python interpreter and store it as python_path")
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile()
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("config %s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	cfg := config.Default().WithBaseDir(config.BaseDirOf(path))
	if initDetect {
		if best, ok := interp.Best(detectInterpreters(cfg)); ok {
			cfg.PythonPath = best.Path
			fmt.Printf("Using %s (%s, %s)\n", best.Path, best.Version, best.Source)
		} else {
			fmt.Fprintln(os.Stderr, "Warning: no Python interpreter found; set python_path by hand")
		}
	}

	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Printf("# %s\n", configFile())
	os.Stdout.Write(data)
	return nil
}
