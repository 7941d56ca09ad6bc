package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/MaiM-with-u/MaiLuncher/internal/config"
	"github.com/MaiM-with-u/MaiLuncher/internal/connectors/localexec"
	"github.com/MaiM-with-u/MaiLuncher/internal/interp"
	"github.com/spf13/cobra"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Find Python interpreters usable for the bot",
	RunE:  runDetect,
}

var detectJSON bool

func init() {
	detectCmd.Flags().BoolVar(&detectJSON, "json", false, "Print results as JSON")
}

// detectInterpreters scans next to the launcher executable, in the bot
// directory and on PATH.
func detectInterpreters(cfg *config.Config) []interp.Interpreter {
	exeDir := ""
	if exe, err := os.Executable(); err == nil {
		exeDir = filepath.Dir(exe)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d := interp.NewDetector(localexec.New(cfg.WorkDir()), 5*time.Second, nil)
	return d.Scan(ctx, exeDir, cfg.WorkDir())
}

func runDetect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		// A broken config should not stop anyone from finding an interpreter.
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		cfg = config.Default().WithBaseDir(config.BaseDirOf(configFile()))
	}

	found := detectInterpreters(cfg)

	if detectJSON {
		if found == nil {
			found = []interp.Interpreter{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(found)
	}

	if len(found) == 0 {
		fmt.Println("No Python interpreter found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tSOURCE\tPATH\tVERSION")
	for _, in := range found {
		mark := ""
		if cfg.PythonPath != "" && filepath.Clean(cfg.PythonPath) == in.Path {
			mark = "*"
		}
		version := in.Version
		if !in.OK {
			version = "(not usable)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, in.Source, in.Path, version)
	}
	w.Flush()
	return nil
}
