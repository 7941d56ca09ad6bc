package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/MaiM-with-u/MaiLuncher/internal/botrepo"
	"github.com/MaiM-with-u/MaiLuncher/internal/config"
	"github.com/MaiM-with-u/MaiLuncher/internal/connectors/localexec"
	"github.com/spf13/cobra"
)

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Download or update the MaiBot source",
}

var botBranchesCmd = &cobra.Command{
	Use:   "branches",
	Short: "List the branches available for download",
	RunE:  runBotBranches,
}

var botFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Clone MaiBot, or pull if the directory already holds it",
	RunE:  runBotFetch,
}

var (
	branchesRefresh bool
	fetchBranch     string
	fetchSource     string
	fetchDir        string
)

func init() {
	botCmd.AddCommand(botBranchesCmd, botFetchCmd)

	botBranchesCmd.Flags().BoolVar(&branchesRefresh, "refresh", false, "Ignore the cached branch list")

	botFetchCmd.Flags().StringVar(&fetchBranch, "branch", "main", "Branch to fetch (main or dev)")
	botFetchCmd.Flags().StringVar(&fetchSource, "source", string(botrepo.SourceGitHub), "Remote to clone from (github or gitee)")
	botFetchCmd.Flags().StringVar(&fetchDir, "dir", "", "Target directory (default: <base>/MaiBot)")
}

// baseForCLI returns the base directory without requiring a valid config.
func baseForCLI() string {
	return config.BaseDirOf(configFile())
}

func runBotBranches(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := botrepo.NewClient(filepath.Join(baseForCLI(), "data"))
	branches, err := client.Branches(ctx, branchesRefresh)
	if err != nil {
		return err
	}
	if len(branches) == 0 {
		fmt.Println("No branches available")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BRANCH\tCHANNEL")
	for _, b := range branches {
		fmt.Fprintf(w, "%s\t%s\n", b.Name, b.Channel)
	}
	w.Flush()
	return nil
}

func runBotFetch(cmd *cobra.Command, args []string) error {
	dir := fetchDir
	if dir == "" {
		dir = filepath.Join(baseForCLI(), "MaiBot")
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	spin := newSpinner(fmt.Sprintf("Fetching MaiBot (%s) into %s", fetchBranch, dir))
	spin.Start()
	res, err := botrepo.Fetch(ctx, localexec.New(""), dir, fetchBranch, botrepo.Source(fetchSource))
	if err != nil {
		spin.StopWithSymbol("✗")
		return err
	}
	spin.StopWithSymbol("✓")

	// git reports progress on stderr.
	if out := strings.TrimSpace(res.Stdout + res.Stderr); out != "" {
		fmt.Println(out)
	}
	fmt.Printf("\nSet bot_dir = %q in %s to launch this copy.\n", dir, configFile())
	return nil
}
