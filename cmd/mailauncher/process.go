package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/MaiM-with-u/MaiLuncher/internal/controlplane"
	"github.com/MaiM-with-u/MaiLuncher/internal/models"
	"github.com/spf13/cobra"
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List processes",
	RunE:  runPs,
}

var startCmd = &cobra.Command{
	Use:   "start [process-id]",
	Short: "Start a process",
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop [process-id]",
	Short: "Stop a process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(args[0], "stop")
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart [process-id]",
	Short: "Restart a process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(args[0], "restart")
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm [process-id]",
	Short: "Forget a stopped process and its buffered log",
	Args:  cobra.ExactArgs(1),
	RunE:  runRm,
}

var logsCmd = &cobra.Command{
	Use:   "logs [process-id]",
	Short: "Show buffered process output",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

var historyCmd = &cobra.Command{
	Use:   "history [process-id]",
	Short: "Show past runs of a process",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

var (
	startScript  string
	startName    string
	logsTail     int
	logsFollow   bool
	logsRaw      bool
	historyLimit int
)

func init() {
	startCmd.Flags().StringVar(&startScript, "script", "", "Script to run (default from config)")
	startCmd.Flags().StringVar(&startName, "name", "", "Display name (default from config)")

	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 100, "Number of lines to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Keep printing new output")
	logsCmd.Flags().BoolVar(&logsRaw, "raw", false, "Print lines with their color codes")

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of runs")
}

func processPath(id string, parts ...string) string {
	p := "/processes/" + url.PathEscape(id)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func runPs(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/processes")
	if err != nil {
		return err
	}

	var infos []models.ProcessInfo
	if err := json.Unmarshal(resp, &infos); err != nil {
		return err
	}

	if len(infos) == 0 {
		fmt.Println("No processes configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tPID\tSTARTED\tLINES")
	for _, p := range infos {
		pid := "-"
		if p.PID != 0 {
			pid = strconv.Itoa(p.PID)
		}
		started := "-"
		if p.StartedAt != nil {
			started = p.StartedAt.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n", p.ID, truncate(p.DisplayName, 24), statusText(p), pid, started, p.LogLines)
	}
	w.Flush()
	return nil
}

func statusText(p models.ProcessInfo) string {
	if p.Status == models.ProcessStatusStopped && p.HasRunBefore {
		if note := p.EndReason.Note(); note != "" {
			return note
		}
	}
	if p.Status == models.ProcessStatusError && p.LastError != "" {
		return "error: " + truncate(p.LastError, 40)
	}
	return string(p.Status)
}

func runStart(cmd *cobra.Command, args []string) error {
	body := controlplane.StartRequest{
		Script:      startScript,
		DisplayName: startName,
	}
	resp, err := apiPost(processPath(args[0], "start"), body)
	if err != nil {
		return err
	}
	return printAction(resp)
}

func runAction(id, action string) error {
	resp, err := apiPost(processPath(id, action), struct{}{})
	if err != nil {
		return err
	}
	return printAction(resp)
}

func printAction(resp []byte) error {
	var result controlplane.ActionResponse
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}
	fmt.Println(result.Message)
	if result.Process.PID != 0 {
		fmt.Printf("PID: %d\n", result.Process.PID)
	}
	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	if _, err := apiDelete(processPath(args[0])); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", args[0])
	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	id := args[0]
	last, err := printLogs(id, 0, logsTail)
	if err != nil || !logsFollow {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			seq, err := printLogs(id, last, 0)
			if err != nil {
				return err
			}
			last = seq
		}
	}
}

// printLogs prints entries after seq and returns the newest sequence number seen.
func printLogs(id string, after uint64, tail int) (uint64, error) {
	path := fmt.Sprintf("%s?after=%d&tail=%d", processPath(id, "logs"), after, tail)
	resp, err := apiGet(path)
	if err != nil {
		return after, err
	}

	var entries []models.LogEntry
	if err := json.Unmarshal(resp, &entries); err != nil {
		return after, err
	}
	for _, e := range entries {
		if logsRaw {
			fmt.Println(e.Raw)
		} else {
			fmt.Println(e.Text())
		}
		after = e.Seq
	}
	return after, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	resp, err := apiGet(fmt.Sprintf("%s?limit=%d", processPath(args[0], "runs"), historyLimit))
	if err != nil {
		return err
	}

	var runs []models.Run
	if err := json.Unmarshal(resp, &runs); err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tDURATION\tPID\tRESULT\tEXIT")
	for _, r := range runs {
		duration := "running"
		result := "-"
		if r.EndedAt != nil {
			duration = r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
			result = string(r.EndReason)
		}
		exit := "-"
		if r.ExitCode != nil {
			exit = strconv.Itoa(*r.ExitCode)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			truncateID(r.ID), r.StartedAt.Local().Format("2006-01-02 15:04:05"), duration, r.PID, result, exit)
	}
	w.Flush()
	return nil
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
