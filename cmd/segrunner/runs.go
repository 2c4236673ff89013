package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lumenimaging/segrunner/internal/audit"
	"github.com/lumenimaging/segrunner/internal/domain"
	"github.com/lumenimaging/segrunner/internal/runstore"
)

var (
	runsLimit  int
	auditLimit int
)

func init() {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent segmentation runs",
		RunE:  runRuns,
	}
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "number of runs to show")
	rootCmd.AddCommand(runsCmd)

	showCmd := &cobra.Command{
		Use:   "show RUN",
		Short: "Show one run with its state history",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
	rootCmd.AddCommand(showCmd)

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Print the audit trail",
		RunE:  runAudit,
	}
	auditCmd.Flags().IntVar(&auditLimit, "limit", 0, "show only the last N entries")
	rootCmd.AddCommand(auditCmd)
}

func openStore() (*runstore.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return runstore.New(cfg.General.DatabasePath)
}

func runRuns(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListRecentRuns(runsLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTATE\tTASK\tSTARTED\tDURATION\tIMPORTED")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			shortRunID(r.ID), r.State, r.Task,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			runDuration(r), r.ImportedCount)
	}
	return w.Flush()
}

func runShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	record, err := store.GetRun(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Run:      %s\n", record.ID)
	fmt.Printf("State:    %s\n", record.State)
	fmt.Printf("Task:     %s\n", orDash(record.Task))
	fmt.Printf("Device:   %s\n", orDash(record.Device))
	fmt.Printf("Output:   %s", record.OutputType)
	if record.OutputDirectory != "" {
		fmt.Printf(" -> %s", record.OutputDirectory)
	}
	fmt.Println()
	if len(record.SelectedClasses) > 0 {
		fmt.Printf("Classes:  %s\n", strings.Join(record.SelectedClasses, ", "))
	}
	fmt.Printf("Imported: %d files, %d structure sets\n", record.ImportedCount, record.RTStructCount)
	if record.ErrorMessage != "" {
		fmt.Printf("Error:    %s\n", record.ErrorMessage)
	}

	transitions, err := store.Transitions(record.ID)
	if err != nil {
		return err
	}
	if len(transitions) > 0 {
		fmt.Println("\nHistory:")
		for _, tr := range transitions {
			fmt.Printf("  %s  %s\n", tr.EnteredAt.Local().Format("15:04:05"), tr.State)
		}
	}
	return nil
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	entries, err := audit.ReadAll(cfg.General.AuditLogPath)
	if err != nil {
		return err
	}
	if auditLimit > 0 && len(entries) > auditLimit {
		entries = entries[len(entries)-auditLimit:]
	}
	if len(entries) == 0 {
		fmt.Println("Audit trail is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tRUN\tTASK\tTYPE\tFILES\tRTSTRUCTS\tSERIES")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04"),
			shortRunID(e.RunID), orDash(e.Task), e.OutputType,
			e.ImportedFileCount, e.RTStructCount, seriesSummary(e.Series))
	}
	return w.Flush()
}

func seriesSummary(series []domain.SeriesAudit) string {
	if len(series) == 0 {
		return "-"
	}
	s := series[0]
	out := fmt.Sprintf("%s (%d slices)", s.Modality, s.SliceCount)
	if len(series) > 1 {
		out += fmt.Sprintf(" +%d more", len(series)-1)
	}
	return out
}

func runDuration(r *runstore.RunRecord) string {
	if r.FinishedAt == nil {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
