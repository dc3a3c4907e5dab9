package main

import (
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/timebook/internal/ledger"
	"github.com/fentz26/timebook/internal/models"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the time log",
	RunE:  runLogList,
}

var logClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the time log. Balances are kept",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiDelete("/logs"); err != nil {
			return err
		}
		fmt.Println("Time log cleared")
		return nil
	},
}

var (
	logOldestFirst bool
	logLimit       int
)

func init() {
	logCmd.AddCommand(logClearCmd)
	logCmd.Flags().BoolVar(&logOldestFirst, "oldest-first", false, "Show oldest entries first")
	logCmd.Flags().IntVar(&logLimit, "limit", 50, "Maximum entries to show (0 for all)")
}

func runLogList(cmd *cobra.Command, args []string) error {
	path := fmt.Sprintf("/logs?newest_first=%t", !logOldestFirst)
	var entries []models.LogEntry
	if err := apiJSON(http.MethodGet, path, nil, &entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("The time log is empty")
		return nil
	}
	if logLimit > 0 && len(entries) > logLimit {
		entries = entries[:logLimit]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tTYPE\tDETAIL\tTIME")
	for _, e := range entries {
		when := e.Timestamp.Local().Format(time.DateTime)
		switch e.Type {
		case models.LogEntryTimer:
			label := e.AccountLabel
			if label == "" {
				label = e.AccountID
			}
			fmt.Fprintf(w, "%s\ttimer\t%s\t%s\n", when, truncate(label, 40), ledger.FormatClock(e.Seconds()))
		case models.LogEntryTransfer:
			detail := fmt.Sprintf("%s -> %s", e.FromAccount, e.ToAccount)
			fmt.Fprintf(w, "%s\ttransfer\t%s\t%s\n", when, truncate(detail, 40), ledger.FormatClock(e.Amount))
		}
	}
	return w.Flush()
}
