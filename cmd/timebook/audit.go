package main

import (
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/timebook/internal/models"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent decision records for mutating commands",
	RunE: func(cmd *cobra.Command, args []string) error {
		var entries []models.PDREntry
		if err := apiJSON(http.MethodGet, fmt.Sprintf("/audit?limit=%d", auditLimit), nil, &entries); err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No decision records")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tACTION\tOUTCOME\tSUBJECT\tINPUTS")
		for _, e := range entries {
			outcome := e.Outcome
			if e.Details != "" {
				outcome += ": " + e.Details
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				e.Timestamp.Local().Format(time.DateTime),
				e.Action,
				truncate(outcome, 40),
				truncate(e.Subject, 24),
				truncateID(e.InputsHash),
			)
		}
		return w.Flush()
	},
}

func init() {
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "Maximum records to show")
}
