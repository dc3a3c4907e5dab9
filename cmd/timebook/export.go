package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export accounts, todos, the time log and settings as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Replace all state with an exported document",
	Long: `Replaces all accounts, todos, the time log and settings with the contents
of an export document. The running session is stopped. Use "-" to read stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runExport(cmd *cobra.Command, args []string) error {
	data, err := apiGet("/export")
	if err != nil {
		return err
	}
	if len(args) == 0 || args[0] == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(args[0], data, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Exported to %s\n", args[0])
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	var r io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if _, err := apiPost("/import", data); err != nil {
		return err
	}
	fmt.Println("Import complete")
	return nil
}
