package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fentz26/timebook/internal/ledger"
	"github.com/fentz26/timebook/internal/models"
)

var accountCmd = &cobra.Command{
	Use:     "account",
	Aliases: []string{"accounts"},
	Short:   "Manage accounts",
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts and balances",
	RunE:  runAccountList,
}

var accountAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Create an empty account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountAdd,
}

var accountRenameCmd = &cobra.Command{
	Use:   "rename [name] [new-name]",
	Short: "Rename an account",
	Args:  cobra.ExactArgs(2),
	RunE:  runAccountRename,
}

var accountRemoveCmd = &cobra.Command{
	Use:   "rm [name]",
	Short: "Delete an account and discard its balance",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountRemove,
}

var accountArchiveCmd = &cobra.Command{
	Use:   "complete [name]",
	Short: "Mark a monument as completed",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountArchive,
}

var accountTodoCmd = &cobra.Command{
	Use:   "to-todo [name]",
	Short: "Create a todo bound to an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountTodo,
}

var transferCmd = &cobra.Command{
	Use:   "transfer [from] [to] [amount]",
	Short: "Move time between accounts",
	Long: `Moves time from one account to another. The amount is either seconds
("90"), a clock value ("00:01:30") or a duration ("1m30s").`,
	Args: cobra.ExactArgs(3),
	RunE: runTransfer,
}

var monumentsCmd = &cobra.Command{
	Use:   "monuments",
	Short: "Show monument accounts",
	RunE:  runMonuments,
}

var (
	accountKind string
	reopen      bool
)

func init() {
	accountCmd.AddCommand(accountListCmd, accountAddCmd, accountRenameCmd, accountRemoveCmd, accountArchiveCmd, accountTodoCmd)

	accountAddCmd.Flags().StringVar(&accountKind, "kind", string(models.AccountKindGeneral), "Account kind (general, monument, todo)")
	accountArchiveCmd.Flags().BoolVar(&reopen, "reopen", false, "Reopen a completed monument")
}

func accountPath(name string) string {
	return "/accounts/" + url.PathEscape(name)
}

func runAccountList(cmd *cobra.Command, args []string) error {
	var accounts []models.Account
	if err := apiJSON(http.MethodGet, "/accounts", nil, &accounts); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tBALANCE\t")
	var total int64
	for _, a := range accounts {
		flag := ""
		if a.Archived {
			flag = "completed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", truncate(a.Name, 40), a.Kind, ledger.FormatClock(a.Balance), flag)
		total += a.Balance
	}
	fmt.Fprintf(w, "\t\t%s\t\n", ledger.FormatClock(total))
	return w.Flush()
}

func runAccountAdd(cmd *cobra.Command, args []string) error {
	body := map[string]string{"name": args[0], "kind": accountKind}
	if _, err := apiPost("/accounts", body); err != nil {
		return err
	}
	fmt.Printf("Created account %s\n", args[0])
	return nil
}

func runAccountRename(cmd *cobra.Command, args []string) error {
	if _, err := apiPatch(accountPath(args[0]), map[string]string{"name": args[1]}); err != nil {
		return err
	}
	fmt.Printf("Renamed %s to %s\n", args[0], args[1])
	return nil
}

func runAccountRemove(cmd *cobra.Command, args []string) error {
	if err := apiDelete(accountPath(args[0])); err != nil {
		return err
	}
	fmt.Printf("Deleted account %s\n", args[0])
	return nil
}

func runAccountArchive(cmd *cobra.Command, args []string) error {
	if _, err := apiPost(accountPath(args[0])+"/archive", map[string]bool{"archived": !reopen}); err != nil {
		return err
	}
	if reopen {
		fmt.Printf("Reopened %s\n", args[0])
	} else {
		fmt.Printf("Completed %s\n", args[0])
	}
	return nil
}

func runAccountTodo(cmd *cobra.Command, args []string) error {
	var todo models.Todo
	if err := apiJSON(http.MethodPost, accountPath(args[0])+"/todo", nil, &todo); err != nil {
		return err
	}
	fmt.Printf("Created todo %s for %s\n", truncateID(todo.ID), args[0])
	return nil
}

func runTransfer(cmd *cobra.Command, args []string) error {
	amount, err := ledger.ParseAmount(args[2])
	if err != nil {
		return err
	}
	body := map[string]any{"from": args[0], "to": args[1], "amount": amount}
	if _, err := apiPost("/transfers", body); err != nil {
		return err
	}
	fmt.Printf("Moved %s from %s to %s\n", ledger.FormatClock(amount), args[0], args[1])
	return nil
}

func runMonuments(cmd *cobra.Command, args []string) error {
	var report struct {
		Monuments    []models.Account `json:"monuments"`
		Completed    []string         `json:"completed"`
		TotalSeconds int64            `json:"total_seconds"`
	}
	if err := apiJSON(http.MethodGet, "/monuments", nil, &report); err != nil {
		return err
	}
	if len(report.Monuments) == 0 {
		fmt.Println("No monuments yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MONUMENT\tINVESTED\tSTATUS")
	for _, m := range report.Monuments {
		status := "building"
		if m.Archived {
			status = "completed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", truncate(m.Name, 40), ledger.FormatClock(m.Balance), status)
	}
	w.Flush()
	fmt.Printf("\n%d completed, %s invested in total\n", len(report.Completed), ledger.FormatClock(report.TotalSeconds))
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
