package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fentz26/timebook/internal/ledger"
	"github.com/fentz26/timebook/internal/models"
)

var todoCmd = &cobra.Command{
	Use:     "todo",
	Aliases: []string{"todos"},
	Short:   "Manage todos",
}

var todoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List todos",
	RunE:  runTodoList,
}

var todoAddCmd = &cobra.Command{
	Use:   "add [text...]",
	Short: "Add a todo",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTodoAdd,
}

var todoRenameCmd = &cobra.Command{
	Use:   "rename [todo-id] [text...]",
	Short: "Change a todo's text",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runTodoRename,
}

var todoDoneCmd = &cobra.Command{
	Use:   "done [todo-id]",
	Short: "Toggle a todo's completion",
	Args:  cobra.ExactArgs(1),
	RunE:  runTodoDone,
}

var todoRemoveCmd = &cobra.Command{
	Use:   "rm [todo-id]",
	Short: "Delete a todo and its children",
	Args:  cobra.ExactArgs(1),
	RunE:  runTodoRemove,
}

var (
	todoParent string
	todoLink   string
)

func init() {
	todoCmd.AddCommand(todoListCmd, todoAddCmd, todoRenameCmd, todoDoneCmd, todoRemoveCmd)

	todoAddCmd.Flags().StringVar(&todoParent, "parent", "", "Parent todo ID (prefix accepted)")
	todoAddCmd.Flags().StringVar(&todoLink, "account", "", "Bind to an existing account instead of creating one")
}

func fetchTodos() ([]models.Todo, error) {
	var todos []models.Todo
	err := apiJSON(http.MethodGet, "/todos", nil, &todos)
	return todos, err
}

// resolveTodoID expands a unique ID prefix, as printed by "todo list".
func resolveTodoID(prefix string) (string, error) {
	todos, err := fetchTodos()
	if err != nil {
		return "", err
	}
	var match string
	for _, t := range todos {
		if t.ID == prefix {
			return t.ID, nil
		}
		if strings.HasPrefix(t.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("todo id %q is ambiguous", prefix)
			}
			match = t.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("todo %q not found", prefix)
	}
	return match, nil
}

func todoPath(id string) string {
	return "/todos/" + url.PathEscape(id)
}

func runTodoList(cmd *cobra.Command, args []string) error {
	todos, err := fetchTodos()
	if err != nil {
		return err
	}
	if len(todos) == 0 {
		fmt.Println("No todos found")
		return nil
	}

	var accounts []models.Account
	if err := apiJSON(http.MethodGet, "/accounts", nil, &accounts); err != nil {
		return err
	}
	balances := make(map[string]int64, len(accounts))
	for _, a := range accounts {
		balances[a.Name] = a.Balance
	}

	depth := make(map[string]int, len(todos))
	byID := make(map[string]models.Todo, len(todos))
	for _, t := range todos {
		byID[t.ID] = t
	}
	var depthOf func(t models.Todo) int
	depthOf = func(t models.Todo) int {
		if d, ok := depth[t.ID]; ok {
			return d
		}
		d := 0
		if p, ok := byID[t.ParentID]; ok && t.ParentID != t.ID {
			depth[t.ID] = 0
			d = depthOf(p) + 1
		}
		depth[t.ID] = d
		return d
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTODO\tTIME\tACCOUNT")
	for _, t := range todos {
		box := "[ ]"
		if t.Completed {
			box = "[x]"
		}
		text := strings.Repeat("  ", depthOf(t)) + box + " " + truncate(t.Text, 40)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", truncateID(t.ID), text, ledger.FormatClock(balances[t.AccountID]), t.AccountID)
	}
	return w.Flush()
}

func runTodoAdd(cmd *cobra.Command, args []string) error {
	parent := ""
	if todoParent != "" {
		id, err := resolveTodoID(todoParent)
		if err != nil {
			return err
		}
		parent = id
	}
	body := map[string]string{
		"text":      strings.Join(args, " "),
		"parent_id": parent,
		"account":   todoLink,
	}
	var todo models.Todo
	if err := apiJSON(http.MethodPost, "/todos", body, &todo); err != nil {
		return err
	}
	fmt.Printf("Created todo %s (account %s)\n", truncateID(todo.ID), todo.AccountID)
	return nil
}

func runTodoRename(cmd *cobra.Command, args []string) error {
	id, err := resolveTodoID(args[0])
	if err != nil {
		return err
	}
	if _, err := apiPatch(todoPath(id), map[string]string{"text": strings.Join(args[1:], " ")}); err != nil {
		return err
	}
	fmt.Printf("Renamed todo %s\n", truncateID(id))
	return nil
}

func runTodoDone(cmd *cobra.Command, args []string) error {
	id, err := resolveTodoID(args[0])
	if err != nil {
		return err
	}
	var todo models.Todo
	if err := apiJSON(http.MethodPost, todoPath(id)+"/complete", nil, &todo); err != nil {
		return err
	}
	if todo.Completed {
		fmt.Printf("Completed %s\n", todo.Text)
	} else {
		fmt.Printf("Reopened %s\n", todo.Text)
	}
	return nil
}

func runTodoRemove(cmd *cobra.Command, args []string) error {
	id, err := resolveTodoID(args[0])
	if err != nil {
		return err
	}
	if err := apiDelete(todoPath(id)); err != nil {
		return err
	}
	fmt.Printf("Deleted todo %s\n", truncateID(id))
	return nil
}
