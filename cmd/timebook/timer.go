package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/fentz26/timebook/internal/ledger"
	"github.com/fentz26/timebook/internal/models"
	"github.com/fentz26/timebook/internal/tui"
)

var timerCmd = &cobra.Command{
	Use:     "timer",
	Aliases: []string{"session"},
	Short:   "Control the pomodoro session",
}

var timerStartCmd = &cobra.Command{
	Use:   "start [account]",
	Short: "Start focusing on an account, a todo, or Unallocated",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTimerStart,
}

var timerStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the session and log the elapsed time",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionAction("/session/stop")
	},
}

var timerRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Abandon the current phase and book its time as loss",
	RunE:  runTimerRestart,
}

var timerSkipCmd = &cobra.Command{
	Use:     "skip",
	Aliases: []string{"ff"},
	Short:   "Skip to the end of the current phase",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionAction("/session/fast-forward")
	},
}

var timerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		var s tui.Session
		if err := apiJSON(http.MethodGet, "/session", nil, &s); err != nil {
			return err
		}
		printSession(s)
		return nil
	},
}

var timerTodo string

func init() {
	timerCmd.AddCommand(timerStartCmd, timerStopCmd, timerRestartCmd, timerSkipCmd, timerStatusCmd)

	timerStartCmd.Flags().StringVar(&timerTodo, "todo", "", "Todo ID to focus on (prefix accepted)")
}

func runTimerStart(cmd *cobra.Command, args []string) error {
	body := map[string]string{}
	if len(args) > 0 {
		body["account"] = args[0]
	}
	if timerTodo != "" {
		id, err := resolveTodoID(timerTodo)
		if err != nil {
			return err
		}
		body["todo_id"] = id
	}
	var s tui.Session
	if err := apiJSON(http.MethodPost, "/session/start", body, &s); err != nil {
		return err
	}
	printSession(s)
	return nil
}

func runTimerRestart(cmd *cobra.Command, args []string) error {
	var result struct {
		LossSeconds int64 `json:"loss_seconds"`
	}
	if err := apiJSON(http.MethodPost, "/session/restart", nil, &result); err != nil {
		return err
	}
	fmt.Printf("Restarted. %s booked to %s\n", ledger.FormatClock(result.LossSeconds), models.AccountDefaultLoss)
	return nil
}

func sessionAction(path string) error {
	var s tui.Session
	if err := apiJSON(http.MethodPost, path, nil, &s); err != nil {
		return err
	}
	printSession(s)
	return nil
}

func printSession(s tui.Session) {
	if !s.Active() {
		fmt.Println("Idle")
		return
	}
	label := s.Label
	if label == "" {
		label = s.AccountID
	}
	if s.Phase == models.PhaseBreak {
		label = models.AccountRestTime
	}
	fmt.Printf("%-6s %s  %s\n", s.Phase, ledger.FormatClock(int64(s.RemainingSeconds)), label)
}
