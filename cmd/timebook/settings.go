package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/fentz26/timebook/internal/ledger"
	"github.com/fentz26/timebook/internal/models"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change pomodoro durations",
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change focus and break durations",
	RunE:  runSettingsSet,
}

var (
	focusDuration string
	breakDuration string
)

func init() {
	settingsCmd.AddCommand(settingsSetCmd)
	settingsSetCmd.Flags().StringVar(&focusDuration, "focus", "", "Focus length (e.g. 25m, 1500, 00:25:00)")
	settingsSetCmd.Flags().StringVar(&breakDuration, "break", "", "Break length (e.g. 5m)")
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	var s models.Settings
	if err := apiJSON(http.MethodGet, "/settings", nil, &s); err != nil {
		return err
	}
	printSettings(s)
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	if focusDuration == "" && breakDuration == "" {
		return fmt.Errorf("nothing to change: pass --focus and/or --break")
	}
	var s models.Settings
	if err := apiJSON(http.MethodGet, "/settings", nil, &s); err != nil {
		return err
	}
	if focusDuration != "" {
		v, err := ledger.ParseAmount(focusDuration)
		if err != nil {
			return fmt.Errorf("--focus: %w", err)
		}
		s.FocusSeconds = int(v)
	}
	if breakDuration != "" {
		v, err := ledger.ParseAmount(breakDuration)
		if err != nil {
			return fmt.Errorf("--break: %w", err)
		}
		s.BreakSeconds = int(v)
	}
	if err := apiJSON(http.MethodPut, "/settings", s, &s); err != nil {
		return err
	}
	printSettings(s)
	return nil
}

func printSettings(s models.Settings) {
	fmt.Printf("Focus: %s\n", ledger.FormatClock(int64(s.FocusSeconds)))
	fmt.Printf("Break: %s\n", ledger.FormatClock(int64(s.BreakSeconds)))
}
