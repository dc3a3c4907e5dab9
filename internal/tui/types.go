package tui

import "github.com/fentz26/timebook/internal/models"

// Session is the /session payload.
type Session struct {
	models.SessionState
	Label    string          `json:"label,omitempty"`
	Settings models.Settings `json:"settings"`
}

// PhaseLength returns the configured length of the current phase.
func (s Session) PhaseLength() int {
	switch s.Phase {
	case models.PhaseFocus:
		return s.Settings.FocusSeconds
	case models.PhaseBreak:
		return s.Settings.BreakSeconds
	default:
		return 0
	}
}

// Progress returns how far the current phase is, from 0 to 1.
func (s Session) Progress() float64 {
	total := s.PhaseLength()
	if total <= 0 {
		return 0
	}
	done := total - s.RemainingSeconds
	if done < 0 {
		done = 0
	}
	return float64(done) / float64(total)
}

// row is one selectable line in a panel.
type row struct {
	Title     string
	AccountID string
	TodoID    string
	Balance   int64
	Depth     int
	Completed bool
}
