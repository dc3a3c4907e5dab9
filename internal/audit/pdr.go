// Package audit provides PDR (Process Decision Record) writing for timebook.
package audit

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/fentz26/timebook/internal/models"
)

// Outcomes recorded on every PDR.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Sink stores decision records.
type Sink interface {
	WritePDR(action, inputsHash, outcome, subject, details string) (*models.PDREntry, error)
}

// PDRWriter writes Process Decision Records for audit trails.
type PDRWriter struct {
	sink Sink
}

// NewPDRWriter creates a new PDR writer. A nil sink disables recording.
func NewPDRWriter(s Sink) *PDRWriter {
	return &PDRWriter{sink: s}
}

// Record writes a PDR entry for a state-mutating action.
func (w *PDRWriter) Record(action string, inputs interface{}, outcome, subject, details string) (*models.PDREntry, error) {
	if w == nil || w.sink == nil {
		return nil, nil
	}
	return w.sink.WritePDR(action, hashInputs(inputs), outcome, subject, details)
}

// Outcome records action with an outcome derived from err. Sink failures are
// logged, never returned: auditing must not fail the command it describes.
func (w *PDRWriter) Outcome(action string, inputs interface{}, subject string, err error) {
	outcome, details := OutcomeSuccess, ""
	if err != nil {
		outcome, details = OutcomeFailure, err.Error()
	}
	if _, werr := w.Record(action, inputs, outcome, subject, details); werr != nil {
		log.Warn().Err(werr).Str("action", action).Msg("Failed to write PDR")
	}
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
