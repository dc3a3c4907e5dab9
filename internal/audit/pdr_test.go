package audit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/timebook/internal/models"
)

type memSink struct {
	entries []models.PDREntry
	err     error
}

func (m *memSink) WritePDR(action, inputsHash, outcome, subject, details string) (*models.PDREntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	e := models.PDREntry{Action: action, InputsHash: inputsHash, Outcome: outcome, Subject: subject, Details: details}
	m.entries = append(m.entries, e)
	return &e, nil
}

func TestOutcomeRecordsSuccessAndFailure(t *testing.T) {
	sink := &memSink{}
	w := NewPDRWriter(sink)

	w.Outcome("transfer", map[string]any{"from": "A", "to": "B", "amount": 3}, "A", nil)
	w.Outcome("transfer", map[string]any{"from": "A", "to": "B", "amount": 30}, "A", errors.New("insufficient balance"))

	require.Len(t, sink.entries, 2)
	assert.Equal(t, OutcomeSuccess, sink.entries[0].Outcome)
	assert.Equal(t, OutcomeFailure, sink.entries[1].Outcome)
	assert.Equal(t, "insufficient balance", sink.entries[1].Details)
	assert.NotEqual(t, sink.entries[0].InputsHash, sink.entries[1].InputsHash)
}

func TestHashInputsIsStable(t *testing.T) {
	in := map[string]any{"name": "Coding", "kind": "general"}
	assert.Equal(t, hashInputs(in), hashInputs(in))
	assert.Len(t, hashInputs(in), 64)
}

func TestNilWriterIsNoop(t *testing.T) {
	var w *PDRWriter
	entry, err := w.Record("start", nil, OutcomeSuccess, "", "")
	assert.NoError(t, err)
	assert.Nil(t, entry)

	NewPDRWriter(nil).Outcome("stop", nil, "", nil)
}

func TestSinkErrorsAreSwallowed(t *testing.T) {
	w := NewPDRWriter(&memSink{err: errors.New("db closed")})
	assert.NotPanics(t, func() { w.Outcome("stop", nil, "", nil) })
}
