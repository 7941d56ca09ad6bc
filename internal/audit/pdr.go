// Package audit records Process Decision Records for lifecycle actions.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/MaiM-with-u/MaiLuncher/internal/models"
	"github.com/MaiM-with-u/MaiLuncher/internal/store"
)

// Outcomes recorded with each decision.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeNoop    = "noop"
)

// PDRWriter writes Process Decision Records for audit trails.
type PDRWriter struct {
	store *store.Store
}

// NewPDRWriter creates a new PDR writer. A nil store disables recording.
func NewPDRWriter(s *store.Store) *PDRWriter {
	return &PDRWriter{store: s}
}

// Record writes a PDR entry for a state-mutating action.
func (w *PDRWriter) Record(action string, inputs any, outcome, processID, details string) (*models.PDREntry, error) {
	if w == nil || w.store == nil {
		return nil, nil
	}
	return w.store.WritePDR(action, hashInputs(inputs), outcome, processID, details)
}

// hashInputs creates a SHA256 hash of the inputs so identical requests can
// be matched later without storing them.
func hashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
