package session

import (
	"os"
	"sync"

	"github.com/hollandt/warden/internal/model"
	wyaml "github.com/hollandt/warden/internal/yaml"
)

// History owns .warden/state/operations.yaml. Closed operations are
// append-only history records.
type History struct {
	mu   sync.Mutex
	path string
}

func NewHistory(path string) *History {
	return &History{path: path}
}

// Append records a closed operation and bumps the running counters.
func (h *History) Append(op model.Operation) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	doc, err := h.load()
	if err != nil {
		return err
	}
	doc.Operations = append(doc.Operations, op)
	doc.TotalOperations++
	doc.LastOperationID = op.ID
	return wyaml.AtomicWrite(h.path, doc)
}

// Total returns the number of operations ever closed.
func (h *History) Total() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	doc, err := h.load()
	if err != nil {
		return 0, err
	}
	return doc.TotalOperations, nil
}

// Snapshot returns the full history document.
func (h *History) Snapshot() (*model.OperationHistory, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.load()
}

func (h *History) load() (*model.OperationHistory, error) {
	if _, err := os.Stat(h.path); os.IsNotExist(err) {
		return &model.OperationHistory{
			Version:  wyaml.CurrentSchemaVersion,
			FileType: wyaml.FileTypeOperationHistory,
		}, nil
	}

	var doc model.OperationHistory
	if err := wyaml.ReadDocument(h.path, wyaml.FileTypeOperationHistory, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
