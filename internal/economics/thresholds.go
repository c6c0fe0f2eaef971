package economics

import (
	"fmt"
	"sync"
)

// Cost sensitivity levels for the threshold table.
const (
	SensitivityHigh   = "high"
	SensitivityMedium = "medium"
	SensitivityLow    = "low"
)

// ThresholdTuner is the task-type × cost-sensitivity similarity threshold
// table. "Adaptive" means externally tunable: UpdateThreshold overwrites a
// cell and all subsequent lookups see the new value. There is no online
// learning here.
type ThresholdTuner struct {
	mu    sync.RWMutex
	table map[string]map[string]float64
}

// NewThresholdTuner copies the validated table. The table must contain a
// "default" row; rows missing a sensitivity column fall through to it.
func NewThresholdTuner(table map[string]map[string]float64) *ThresholdTuner {
	return &ThresholdTuner{table: cloneTable(table)}
}

// Threshold returns the acceptance threshold for (taskType, sensitivity).
// Unknown task types use the "default" row; an unknown sensitivity within a
// row uses "medium".
func (t *ThresholdTuner) Threshold(taskType, sensitivity string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	row, ok := t.table[taskType]
	if !ok {
		row = t.table["default"]
	}
	if v, ok := row[sensitivity]; ok {
		return v
	}
	if v, ok := row[SensitivityMedium]; ok {
		return v
	}
	// Row exists but is empty; fall back to the default row's medium cell.
	return t.table["default"][SensitivityMedium]
}

// UpdateThreshold overwrites one cell of the table.
func (t *ThresholdTuner) UpdateThreshold(taskType, sensitivity string, value float64) error {
	if value < 0 || value > 1 {
		return fmt.Errorf("threshold must be in [0,1], got %v", value)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.table[taskType]
	if !ok {
		row = make(map[string]float64)
		t.table[taskType] = row
	}
	row[sensitivity] = value
	return nil
}

// Reload atomically replaces the whole table (config reload).
func (t *ThresholdTuner) Reload(table map[string]map[string]float64) {
	cloned := cloneTable(table)
	t.mu.Lock()
	t.table = cloned
	t.mu.Unlock()
}

func cloneTable(table map[string]map[string]float64) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(table))
	for task, row := range table {
		cloned := make(map[string]float64, len(row))
		for sens, v := range row {
			cloned[sens] = v
		}
		out[task] = cloned
	}
	return out
}
