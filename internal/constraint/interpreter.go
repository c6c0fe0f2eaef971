// Package constraint maps user preference words and task types to the numeric
// quality-floor / latency-ceiling pairs the routing engine filters on.
package constraint

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/af-corp/semroute/internal/task"
)

// ErrInvalidPreference is returned for an unknown preference word.
var ErrInvalidPreference = errors.New("invalid preference")

// Constraints is a per-request model filter derived from preferences and task
// type. Not persisted.
type Constraints struct {
	QualityThreshold float64
	LatencyBudgetMs  int
	CostBudget       float64
}

var qualityTable = map[string]float64{
	"low":    3.0,
	"medium": 3.5,
	"high":   4.0,
	"max":    4.5,
}

var latencyTable = map[string]int{
	"slow":    2000,
	"normal":  500,
	"fast":    300,
	"instant": 150,
}

// taskFloor is the minimum constraint a task type imposes regardless of user
// preference. Overrides only tighten: they raise the quality floor and lower
// the latency ceiling, never the reverse.
type taskFloor struct {
	minQuality   float64
	maxLatencyMs int
}

var taskFloors = map[string]taskFloor{
	task.TypeCoding:    {minQuality: 4.0, maxLatencyMs: 500},
	task.TypeReasoning: {minQuality: 4.0, maxLatencyMs: 500},
	task.TypeLegal:     {minQuality: 4.0, maxLatencyMs: 2000},
}

// Defaults returns the constraints used by autopilot for a task type.
func Defaults(taskType string) Constraints {
	c := Constraints{QualityThreshold: qualityTable["medium"], LatencyBudgetMs: latencyTable["normal"]}
	return applyTaskFloor(c, taskType)
}

// Interpret maps preference words to numeric constraints, then tightens them
// with the task-type floor. Empty preferences mean "medium"/"normal".
func Interpret(qualityPref, latencyPref, taskType string) (Constraints, error) {
	if qualityPref == "" {
		qualityPref = "medium"
	}
	if latencyPref == "" {
		latencyPref = "normal"
	}

	quality, ok := qualityTable[strings.ToLower(qualityPref)]
	if !ok {
		return Constraints{}, fmt.Errorf("%w: quality %q (allowed: %s)", ErrInvalidPreference, qualityPref, allowedKeys(qualityTable))
	}
	latency, ok := latencyTable[strings.ToLower(latencyPref)]
	if !ok {
		return Constraints{}, fmt.Errorf("%w: latency %q (allowed: %s)", ErrInvalidPreference, latencyPref, allowedLatencyKeys())
	}

	return applyTaskFloor(Constraints{QualityThreshold: quality, LatencyBudgetMs: latency}, taskType), nil
}

// Tighten applies the task-type floor to caller-supplied constraints.
func Tighten(c Constraints, taskType string) Constraints {
	return applyTaskFloor(c, taskType)
}

func applyTaskFloor(c Constraints, taskType string) Constraints {
	floor, ok := taskFloors[taskType]
	if !ok {
		return c
	}
	if floor.minQuality > c.QualityThreshold {
		c.QualityThreshold = floor.minQuality
	}
	if floor.maxLatencyMs < c.LatencyBudgetMs {
		c.LatencyBudgetMs = floor.maxLatencyMs
	}
	return c
}

func allowedKeys(m map[string]float64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}

func allowedLatencyKeys() string {
	keys := make([]string, 0, len(latencyTable))
	for k := range latencyTable {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}
