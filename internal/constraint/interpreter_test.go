package constraint

import (
	"errors"
	"strings"
	"testing"

	"github.com/af-corp/semroute/internal/task"
)

func TestInterpret_PreferenceTables(t *testing.T) {
	c, err := Interpret("high", "fast", task.TypeGeneral)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.QualityThreshold != 4.0 {
		t.Errorf("expected quality 4.0, got %v", c.QualityThreshold)
	}
	if c.LatencyBudgetMs != 300 {
		t.Errorf("expected latency 300, got %v", c.LatencyBudgetMs)
	}
}

func TestInterpret_EmptyPreferencesDefaultToMediumNormal(t *testing.T) {
	c, err := Interpret("", "", task.TypeGeneral)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.QualityThreshold != 3.5 || c.LatencyBudgetMs != 500 {
		t.Errorf("expected 3.5/500, got %v/%v", c.QualityThreshold, c.LatencyBudgetMs)
	}
}

func TestInterpret_TaskFloorRaisesQuality(t *testing.T) {
	c, err := Interpret("low", "slow", task.TypeCoding)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.QualityThreshold != 4.0 {
		t.Errorf("expected coding floor to raise quality to 4.0, got %v", c.QualityThreshold)
	}
	if c.LatencyBudgetMs != 500 {
		t.Errorf("expected coding ceiling to lower latency to 500, got %v", c.LatencyBudgetMs)
	}
}

func TestInterpret_TaskFloorNeverLoosens(t *testing.T) {
	// A user asking for max quality and instant latency keeps both even when
	// the task floor is looser.
	c, err := Interpret("max", "instant", task.TypeReasoning)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.QualityThreshold != 4.5 {
		t.Errorf("expected user's stricter quality 4.5 kept, got %v", c.QualityThreshold)
	}
	if c.LatencyBudgetMs != 150 {
		t.Errorf("expected user's stricter latency 150 kept, got %v", c.LatencyBudgetMs)
	}
}

func TestInterpret_UnknownPreferenceListsAllowed(t *testing.T) {
	_, err := Interpret("ultra", "normal", task.TypeGeneral)
	if !errors.Is(err, ErrInvalidPreference) {
		t.Fatalf("expected ErrInvalidPreference, got %v", err)
	}
	for _, word := range []string{"low", "medium", "high", "max"} {
		if !strings.Contains(err.Error(), word) {
			t.Errorf("expected error to list %q, got %q", word, err.Error())
		}
	}
}

func TestInterpret_UnknownLatencyPreference(t *testing.T) {
	_, err := Interpret("high", "warp", task.TypeGeneral)
	if !errors.Is(err, ErrInvalidPreference) {
		t.Fatalf("expected ErrInvalidPreference, got %v", err)
	}
}

func TestDefaults_AppliesTaskFloor(t *testing.T) {
	c := Defaults(task.TypeCoding)
	if c.QualityThreshold != 4.0 {
		t.Errorf("expected 4.0, got %v", c.QualityThreshold)
	}
	general := Defaults(task.TypeGeneral)
	if general.QualityThreshold != 3.5 || general.LatencyBudgetMs != 500 {
		t.Errorf("expected 3.5/500 for general, got %v/%v", general.QualityThreshold, general.LatencyBudgetMs)
	}
}
