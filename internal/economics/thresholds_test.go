package economics

import "testing"

func testTuner() *ThresholdTuner {
	return NewThresholdTuner(map[string]map[string]float64{
		"legal":   {"high": 0.88, "medium": 0.92, "low": 0.96},
		"faq":     {"high": 0.80, "medium": 0.85, "low": 0.90},
		"default": {"high": 0.85, "medium": 0.90, "low": 0.95},
	})
}

func TestThreshold_KnownCell(t *testing.T) {
	tuner := testTuner()
	if got := tuner.Threshold("legal", SensitivityHigh); got != 0.88 {
		t.Errorf("expected 0.88, got %v", got)
	}
}

func TestThreshold_UnknownTaskUsesDefaultRow(t *testing.T) {
	tuner := testTuner()
	if got := tuner.Threshold("never-seen", SensitivityLow); got != 0.95 {
		t.Errorf("expected default row value 0.95, got %v", got)
	}
}

func TestThreshold_UnknownSensitivityUsesMedium(t *testing.T) {
	tuner := testTuner()
	if got := tuner.Threshold("faq", "weird"); got != 0.85 {
		t.Errorf("expected medium cell 0.85, got %v", got)
	}
}

func TestUpdateThreshold_VisibleToSubsequentLookups(t *testing.T) {
	tuner := testTuner()
	if err := tuner.UpdateThreshold("legal", SensitivityHigh, 0.91); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := tuner.Threshold("legal", SensitivityHigh); got != 0.91 {
		t.Errorf("expected updated value 0.91, got %v", got)
	}
}

func TestUpdateThreshold_NewTaskRow(t *testing.T) {
	tuner := testTuner()
	if err := tuner.UpdateThreshold("medical", SensitivityHigh, 0.9); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := tuner.Threshold("medical", SensitivityHigh); got != 0.9 {
		t.Errorf("expected 0.9, got %v", got)
	}
}

func TestUpdateThreshold_RejectsOutOfRange(t *testing.T) {
	tuner := testTuner()
	if err := tuner.UpdateThreshold("faq", SensitivityHigh, 1.5); err == nil {
		t.Error("expected error for threshold > 1")
	}
}

func TestThreshold_ContractScenario(t *testing.T) {
	// "Summarize this contract" with legal/high must come back 0.88 so a
	// 0.85-similarity candidate is rejected before any economic check.
	tuner := testTuner()
	threshold := tuner.Threshold("legal", SensitivityHigh)
	if threshold != 0.88 {
		t.Fatalf("expected 0.88, got %v", threshold)
	}
	if 0.85 >= threshold {
		t.Error("candidate at 0.85 should be below the legal/high threshold")
	}
}
