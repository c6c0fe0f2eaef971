package workflow

import "testing"

func TestDecompose_SingleQuestionNoDocument(t *testing.T) {
	steps := Decompose("What is the capital of France?", "", "answer")
	if len(steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(steps))
	}
	if steps[0].StepType != StepAnswer {
		t.Errorf("expected answer step, got %s", steps[0].StepType)
	}
}

func TestDecompose_DocumentQuestionIsTwoSteps(t *testing.T) {
	steps := Decompose("What does the termination clause say?", "doc1", "answer")
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].StepType != StepSummarize || steps[1].StepType != StepAnswer {
		t.Errorf("expected summarize then answer, got %s then %s", steps[0].StepType, steps[1].StepType)
	}
	if steps[0].DocumentID != "doc1" {
		t.Errorf("expected document id carried into step, got %q", steps[0].DocumentID)
	}
}

func TestDecompose_MultiPartQuestion(t *testing.T) {
	steps := Decompose("What is a mutex? How does it differ from a semaphore?", "", "answer")
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	for _, s := range steps {
		if s.StepType != StepAnswer {
			t.Errorf("expected answer steps, got %s", s.StepType)
		}
	}
	if steps[0].Intent == steps[1].Intent {
		t.Error("expected distinct intents per sub-question")
	}
}

func TestDecompose_ComparisonIsThreeSteps(t *testing.T) {
	steps := Decompose("Compare Postgres and Redis", "", "compare")
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	if steps[0].StepType != StepSummarize || steps[1].StepType != StepSummarize || steps[2].StepType != StepCompare {
		t.Errorf("unexpected step types: %s, %s, %s", steps[0].StepType, steps[1].StepType, steps[2].StepType)
	}
	if steps[0].Intent == steps[1].Intent {
		t.Error("expected distinct subjects to produce distinct intents")
	}
}

func TestDecompose_CacheKeyIsDeterministicComposite(t *testing.T) {
	a := Decompose("Summarize section A", "doc1", "sectionA")[0]
	b := Decompose("Summarize section A", "doc1", "sectionA")[0]
	if a.CacheKey() != b.CacheKey() {
		t.Errorf("expected identical keys, got %q vs %q", a.CacheKey(), b.CacheKey())
	}
	if a.CacheKey() != "doc1:summarize:sectionA" {
		t.Errorf("unexpected key format: %q", a.CacheKey())
	}
}

func TestDecompose_DifferentDocumentsDifferentKeys(t *testing.T) {
	a := Decompose("Summarize the intro", "doc1", "intro")[0]
	b := Decompose("Summarize the intro", "doc2", "intro")[0]
	if a.CacheKey() == b.CacheKey() {
		t.Error("expected different documents to produce different keys")
	}
}
