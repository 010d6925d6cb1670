package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-aha/internal/models"
	"github.com/miradorstack/mirador-aha/internal/utils"
)

const testRules = `rules:
  - id: json
    match:
      error_type: ["JSONDecodeError"]
    hints: ["Strip markdown fences before decoding", "Ask for JSON mode"]
  - id: json-by-message
    match:
      message_contains: ["expecting value"]
    hints: ["Ask for JSON mode"]
  - id: rate-limit
    match:
      signatures: ["openai.RateLimitError"]
    hints: ["Add retry with backoff"]
  - id: research-timeout
    match:
      run_name_contains: ["research"]
      message_contains: ["timed out"]
    hints: ["Raise the research agent timeout"]
`

func loadTestRules(t *testing.T) *RuleEngine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(testRules), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	engine, err := NewRuleEngine(path, utils.DiscardLogger())
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}
	if engine.Len() != 4 {
		t.Fatalf("expected 4 rules, got %d", engine.Len())
	}
	return engine
}

func TestRuleEngineHints(t *testing.T) {
	engine := loadTestRules(t)

	hints := engine.Hints(HintInput{ErrorType: "jsondecodeerror", ErrorMessage: "Expecting value: line 1"})
	if len(hints) != 2 || hints[0] != "Strip markdown fences before decoding" || hints[1] != "Ask for JSON mode" {
		t.Fatalf("unexpected hints %v", hints)
	}

	rate := "openai.RateLimitError: slow down"
	trace := &models.Trace{Runs: []models.Run{{Name: "ChatOpenAI", Error: &rate}}}
	hints = engine.Hints(HintInput{ErrorType: "unknown", Trace: trace})
	if len(hints) != 1 || hints[0] != "Add retry with backoff" {
		t.Fatalf("unexpected hints %v", hints)
	}
}

func TestRuleEngineRequiresAllCriteria(t *testing.T) {
	engine := loadTestRules(t)

	trace := &models.Trace{Runs: []models.Run{{Name: "ResearchAgent"}}}
	if hints := engine.Hints(HintInput{ErrorMessage: "connection refused", Trace: trace}); len(hints) != 0 {
		t.Fatalf("expected no hints, got %v", hints)
	}
	hints := engine.Hints(HintInput{ErrorMessage: "request timed out", Trace: trace})
	if len(hints) != 1 || hints[0] != "Raise the research agent timeout" {
		t.Fatalf("unexpected hints %v", hints)
	}
}

func TestRuleEngineNoFile(t *testing.T) {
	engine, err := NewRuleEngine("non-existent", nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if engine != nil {
		t.Fatalf("expected nil engine when file missing")
	}
	if hints := engine.Hints(HintInput{ErrorType: "JSONDecodeError"}); hints != nil {
		t.Fatalf("nil engine should yield no hints")
	}
}

func TestRuleEngineBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("rules: [\n"), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	if _, err := NewRuleEngine(path, nil); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestRuleEngineRejectsInvalidPack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	pack := `rules:
  - id: a
    hints: ["x"]
  - id: a
    hints: ["y"]
  - match:
      error_type: ["Timeout"]
    hints: ["z"]
  - id: empty
`
	if err := os.WriteFile(path, []byte(pack), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	_, err := LoadRules(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"duplicate id", "rule 2: id is required", "rule empty: no hints"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestRuleEngineReloadKeepsRulesOnError(t *testing.T) {
	engine := loadTestRules(t)

	if err := os.WriteFile(engine.Path(), []byte("rules: [\n"), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	if err := engine.Reload(); err == nil {
		t.Fatalf("expected reload error")
	}
	if engine.Len() != 4 {
		t.Fatalf("expected previous 4 rules kept, got %d", engine.Len())
	}

	single := "rules:\n  - id: only\n    match:\n      error_type: [\"KeyError\"]\n    hints: [\"Check the key\"]\n"
	if err := os.WriteFile(engine.Path(), []byte(single), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	if err := engine.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if hints := engine.Hints(HintInput{ErrorType: "KeyError"}); len(hints) != 1 || hints[0] != "Check the key" {
		t.Fatalf("unexpected hints after reload %v", hints)
	}
}

func TestRuleEngineWatchPicksUpChanges(t *testing.T) {
	engine := loadTestRules(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Watch(ctx, 20*time.Millisecond) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("watch returned %v", err)
		}
	}()

	single := "rules:\n  - id: only\n    hints: [\"Check the key\"]\n"
	deadline := time.Now().Add(5 * time.Second)
	for engine.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("rule change not picked up, still %d rules", engine.Len())
		}
		if err := os.WriteFile(engine.Path(), []byte(single), 0o644); err != nil {
			t.Fatalf("write rules: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func TestWatchedRuleEngineLoadsLateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	engine, err := NewWatchedRuleEngine(path, utils.DiscardLogger())
	if err != nil {
		t.Fatalf("new watched rule engine: %v", err)
	}
	if engine == nil || engine.Len() != 0 {
		t.Fatalf("expected empty engine, got %+v", engine)
	}
	if hints := engine.Hints(HintInput{ErrorType: "JSONDecodeError"}); len(hints) != 0 {
		t.Fatalf("empty engine should yield no hints, got %v", hints)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Watch(ctx, 20*time.Millisecond) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("watch returned %v", err)
		}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for engine.Len() != 4 {
		if time.Now().After(deadline) {
			t.Fatalf("late rule pack not picked up, still %d rules", engine.Len())
		}
		if err := os.WriteFile(path, []byte(testRules), 0o644); err != nil {
			t.Fatalf("write rules: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
	hints := engine.Hints(HintInput{ErrorType: "JSONDecodeError"})
	if len(hints) == 0 {
		t.Fatalf("expected hints after late load")
	}
}

func TestWatchedRuleEngineEmptyPath(t *testing.T) {
	engine, err := NewWatchedRuleEngine("", nil)
	if err != nil || engine != nil {
		t.Fatalf("expected nil engine and error, got %v, %v", engine, err)
	}
}
