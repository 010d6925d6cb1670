package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-aha/internal/extractors"
	"github.com/miradorstack/mirador-aha/internal/models"
)

// RuleEngine turns known failure shapes into remediation hints. Hints are
// added to the diagnosis prompt and to the filed report; they never replace
// the model's answer.
type RuleEngine struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	rules []Rule
}

// Rule represents a single hint rule.
type Rule struct {
	ID    string    `yaml:"id"`
	Match RuleMatch `yaml:"match"`
	Hints []string  `yaml:"hints"`
}

// RuleMatch lists optional criteria. Every non-empty criterion must match;
// within one criterion any listed value is enough. Comparisons ignore case.
type RuleMatch struct {
	ErrorType       []string `yaml:"error_type"`
	MessageContains []string `yaml:"message_contains"`
	RunNameContains []string `yaml:"run_name_contains"`
	Signatures      []string `yaml:"signatures"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// HintInput is what rules are evaluated against.
type HintInput struct {
	ErrorType    string
	ErrorMessage string
	Trace        *models.Trace
}

// NewRuleEngine loads rules from the provided path. If path is empty or the
// file does not exist, returns a nil engine, which yields no hints.
func NewRuleEngine(path string, logger *slog.Logger) (*RuleEngine, error) {
	if path == "" {
		return nil, nil
	}
	rules, err := LoadRules(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("loaded hint rules", slog.String("path", path), slog.Int("rules", len(rules)))
	return &RuleEngine{path: path, rules: rules, logger: logger}, nil
}

// NewWatchedRuleEngine is NewRuleEngine for a pack that will be watched: a
// missing file yields an empty engine rather than nil, so Watch can load the
// pack once it appears.
func NewWatchedRuleEngine(path string, logger *slog.Logger) (*RuleEngine, error) {
	e, err := NewRuleEngine(path, logger)
	if err != nil || e != nil || path == "" {
		return e, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("hint rules not found; waiting for file", slog.String("path", path))
	return &RuleEngine{path: path, logger: logger}, nil
}

// LoadRules reads and validates a rule pack without building an engine.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	if err := validateRules(cfg.Rules); err != nil {
		return nil, fmt.Errorf("rules %s: %w", path, err)
	}
	return cfg.Rules, nil
}

func validateRules(rules []Rule) error {
	seen := make(map[string]struct{}, len(rules))
	var errs []error
	for i, rule := range rules {
		id := strings.TrimSpace(rule.ID)
		if id == "" {
			errs = append(errs, fmt.Errorf("rule %d: id is required", i))
			continue
		}
		if _, dup := seen[id]; dup {
			errs = append(errs, fmt.Errorf("rule %s: duplicate id", id))
		}
		seen[id] = struct{}{}
		if len(rule.Hints) == 0 {
			errs = append(errs, fmt.Errorf("rule %s: no hints", id))
		}
	}
	return errors.Join(errs...)
}

// Reload re-reads the rule pack. On any error the current rules stay active.
func (e *RuleEngine) Reload() error {
	if e == nil {
		return nil
	}
	rules, err := LoadRules(e.path)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
	e.logger.Info("reloaded hint rules", slog.String("path", e.path), slog.Int("rules", len(rules)))
	return nil
}

// Path is the rule pack location.
func (e *RuleEngine) Path() string {
	if e == nil {
		return ""
	}
	return e.path
}

// Len reports the number of loaded rules.
func (e *RuleEngine) Len() int {
	if e == nil {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Hints returns the deduplicated hints of every matching rule, in rule order.
func (e *RuleEngine) Hints(in HintInput) []string {
	if e == nil {
		return nil
	}

	var runs []models.Run
	if in.Trace != nil {
		runs = in.Trace.Runs
	}
	signatures := extractors.ErrorSignatures(runs)
	texts := []string{in.ErrorMessage}
	for _, run := range runs {
		if run.Error != nil {
			texts = append(texts, *run.Error)
		}
	}

	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	matched := make([]string, 0)
	for _, rule := range rules {
		m := rule.Match
		if len(m.ErrorType) > 0 && !equalsAny(m.ErrorType, append([]string{in.ErrorType}, signatures...)) {
			continue
		}
		if len(m.MessageContains) > 0 && !containsAny(texts, m.MessageContains) {
			continue
		}
		if len(m.RunNameContains) > 0 && !containsAny(runNames(runs), m.RunNameContains) {
			continue
		}
		if len(m.Signatures) > 0 && !equalsAny(m.Signatures, signatures) {
			continue
		}
		e.logger.Debug("hint rule matched", slog.String("rule", rule.ID))
		matched = appendUnique(matched, rule.Hints...)
	}
	return matched
}

func runNames(runs []models.Run) []string {
	names := make([]string, 0, len(runs))
	for _, run := range runs {
		names = append(names, run.Name)
	}
	return names
}

func equalsAny(want, have []string) bool {
	for _, w := range want {
		for _, h := range have {
			if w != "" && strings.EqualFold(w, h) {
				return true
			}
		}
	}
	return false
}

func containsAny(texts, keywords []string) bool {
	for _, text := range texts {
		lower := strings.ToLower(text)
		for _, kw := range keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return true
			}
		}
	}
	return false
}

func appendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, item := range existing {
		seen[item] = struct{}{}
	}
	for _, item := range additions {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		existing = append(existing, item)
		seen[item] = struct{}{}
	}
	return existing
}
