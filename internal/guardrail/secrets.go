package guardrail

import (
	"fmt"
	"sort"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// SecretScanner reports the IDs of the secret rules content matches.
type SecretScanner interface {
	Scan(content string) ([]string, error)
}

// GitleaksScanner scans with the gitleaks default rule set.
type GitleaksScanner struct{}

// Scan builds a fresh detector per call; detectors keep per-scan state.
func (GitleaksScanner) Scan(content string) ([]string, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("load gitleaks rules: %w", err)
	}
	seen := make(map[string]bool)
	var rules []string
	for _, f := range detector.DetectString(content) {
		if !seen[f.RuleID] {
			seen[f.RuleID] = true
			rules = append(rules, f.RuleID)
		}
	}
	sort.Strings(rules)
	return rules, nil
}
