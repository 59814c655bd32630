package rules

import (
	"os"
	"path/filepath"
	"testing"

	"leadflow_backend/platform/logger"
)

const (
	msgUnexpectedError  = "unexpected error: %v"
	msgExpectedError    = "expected an error, got nil"
	fmtWrongVersion     = "expected version %d, got %d"
	fmtWrongRevenueMin  = "expected revenue_min %v, got %v"
	validProfileYAML    = "target_industries:\n  - SaaS\n  - Fintech\nrevenue_min: 5000000\nideal_titles:\n  - CTO\n  - VP Engineering\nexcluded_titles:\n  - Intern\n"
	updatedProfileYAML  = "target_industries:\n  - SaaS\nrevenue_min: 8000000\nideal_titles:\n  - CTO\n"
	malformedYAML       = "target_industries: [unclosed\n"
	unknownKeyYAML      = "target_industries:\n  - SaaS\nrevenue_minimum: 100\n"
	overlapTitlesYAML   = "ideal_titles:\n  - CTO\nexcluded_titles:\n  - cto\n"
	jsonProfile         = `{"target_industries": ["SaaS"], "revenue_min": 5000000, "ideal_titles": ["CTO"]}`
)

func writeProfile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	return path
}

type testRulesConfig struct {
	path string
}

func (c testRulesConfig) GetRulesProfilePath() string { return c.path }

func newTestStore(t *testing.T, content string) *Store {
	t.Helper()
	path := writeProfile(t, t.TempDir(), content)
	store := NewStore(testRulesConfig{path: path}, logger.New("development"))
	if err := store.Load(); err != nil {
		t.Fatalf(msgUnexpectedError, err)
	}
	return store
}

func TestParseProfileValid(t *testing.T) {
	p, err := parseProfile([]byte(validProfileYAML))
	if err != nil {
		t.Fatalf(msgUnexpectedError, err)
	}

	if p.RevenueMin != 5000000 {
		t.Fatalf(fmtWrongRevenueMin, 5000000, p.RevenueMin)
	}
	if len(p.TargetIndustries) != 2 {
		t.Fatalf("expected 2 target industries, got %d", len(p.TargetIndustries))
	}
}

func TestParseProfileJSONSubset(t *testing.T) {
	p, err := parseProfile([]byte(jsonProfile))
	if err != nil {
		t.Fatalf(msgUnexpectedError, err)
	}
	if p.RevenueMin != 5000000 {
		t.Fatalf(fmtWrongRevenueMin, 5000000, p.RevenueMin)
	}
}

func TestParseProfileRejectsBadDocuments(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"malformed yaml", malformedYAML},
		{"unknown key", unknownKeyYAML},
		{"empty document", "{}\n"},
		{"negative revenue", "revenue_min: -1\n"},
		{"overlapping titles", overlapTitlesYAML},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseProfile([]byte(tc.doc)); err == nil {
				t.Fatal(msgExpectedError)
			}
		})
	}
}

func TestSnapshotLookupsAreCaseInsensitive(t *testing.T) {
	store := newTestStore(t, validProfileYAML)
	snap := store.Snapshot()

	if !snap.IsTargetIndustry("saas") {
		t.Fatal("expected saas to match target industries")
	}
	if snap.IsTargetIndustry("Logistics") {
		t.Fatal("expected Logistics to be outside target industries")
	}
	if !snap.IsIdealTitle("cto") {
		t.Fatal("expected cto to be an ideal title")
	}
	if !snap.IsExcludedTitle(" INTERN ") {
		t.Fatal("expected intern to be excluded")
	}
}

func TestEmptyIndustrySetMatchesEverything(t *testing.T) {
	store := newTestStore(t, "revenue_min: 1000\n")

	if !store.Snapshot().IsTargetIndustry("Anything") {
		t.Fatal("empty target set must not restrict industries")
	}
}

func TestReloadSwapsSnapshotAndBumpsVersion(t *testing.T) {
	dir := t.TempDir()
	path := writeProfile(t, dir, validProfileYAML)
	store := NewStore(testRulesConfig{path: path}, logger.New("development"))
	if err := store.Load(); err != nil {
		t.Fatalf(msgUnexpectedError, err)
	}

	if got := store.Snapshot().Version; got != 1 {
		t.Fatalf(fmtWrongVersion, 1, got)
	}

	if err := os.WriteFile(path, []byte(updatedProfileYAML), 0o644); err != nil {
		t.Fatalf("rewrite profile: %v", err)
	}
	if err := store.Reload(); err != nil {
		t.Fatalf(msgUnexpectedError, err)
	}

	snap := store.Snapshot()
	if snap.Version != 2 {
		t.Fatalf(fmtWrongVersion, 2, snap.Version)
	}
	if snap.RevenueMin != 8000000 {
		t.Fatalf(fmtWrongRevenueMin, 8000000, snap.RevenueMin)
	}
}

func TestReloadRejectsMalformedKeepingPrevious(t *testing.T) {
	dir := t.TempDir()
	path := writeProfile(t, dir, validProfileYAML)
	store := NewStore(testRulesConfig{path: path}, logger.New("development"))
	if err := store.Load(); err != nil {
		t.Fatalf(msgUnexpectedError, err)
	}

	if err := os.WriteFile(path, []byte(malformedYAML), 0o644); err != nil {
		t.Fatalf("rewrite profile: %v", err)
	}
	if err := store.Reload(); err == nil {
		t.Fatal(msgExpectedError)
	}

	snap := store.Snapshot()
	if snap.Version != 1 {
		t.Fatalf(fmtWrongVersion, 1, snap.Version)
	}
	if snap.RevenueMin != 5000000 {
		t.Fatalf(fmtWrongRevenueMin, 5000000, snap.RevenueMin)
	}
}

func TestInFlightEvaluationKeepsItsSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := writeProfile(t, dir, validProfileYAML)
	store := NewStore(testRulesConfig{path: path}, logger.New("development"))
	if err := store.Load(); err != nil {
		t.Fatalf(msgUnexpectedError, err)
	}

	captured := store.Snapshot()

	if err := os.WriteFile(path, []byte(updatedProfileYAML), 0o644); err != nil {
		t.Fatalf("rewrite profile: %v", err)
	}
	if err := store.Reload(); err != nil {
		t.Fatalf(msgUnexpectedError, err)
	}

	// The capture from before the reload still evaluates under the old rules.
	if captured.RevenueMin != 5000000 {
		t.Fatalf(fmtWrongRevenueMin, 5000000, captured.RevenueMin)
	}
	if !captured.IsTargetIndustry("Fintech") {
		t.Fatal("captured snapshot lost its industry set after reload")
	}
	if store.Snapshot().IsTargetIndustry("Fintech") {
		t.Fatal("new snapshot should no longer target Fintech")
	}
}
