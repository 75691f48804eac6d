package llm

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestRepairJSON_ValidJSON(t *testing.T) {
	valid := `{"relevanceScore": 82, "intentType": "QUESTION", "audienceType": "TRADER"}`

	repaired, stats, err := RepairJSON(valid)

	if err != nil {
		t.Errorf("Expected no error for valid JSON, got: %v", err)
	}
	if stats.WasRepaired {
		t.Error("Expected WasRepaired to be false for valid JSON")
	}
	if repaired != valid {
		t.Error("Expected repaired JSON to be identical to original for valid JSON")
	}
}

func TestRepairJSON_TrailingCommas(t *testing.T) {
	repaired, stats, err := RepairJSON(`{"relevanceScore": 82, "intentType": "QUESTION",}`)

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !stats.WasRepaired {
		t.Error("Expected WasRepaired to be true")
	}
	if want := `{"relevanceScore": 82, "intentType": "QUESTION"}`; repaired != want {
		t.Errorf("Expected %s, got %s", want, repaired)
	}
	if len(stats.RepairStrategies) == 0 || stats.RepairStrategies[0] != "trailing_commas" {
		t.Errorf("Expected trailing_commas strategy, got %v", stats.RepairStrategies)
	}
}

func TestRepairJSON_IncompleteObject(t *testing.T) {
	repaired, _, err := RepairJSON(`{"relevanceScore": 82, "intentType": "QUESTION"`)

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	var out map[string]interface{}
	if json.Unmarshal([]byte(repaired), &out) != nil {
		t.Fatalf("Repaired JSON should be valid: %s", repaired)
	}
	if out["intentType"] != "QUESTION" {
		t.Errorf("Expected intentType to survive repair, got %v", out["intentType"])
	}
}

func TestRepairJSON_BareKeys(t *testing.T) {
	repaired, stats, err := RepairJSON(`{relevanceScore: 40, intentType: "COMPLAINT"}`)

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !json.Valid([]byte(repaired)) {
		t.Errorf("Expected valid JSON, got %s", repaired)
	}
	if stats.ErrorsFixed == 0 {
		t.Error("Expected at least one fix")
	}
}

func TestRepairJSON_BracketsInsideStrings(t *testing.T) {
	repaired, _, err := RepairJSON(`{"note": "uses {braces} and [brackets]", "n": 1`)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if want := `{"note": "uses {braces} and [brackets]", "n": 1}`; repaired != want {
		t.Errorf("Expected %s, got %s", want, repaired)
	}
}

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		"bare":    `{"a": 1}`,
		"fenced":  "Here you go:\n```json\n{\"a\": 1}\n```\nThanks",
		"prose":   `Sure! {"a": 1} hope that helps`,
		"nested":  `result: {"a": {"b": "}"}} trailing`,
		"missing": `no json here`,
	}
	want := map[string]string{
		"bare":    `{"a": 1}`,
		"fenced":  `{"a": 1}`,
		"prose":   `{"a": 1}`,
		"nested":  `{"a": {"b": "}"}}`,
		"missing": ``,
	}
	for name, in := range cases {
		if got := ExtractJSON(in); got != want[name] {
			t.Errorf("%s: expected %q, got %q", name, want[name], got)
		}
	}
}

func TestParseObjectKeepsTypes(t *testing.T) {
	obj, _, err := ParseObject(`{"relevanceScore": "high", "intentType": "QUESTION"}`)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if _, ok := obj["relevanceScore"].(string); !ok {
		t.Errorf("Expected relevanceScore to stay a string, got %T", obj["relevanceScore"])
	}
	if _, ok := obj["intentType"].(string); !ok {
		t.Errorf("Expected intentType string, got %T", obj["intentType"])
	}
}

func TestParseObjectNoJSON(t *testing.T) {
	if _, _, err := ParseObject("I cannot help with that."); err != ErrNoJSON {
		t.Errorf("Expected ErrNoJSON, got %v", err)
	}
}

func TestParseObjectRejectsTruncatedPayload(t *testing.T) {
	cases := []string{
		`{"intentType": "QUESTION", "audienceType": "TRADER", "relevanceScore": 8`,
		`{"intentType": "QUESTION", "audienceType": "TRA`,
		"```json\n{\"relevanceScore\": 82, \"tags\": [\"a\", \"b\"\n```",
	}
	for _, in := range cases {
		if _, _, err := ParseObject(in); !errors.Is(err, ErrTruncatedJSON) {
			t.Errorf("%q: expected ErrTruncatedJSON, got %v", in, err)
		}
	}
}

func TestParseObjectStillRepairsSyntax(t *testing.T) {
	obj, stats, err := ParseObject(`{relevanceScore: 40, "intentType": "COMPLAINT",}`)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !stats.WasRepaired {
		t.Error("Expected the payload to be marked repaired")
	}
	if obj["intentType"] != "COMPLAINT" {
		t.Errorf("Expected intentType COMPLAINT, got %v", obj["intentType"])
	}
}

func TestBalanced(t *testing.T) {
	if !Balanced(`{"note": "has { and [ inside", "n": [1, 2]}`) {
		t.Error("Expected brackets inside strings to be ignored")
	}
	if Balanced(`{"n": [1, 2}`) {
		t.Error("Expected an unclosed array to be unbalanced")
	}
	if Balanced(`{"note": "open`) {
		t.Error("Expected an open string to be unbalanced")
	}
}
