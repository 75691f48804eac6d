package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
)

// JSONRepairStats tracks what a repair pass did to a model payload
type JSONRepairStats struct {
	OriginalBytes    int           `json:"original_bytes"`
	RepairedBytes    int           `json:"repaired_bytes"`
	ErrorsFixed      int           `json:"errors_fixed"`
	RepairTime       time.Duration `json:"repair_time"`
	RepairStrategies []string      `json:"repair_strategies"`
	WasRepaired      bool          `json:"was_repaired"`
}

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	lineCommentRe   = regexp.MustCompile(`(?m)^\s*//.*$`)
	blockCommentRe  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	bareKeyRe       = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)(\s*:)`)
	singleQuotedRe  = regexp.MustCompile(`'([^'"]*)'`)
)

type repairStrategy struct {
	name  string
	apply func(string) string
}

// strategies run in order; each is cheap and only counted when it changes the payload.
var strategies = []repairStrategy{
	{"trailing_commas", func(s string) string { return trailingCommaRe.ReplaceAllString(s, "$1") }},
	{"comments_removed", func(s string) string {
		return lineCommentRe.ReplaceAllString(blockCommentRe.ReplaceAllString(s, ""), "")
	}},
	{"key_quotes", func(s string) string { return bareKeyRe.ReplaceAllString(s, `$1"$2"$3`) }},
	{"single_quotes", func(s string) string { return singleQuotedRe.ReplaceAllString(s, `"$1"`) }},
	{"completion", completeJSON},
}

// RepairJSON makes a best-effort attempt at turning a nearly-valid JSON payload into valid
// JSON. Structural syntax is repaired; values are never invented, so a payload with a
// wrong-typed field still fails schema validation later.
func RepairJSON(raw string) (string, JSONRepairStats, error) {
	startTime := time.Now()
	stats := JSONRepairStats{OriginalBytes: len(raw)}

	if json.Valid([]byte(raw)) {
		stats.RepairedBytes = len(raw)
		stats.RepairTime = time.Since(startTime)
		return raw, stats, nil
	}

	stats.WasRepaired = true
	repaired := raw
	for _, st := range strategies {
		next := st.apply(repaired)
		if next != repaired {
			repaired = next
			stats.RepairStrategies = append(stats.RepairStrategies, st.name)
			stats.ErrorsFixed++
		}
		if json.Valid([]byte(repaired)) {
			break
		}
	}

	if !json.Valid([]byte(repaired)) {
		libraryRepaired, err := jsonrepair.JSONRepair(repaired)
		if err == nil && libraryRepaired != repaired {
			repaired = libraryRepaired
			stats.RepairStrategies = append(stats.RepairStrategies, "jsonrepair_library")
			stats.ErrorsFixed++
		}
	}

	stats.RepairedBytes = len(repaired)
	stats.RepairTime = time.Since(startTime)
	if !json.Valid([]byte(repaired)) {
		return repaired, stats, fmt.Errorf("JSON repair failed after %d strategies", len(stats.RepairStrategies))
	}
	return repaired, stats, nil
}

// completeJSON closes unterminated objects and arrays in LIFO order, ignoring brackets that
// appear inside string literals.
func completeJSON(s string) string {
	s = strings.TrimSpace(s)
	stack, inString := openDelimiters(s)
	if inString {
		s += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}

// Balanced reports whether every string, object and array opened in s is closed again. A
// payload that fails this was cut off, not merely misformatted.
func Balanced(s string) bool {
	stack, inString := openDelimiters(strings.TrimSpace(s))
	return len(stack) == 0 && !inString
}

// openDelimiters returns the closers still owed at the end of s and whether s ends inside a
// string literal.
func openDelimiters(s string) ([]byte, bool) {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}
	return stack, inString
}
