package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoJSON is returned when a completion carries no JSON object at all.
	ErrNoJSON = errors.New("no JSON found in response")
	// ErrTruncatedJSON is returned when the JSON object was cut off before it closed. Closing it
	// would keep whatever partial value the cut left behind.
	ErrTruncatedJSON = errors.New("JSON response is truncated")
)

// ParseObject extracts the first JSON object from a completion, repairs syntax if needed, and
// decodes it into a generic map. It never coerces types: schema checks belong to the caller.
// Only syntax is repaired; a payload that was cut off is rejected with ErrTruncatedJSON.
func ParseObject(raw string) (map[string]interface{}, JSONRepairStats, error) {
	jsonStr := ExtractJSON(raw)
	if jsonStr == "" {
		return nil, JSONRepairStats{OriginalBytes: len(raw)}, ErrNoJSON
	}
	if !Balanced(jsonStr) {
		return nil, JSONRepairStats{OriginalBytes: len(jsonStr)}, ErrTruncatedJSON
	}

	repaired, stats, err := RepairJSON(jsonStr)
	if err != nil {
		return nil, stats, err
	}

	dec := json.NewDecoder(strings.NewReader(repaired))
	dec.UseNumber()
	var out map[string]interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, stats, fmt.Errorf("JSON object expected: %w", err)
	}
	return out, stats, nil
}

// ExtractJSON returns the JSON portion of a mixed text/JSON completion: fenced code blocks,
// a bare object, or the first balanced {...} span.
func ExtractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		return raw
	}

	if strings.Contains(raw, "```") {
		var jsonLines []string
		inBlock := false
		for _, line := range strings.Split(raw, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				if inBlock {
					break
				}
				inBlock = true
				continue
			}
			if inBlock {
				jsonLines = append(jsonLines, line)
			}
		}
		if len(jsonLines) > 0 {
			return strings.TrimSpace(strings.Join(jsonLines, "\n"))
		}
	}

	start := strings.Index(raw, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(raw); i++ {
		c := raw[i]
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
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return raw[start:]
}

// Truncate shortens text for logging, marking the cut.
func Truncate(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}
