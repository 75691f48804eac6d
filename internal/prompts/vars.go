package prompts

import (
	"regexp"
	"strings"
)

// Placeholder is one {{VAR:name|opt=value}} occurrence in a template body.
type Placeholder struct {
	Raw     string
	Name    string
	Options map[string]string // join, default
}

var (
	varPattern = regexp.MustCompile(`\{\{VAR:([a-zA-Z0-9_\-]+)((?:\|[^}]+)?)}}`)
	optPattern = regexp.MustCompile(`\|([^=|]+)=([^|]+)`)
)

// ParsePlaceholders returns all placeholders in order of appearance.
func ParsePlaceholders(body string) []Placeholder {
	matches := varPattern.FindAllStringSubmatchIndex(body, -1)
	out := make([]Placeholder, 0, len(matches))
	for _, idx := range matches {
		ph := Placeholder{Raw: body[idx[0]:idx[1]], Name: body[idx[2]:idx[3]], Options: map[string]string{}}
		if idx[4] != -1 {
			ph.Options = parseOptions(body[idx[4]:idx[5]])
		}
		out = append(out, ph)
	}
	return out
}

func parseOptions(raw string) map[string]string {
	opts := map[string]string{}
	for _, seg := range optPattern.FindAllStringSubmatch(raw, -1) {
		val := strings.TrimSpace(seg[2])
		if len(val) >= 2 && ((val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'')) {
			val = val[1 : len(val)-1]
		}
		opts[strings.ToLower(strings.TrimSpace(seg[1]))] = decodeEscapes(val)
	}
	return opts
}

// decodeEscapes handles \n, \t, \r and \\ and leaves other sequences untouched.
func decodeEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	esc := false
	for _, r := range s {
		if !esc {
			if r == '\\' {
				esc = true
				continue
			}
			b.WriteRune(r)
			continue
		}
		switch r {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
		esc = false
	}
	if esc {
		b.WriteByte('\\')
	}
	return b.String()
}
