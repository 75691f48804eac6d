package prompts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Value is what a placeholder resolves to. A list is joined with the placeholder's join option
// (blank line by default).
type Value struct {
	Text string
	List []string
}

func Text(s string) Value        { return Value{Text: s} }
func List(items ...string) Value { return Value{List: items} }

// Vars maps placeholder names to values.
type Vars map[string]Value

// Manager resolves prompt templates by key. Built-in templates can be overridden per key.
type Manager struct {
	mu        sync.RWMutex
	templates map[string]string
}

func NewManager() *Manager {
	m := &Manager{templates: make(map[string]string, len(builtin))}
	for k, v := range builtin {
		m.templates[k] = v
	}
	return m
}

// Override replaces the template for key.
func (m *Manager) Override(key, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[key] = body
}

// LoadDir overrides templates from <dir>/<key>.txt files for every known key. Missing files
// are ignored.
func (m *Manager) LoadDir(dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}
	n := 0
	for _, key := range Keys() {
		b, err := os.ReadFile(filepath.Join(dir, key+".txt"))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return n, fmt.Errorf("read prompt override %s: %w", key, err)
		}
		m.Override(key, string(b))
		n++
	}
	return n, nil
}

// Render substitutes vars into the template for key. Placeholders without a value use their
// default option, or the empty string.
func (m *Manager) Render(key string, vars Vars) (string, error) {
	m.mu.RLock()
	body, ok := m.templates[key]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown prompt template %q", key)
	}
	return Substitute(body, vars), nil
}

// Substitute expands every placeholder in body.
func Substitute(body string, vars Vars) string {
	matches := varPattern.FindAllStringSubmatchIndex(body, -1)
	var b strings.Builder
	last := 0
	for _, idx := range matches {
		b.WriteString(body[last:idx[0]])
		name := body[idx[2]:idx[3]]
		opts := map[string]string{}
		if idx[4] != -1 {
			opts = parseOptions(body[idx[4]:idx[5]])
		}
		b.WriteString(resolve(vars[name], opts))
		last = idx[1]
	}
	b.WriteString(body[last:])
	return strings.TrimSpace(b.String())
}

func resolve(v Value, opts map[string]string) string {
	out := v.Text
	if len(v.List) > 0 {
		sep, ok := opts["join"]
		if !ok {
			sep = "\n\n"
		}
		items := make([]string, 0, len(v.List))
		for _, it := range v.List {
			if strings.TrimSpace(it) != "" {
				items = append(items, it)
			}
		}
		out = strings.Join(items, sep)
	}
	if strings.TrimSpace(out) == "" {
		return opts["default"]
	}
	return out
}
