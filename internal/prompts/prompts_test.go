package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlaceholders_OptionsParsing(t *testing.T) {
	body := "Intro {{VAR:title|default=\"(untitled)\"}} -- list {{VAR:list|join=\", \"}} -- policy {{VAR:policy|default='be kind\\nrespect'}}"
	phs := ParsePlaceholders(body)
	require.Len(t, phs, 3)

	assert.Equal(t, "title", phs[0].Name)
	assert.Equal(t, "(untitled)", phs[0].Options["default"])
	assert.Equal(t, "list", phs[1].Name)
	assert.Equal(t, ", ", phs[1].Options["join"])
	assert.Equal(t, "be kind\nrespect", phs[2].Options["default"])
}

func TestSubstitute_TextListAndDefaults(t *testing.T) {
	body := "Hello {{VAR:name}}!\nRules: {{VAR:rules|join=\", \"}}\nNotes: {{VAR:notes|default=\"none\"}}\nEmpty list: {{VAR:empty|default=\"n/a\"}}"
	out := Substitute(body, Vars{
		"name":  Text("Ada"),
		"rules": List("be brief", "", "be kind"),
		"empty": List(),
	})
	assert.Contains(t, out, "Hello Ada!")
	assert.Contains(t, out, "Rules: be brief, be kind")
	assert.Contains(t, out, "Notes: none")
	assert.Contains(t, out, "Empty list: n/a")
	assert.NotContains(t, out, "{{VAR:")
}

func TestManager_BuiltinsRenderWithoutLeftovers(t *testing.T) {
	m := NewManager()
	for _, key := range Keys() {
		out, err := m.Render(key, Vars{"content": Text("post body"), "platform": Text("reddit")})
		require.NoError(t, err, key)
		assert.NotContains(t, out, "{{VAR:", key)
	}

	_, err := m.Render("nope", nil)
	assert.Error(t, err)
}

func TestManager_ClassifySystemMentionsSchema(t *testing.T) {
	out, err := NewManager().Render(ClassifySystem, Vars{"product_description": Text("A backtesting tool")})
	require.NoError(t, err)
	assert.Contains(t, out, "relevanceScore")
	assert.Contains(t, out, "intentType")
	assert.Contains(t, out, "audienceType")
	assert.Contains(t, out, "A backtesting tool")
}

func TestManager_LoadDirOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DraftUser+".txt"), []byte("Custom: {{VAR:content}}"), 0o600))

	m := NewManager()
	n, err := m.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	out, err := m.Render(DraftUser, Vars{"content": Text("hi")})
	require.NoError(t, err)
	assert.Equal(t, "Custom: hi", out)
}
