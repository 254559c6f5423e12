package acl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDoc = `
widget:
  anonymous:
    view: [standard_join, disp_join]
  user:
    inherit: [anonymous]
    edit: [title]
    action: [comment]
    class: [create]
  owner:
    inherit: [user]
    view: [settings_join]
    grant: [delete]
`

func TestParseGrantsAndPrefixes(t *testing.T) {
	ix, err := Parse([]byte(testDoc))
	require.NoError(t, err)

	assert.True(t, ix.Can("widget", []string{"anonymous"}, "view_standard_join"))
	assert.False(t, ix.Can("widget", []string{"anonymous"}, "edit_title"))
	assert.False(t, ix.Can("widget", []string{"anonymous"}, "class_create"))

	assert.True(t, ix.Can("widget", []string{"user"}, "edit_title"))
	assert.True(t, ix.Can("widget", []string{"user"}, "action_comment"))
	assert.True(t, ix.Can("widget", []string{"user"}, "class_create"))

	assert.True(t, ix.Can("widget", []string{"owner"}, "delete"))
	assert.True(t, ix.Can("widget", []string{"owner"}, "view_settings_join"))
}

func TestInheritIsTransitive(t *testing.T) {
	ix, err := Parse([]byte(testDoc))
	require.NoError(t, err)

	// owner inherits user which inherits anonymous
	assert.True(t, ix.Can("widget", []string{"owner"}, "view_standard_join"))
	assert.True(t, ix.Can("widget", []string{"owner"}, "edit_title"))
}

func TestMixUnionsRoles(t *testing.T) {
	ix, err := Parse([]byte(testDoc))
	require.NoError(t, err)

	set := ix.Mix("widget", []string{"anonymous", "user"})
	assert.True(t, set.Has("view_disp_join"))
	assert.True(t, set.Has("action_comment"))
	assert.False(t, set.Has("delete"))
}

func TestUnknownEntityAndRoleAreEmpty(t *testing.T) {
	ix, err := Parse([]byte(testDoc))
	require.NoError(t, err)

	assert.Empty(t, ix.Mix("gadget", []string{"user"}))
	assert.Empty(t, ix.Mix("widget", []string{"ghost"}))
	assert.False(t, ix.Can("widget", nil, "view_standard_join"))
}

func TestInheritCycleFails(t *testing.T) {
	_, err := Parse([]byte(`
widget:
  a:
    inherit: [b]
  b:
    inherit: [a]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inherit cycle")
}

func TestInheritUndefinedRoleFails(t *testing.T) {
	_, err := Parse([]byte(`
widget:
  a:
    inherit: [ghost]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined role")
}

// The file shipped in configs/ is the one the server boots with; it has
// to parse and carry the grants the dispatcher depends on.
func TestShippedACLFile(t *testing.T) {
	ix, err := LoadFile("../../configs/acl.yml")
	require.NoError(t, err)

	assert.True(t, ix.Can("user", []string{"anonymous"}, "view_standard_join"))
	assert.True(t, ix.Can("user", []string{"anonymous"}, "class_create"))
	assert.False(t, ix.Can("user", []string{"user"}, "view_settings_join"))
	assert.True(t, ix.Can("user", []string{"owner"}, "view_settings_join"))

	assert.True(t, ix.Can("issue", []string{"user"}, "edit_vote_status"))
	assert.False(t, ix.Can("issue", []string{"creator"}, "edit_status"))
	assert.True(t, ix.Can("issue", []string{"maintainer"}, "edit_status"))
	assert.True(t, ix.Can("issue", []string{"maintainer"}, "delete"))

	assert.True(t, ix.Can("earmark", []string{"sender"}, "action_assign"))
	assert.False(t, ix.Can("earmark", []string{"sender"}, "action_clear"))
	assert.True(t, ix.Can("earmark", []string{"admin"}, "action_clear"))
}
