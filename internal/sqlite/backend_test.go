package sqlite

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/assetdesk/internal/schema"
	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

func attach(t *testing.T, dir string) *Backend {
	t.Helper()
	b := NewBackend(schema.MustDefault())
	require.NoError(t, b.Attach(dir))
	t.Cleanup(func() { b.Detach() })
	return b
}

func table(t *testing.T, b *Backend, kind string) *Table {
	t.Helper()
	tbl, err := b.Table(kind)
	require.NoError(t, err)
	return tbl
}

func TestBackend_AttachDetach(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	b := NewBackend(schema.MustDefault())

	require.NoError(t, b.Attach(dir))
	_, err := os.Stat(filepath.Join(dir, dbFileName))
	assert.NoError(t, err)
	assert.ErrorIs(t, b.Attach(dir), types.ErrAlreadyAttached)

	_, err = b.Table("widgets")
	assert.ErrorIs(t, err, types.ErrUnknownKind)

	tbl := table(t, b, types.KindMachines)
	require.NoError(t, b.Detach())
	require.NoError(t, b.Detach(), "detach is idempotent")

	_, err = b.Table(types.KindMachines)
	assert.ErrorIs(t, err, types.ErrNotAttached)
	_, err = tbl.Fetch()
	assert.ErrorIs(t, err, types.ErrNotAttached)
	_, err = tbl.Create(Body{"name": "x"})
	assert.ErrorIs(t, err, types.ErrNotAttached)
}

func TestBackend_AttachRequiresDataDir(t *testing.T) {
	b := NewBackend(schema.MustDefault())
	assert.ErrorIs(t, b.Attach(""), types.ErrDataDirEmpty)
}

func TestBackend_SeedsNewDataDir(t *testing.T) {
	dir := t.TempDir()
	b := attach(t, dir)

	for kind, names := range builtInCategories {
		rows, err := table(t, b, kind).Fetch()
		require.NoError(t, err)
		require.Len(t, rows, len(names), kind)
		assert.Equal(t, names[0], rows[0]["name"])
	}

	roles, err := table(t, b, types.KindRoles).FindBy("name", AdminRoleName)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, true, roles[0]["facility_delete"])

	users, err := table(t, b, types.KindUsers).FindBy("email", AdminEmail)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, roles[0].ID(), users[0]["role"])

	data, err := os.ReadFile(jsonlPath(dir, types.KindUsers))
	require.NoError(t, err)
	assert.Contains(t, string(data), AdminEmail)
}

func TestBackend_ReattachLoadsJSONLWithoutReseeding(t *testing.T) {
	dir := t.TempDir()
	b := NewBackend(schema.MustDefault())
	require.NoError(t, b.Attach(dir))

	created, err := table(t, b, types.KindFacilities).Create(Body{"name": "North", "address": nil})
	require.NoError(t, err)
	require.NoError(t, b.Detach())

	b = attach(t, dir)
	got, err := table(t, b, types.KindFacilities).Get(created.ID())
	require.NoError(t, err)
	assert.Equal(t, "North", got["name"])

	n, err := table(t, b, types.KindMachineTypes).Count()
	require.NoError(t, err)
	assert.Equal(t, len(builtInCategories[types.KindMachineTypes]), n)
}

func TestBackend_LoadSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	lines := []string{
		`{"id":"f1","name":"North"}`,
		`not json`,
		`{"name":"no id"}`,
		`["not","an","object"]`,
		``,
		`{"id":"f1","name":"duplicate"}`,
		`{"id":"f2","name":"South","extra":{"nested":true}}`,
	}
	require.NoError(t, os.WriteFile(jsonlPath(dir, types.KindFacilities), []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	b := attach(t, dir)
	rows, err := table(t, b, types.KindFacilities).Fetch()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "North", rows[0]["name"])
	assert.Equal(t, "f2", rows[1].ID())
	assert.Equal(t, map[string]any{"nested": true}, rows[1]["extra"])

	n, err := table(t, b, types.KindRoles).Count()
	require.NoError(t, err)
	assert.Zero(t, n, "an existing data directory is not seeded")
}
