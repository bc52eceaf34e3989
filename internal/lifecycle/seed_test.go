package lifecycle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeSeedFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadSeedDir(t *testing.T) {
	dir := t.TempDir()
	writeSeedFile(t, dir, seedFileName, `{
		"staticAssets": ["/app.js"],
		"toolPages": ["/timer"],
		"features": ["offline"]
	}`)
	writeSeedFile(t, dir, schemaFileName, `{"type":"object"}`)
	writeSeedFile(t, dir, templatesFileName, `{"timer.complete":{"title":"Done"}}`)

	seed, err := LoadSeedDir(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"/app.js"}, seed.StaticAssets)
	require.Equal(t, []string{"/timer"}, seed.ToolPages)
	require.Equal(t, []string{"offline"}, seed.Features)
	require.JSONEq(t, `{"type":"object"}`, string(seed.PreferencesSchema))
	require.Equal(t, "Done", seed.NotificationTemplates["timer.complete"].Title)
}

func TestLoadSeedDirMissingFilesAreAbsentSections(t *testing.T) {
	seed, err := LoadSeedDir(t.TempDir())
	require.NoError(t, err)
	require.Empty(t, seed.StaticAssets)
	require.Nil(t, seed.PreferencesSchema)
	require.Nil(t, seed.NotificationTemplates)
}

func TestLoadSeedDirEmptyDirMeansNoSeed(t *testing.T) {
	seed, err := LoadSeedDir("")
	require.NoError(t, err)
	require.Empty(t, seed.ToolPages)
}

func TestLoadSeedDirRejectsInvalidSchema(t *testing.T) {
	dir := t.TempDir()
	writeSeedFile(t, dir, schemaFileName, `{not json`)
	_, err := LoadSeedDir(dir)
	require.Error(t, err)
}

func TestLoadSeedDirRejectsInvalidTemplates(t *testing.T) {
	dir := t.TempDir()
	writeSeedFile(t, dir, templatesFileName, `[]`)
	_, err := LoadSeedDir(dir)
	require.Error(t, err)
}
