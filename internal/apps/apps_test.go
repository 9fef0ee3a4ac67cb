package apps

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEntry(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.desktop")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParseDesktopEntry(t *testing.T) {
	path := writeEntry(t, `[Desktop Entry]
Name=Text Editor
Exec=gedit %U
Icon=org.gnome.gedit
Type=Application
`)

	app, err := Parse(path)
	require.NoError(t, err)
	assert.Equal(t, "Text Editor", app.Name)
	assert.Equal(t, "gedit %U", app.Exec)
	assert.Equal(t, "org.gnome.gedit", app.Icon)
}

func TestParseIgnoresOtherSections(t *testing.T) {
	path := writeEntry(t, `[Desktop Entry]
Name=Main
Exec=main-bin
[Desktop Action new-window]
Name=New Window
Exec=other-bin --new-window
`)

	app, err := Parse(path)
	require.NoError(t, err)
	assert.Equal(t, "Main", app.Name)
	assert.Equal(t, "main-bin", app.Exec)
}

func TestParseRejectsMissingExec(t *testing.T) {
	path := writeEntry(t, `[Desktop Entry]
Name=Broken
`)

	_, err := Parse(path)
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestParseRejectsHiddenEntry(t *testing.T) {
	path := writeEntry(t, `[Desktop Entry]
Name=Hidden
Exec=hidden-bin
NoDisplay=true
`)

	_, err := Parse(path)
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestResolveExecTruncatesPlaceholders(t *testing.T) {
	argv, err := ResolveExec("gedit --new-window %U")
	require.NoError(t, err)
	assert.Equal(t, []string{"gedit", "--new-window"}, argv)
}

func TestResolveExecStripsQuotes(t *testing.T) {
	argv, err := ResolveExec(`"/opt/My App/bin/app" --flag 'value'`)
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt/My", "App/bin/app", "--flag", "value"}, argv)
}

func TestResolveExecEmptyAfterTruncation(t *testing.T) {
	_, err := ResolveExec("%U")
	assert.ErrorIs(t, err, ErrInvalidEntry)
}
