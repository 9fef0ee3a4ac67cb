// Package apps lists and parses freedesktop .desktop entries and resolves
// their Exec lines into launchable argument vectors.
package apps

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrInvalidEntry is returned for files that are not usable desktop entries.
var ErrInvalidEntry = errors.New("invalid desktop entry")

// Application is one installed desktop application.
type Application struct {
	Name string `json:"name"`
	Exec string `json:"exec"`
	Icon string `json:"icon,omitempty"`
	Path string `json:"path"`
}

// searchDirs returns the directories scanned for .desktop files.
func searchDirs() []string {
	dirs := []string{
		"/usr/share/applications",
		"/usr/local/share/applications",
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".local/share/applications"))
	}
	return dirs
}

// List scans the standard application directories. Entries that fail to
// parse are skipped, and later directories shadow earlier ones by file
// name, matching desktop-environment behavior.
func List() []Application {
	byFile := make(map[string]Application)

	for _, dir := range searchDirs() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".desktop") {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			app, err := Parse(path)
			if err != nil {
				continue
			}
			byFile[entry.Name()] = app
		}
	}

	apps := make([]Application, 0, len(byFile))
	for _, app := range byFile {
		apps = append(apps, app)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].Name < apps[j].Name })
	return apps
}

// Parse reads the [Desktop Entry] section of a .desktop file. Only the
// keys the agent needs are read; a missing Exec makes the entry invalid.
func Parse(path string) (Application, error) {
	f, err := os.Open(path)
	if err != nil {
		return Application{}, fmt.Errorf("open desktop entry: %w", err)
	}
	defer f.Close()

	app := Application{Path: path}
	inEntry := false

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "[Desktop Entry]":
			inEntry = true
			continue
		case strings.HasPrefix(line, "["):
			inEntry = false
			continue
		}
		if !inEntry {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "Name":
			if app.Name == "" {
				app.Name = value
			}
		case "Exec":
			if app.Exec == "" {
				app.Exec = value
			}
		case "Icon":
			if app.Icon == "" {
				app.Icon = value
			}
		case "NoDisplay":
			if value == "true" {
				return Application{}, fmt.Errorf("%w: hidden entry", ErrInvalidEntry)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Application{}, fmt.Errorf("read desktop entry: %w", err)
	}

	if app.Exec == "" {
		return Application{}, fmt.Errorf("%w: no Exec key", ErrInvalidEntry)
	}
	if app.Name == "" {
		app.Name = strings.TrimSuffix(filepath.Base(path), ".desktop")
	}
	return app, nil
}

// FindByName returns the first installed application whose name matches
// (case-insensitive).
func FindByName(name string) (Application, bool) {
	lower := strings.ToLower(name)
	for _, app := range List() {
		if strings.ToLower(app.Name) == lower {
			return app, true
		}
	}
	return Application{}, false
}

// ResolveExec turns a raw Exec value into an argument vector: the command
// is truncated at the first %-placeholder and surrounding quotes are
// stripped from each token.
func ResolveExec(raw string) ([]string, error) {
	cut := raw
	if idx := strings.Index(raw, "%"); idx >= 0 {
		cut = raw[:idx]
	}
	cut = strings.TrimSpace(cut)
	if cut == "" {
		return nil, fmt.Errorf("%w: empty Exec after placeholder truncation", ErrInvalidEntry)
	}

	var argv []string
	for _, token := range strings.Fields(cut) {
		token = strings.Trim(token, `"'`)
		if token != "" {
			argv = append(argv, token)
		}
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: empty Exec", ErrInvalidEntry)
	}
	return argv, nil
}
