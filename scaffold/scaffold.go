// Package scaffold creates new migration files from templates.
package scaffold

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/root-talis/migsql/migration"
	"github.com/root-talis/migsql/source/files"
)

// Placeholder is replaced with the migration name in templates.
const Placeholder = "<name>"

//go:embed templates/*.sql
var templates embed.FS

var (
	ErrInvalidName     = errors.New("invalid migration name")
	ErrNameConflict    = errors.New("migration name already used")
	ErrUnknownTemplate = errors.New("no built-in template for database type")
)

var validName = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_-]*$`)

// Template returns the built-in template for a database type: postgresql, sqlite or mysql.
func Template(databaseType string) ([]byte, error) {
	content, err := templates.ReadFile("templates/" + databaseType + files.Extension)
	if err != nil {
		return nil, fmt.Errorf("%w: \"%s\"", ErrUnknownTemplate, databaseType)
	}
	return content, nil
}

// ReadTemplate reads a custom template from disk.
func ReadTemplate(path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	return content, nil
}

// Create writes a new migration called name to directory, creating the
// directory when needed, and returns the path of the new file. Nothing is
// written when any existing file name contains name.
func Create(directory, name string, template []byte) (string, error) {
	if !validName.MatchString(name) {
		return "", fmt.Errorf("%w: \"%s\"", ErrInvalidName, name)
	}

	if err := os.MkdirAll(directory, 0o755); err != nil { // nolint:gomnd
		return "", fmt.Errorf("failed to create migrations directory: %w", err)
	}

	entries, err := os.ReadDir(directory)
	if err != nil {
		return "", fmt.Errorf("failed to read contents of migrations directory: %w", err)
	}

	index, err := nextIndex(entries, name)
	if err != nil {
		return "", err
	}

	path := filepath.Join(directory, migration.FormatName(index, name)+files.Extension)
	content := strings.ReplaceAll(string(template), Placeholder, name)

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) // nolint:gomnd
	if err != nil {
		return "", fmt.Errorf("failed to create migration file: %w", err)
	}

	if _, err := file.WriteString(content); err != nil {
		_ = file.Close()
		return "", fmt.Errorf("failed to write migration file: %w", err)
	}

	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to write migration file: %w", err)
	}

	return path, nil
}

// ---

// nextIndex returns the highest index in use plus one. Entries that are not
// migrations still take part in the name conflict check.
func nextIndex(entries []fs.DirEntry, name string) (uint64, error) {
	var highest uint64

	for _, entry := range entries {
		if strings.Contains(entry.Name(), name) {
			return 0, fmt.Errorf("%w: \"%s\" is already used in %s", ErrNameConflict, name, entry.Name())
		}

		descr, err := migration.ParseFilename(entry.Name())
		if err != nil {
			continue
		}

		if descr.Index > highest {
			highest = descr.Index
		}
	}

	return highest + 1, nil
}
