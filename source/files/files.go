// Package files reads migrations from a directory of annotated SQL files.
//
// A migration file is named <index>-<name>.sql and holds two sections:
//
//	-- +migrate Up
//	CREATE TABLE IF NOT EXISTS posts (id INTEGER PRIMARY KEY);
//
//	-- +migrate Down
//	DROP TABLE IF EXISTS posts;
//
// Each section is sent to the database session as a single Exec call.
package files

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/root-talis/migsql/migration"
	"github.com/root-talis/migsql/source"
)

// Extension is the file extension of SQL migrations.
const Extension = ".sql"

const (
	markerUp   = "-- +migrate Up"
	markerDown = "-- +migrate Down"
)

var ErrMigrationsDirectoryIsNotADirectory = errors.New("migrations directory is not a directory")

type filesSource struct {
	fsys      fs.FS
	directory string
}

// NewFilesSource returns a source reading directory inside fsys.
// Use os.DirFS to read from disk.
func NewFilesSource(fsys fs.FS, directory string) (source.Source, error) {
	stat, err := fs.Stat(fsys, directory)
	if err != nil {
		return nil, fmt.Errorf("failed to stat migrations directory: %w", err)
	}

	if !stat.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrMigrationsDirectoryIsNotADirectory, directory)
	}

	return &filesSource{
		fsys:      fsys,
		directory: directory,
	}, nil
}

func (src *filesSource) List(_ context.Context) ([]string, error) {
	entries, err := fs.ReadDir(src.fsys, src.directory)
	if err != nil {
		return nil, fmt.Errorf("failed to read contents of migrations directory: %w", err)
	}

	result := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !entry.Type().IsRegular() {
			continue
		}

		if path.Ext(entry.Name()) != Extension {
			continue
		}

		result = append(result, entry.Name())
	}

	sort.Strings(result)

	return result, nil
}

func (src *filesSource) Locate(name string) string {
	return path.Join(src.directory, name+Extension)
}

func (src *filesSource) Load(_ context.Context, filePath string) (migration.Unit, error) {
	content, err := fs.ReadFile(src.fsys, filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", source.ErrMigrationNotFound, filePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read migration %s: %w", filePath, err)
	}

	up, down, err := parseSections(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse migration %s: %w", filePath, err)
	}

	unit := migration.Funcs{Up: exec(up), Down: exec(down)}
	if err := unit.Validate(); err != nil {
		return nil, fmt.Errorf("failed to parse migration %s: %w", filePath, err)
	}

	return unit, nil
}

// ---

// parseSections splits content into its up and down sections. Lines may be of any length.
func parseSections(content string) (string, string, error) {
	var upBuilder, downBuilder strings.Builder
	var currentSection *strings.Builder
	seenUp, seenDown := false, false

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSuffix(line, "\r")

		switch strings.TrimSpace(line) {
		case markerUp:
			if seenUp {
				return "", "", fmt.Errorf("%w: duplicate up section", source.ErrMigrationInvalid)
			}
			seenUp = true
			currentSection = &upBuilder
			continue
		case markerDown:
			if seenDown {
				return "", "", fmt.Errorf("%w: duplicate down section", source.ErrMigrationInvalid)
			}
			seenDown = true
			currentSection = &downBuilder
			continue
		}

		if currentSection != nil {
			currentSection.WriteString(line)
			currentSection.WriteString("\n")
		}
	}

	return strings.TrimSpace(upBuilder.String()), strings.TrimSpace(downBuilder.String()), nil
}

// exec returns nil for an empty statement so that Funcs.Validate reports it.
func exec(statement string) func(context.Context, migration.Session) error {
	if statement == "" {
		return nil
	}
	return func(ctx context.Context, session migration.Session) error {
		return session.Exec(ctx, statement)
	}
}
