package migration

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
)

const (
	// IndexWidth is the zero-padded width of indices written by the scaffolder.
	IndexWidth = 4

	separator = "-"
)

var ErrInvalidFilename = errors.New("migration filename does not match <index>-<name><ext>")

// ParseFilename splits a migration filename like "0001-wild.sql" into its index,
// ledger name ("0001-wild") and label ("wild"). Directories in the filename are ignored.
func ParseFilename(filename string) (Descriptor, error) {
	base := path.Base(filename)
	stem := strings.TrimSuffix(base, path.Ext(base))

	return ParseName(stem)
}

// ParseName parses a ledger name, which is a filename without its extension.
func ParseName(name string) (Descriptor, error) {
	indexToken, label, found := strings.Cut(name, separator)
	if !found {
		return Descriptor{}, fmt.Errorf("%w: no separator in \"%s\"", ErrInvalidFilename, name)
	}

	if indexToken == "" || strings.TrimLeft(indexToken, "0123456789") != "" {
		return Descriptor{}, fmt.Errorf("%w: index \"%s\" is not a number", ErrInvalidFilename, indexToken)
	}

	index, err := strconv.ParseUint(indexToken, 10, 64)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrInvalidFilename, err)
	}

	if index == 0 {
		return Descriptor{}, fmt.Errorf("%w: index must be positive", ErrInvalidFilename)
	}

	if strings.TrimSpace(label) == "" {
		return Descriptor{}, fmt.Errorf("%w: empty name in \"%s\"", ErrInvalidFilename, name)
	}

	return Descriptor{
		Index: index,
		Name:  name,
		Label: label,
	}, nil
}

// FormatName builds the ledger name for a new migration, e.g. FormatName(3, "users") == "0003-users".
func FormatName(index uint64, label string) string {
	return fmt.Sprintf("%0*d%s%s", IndexWidth, index, separator, label)
}
