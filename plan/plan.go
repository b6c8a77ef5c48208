// Package plan computes work lists from discovered migrations and ledger contents.
// Everything here is a pure function of its inputs.
package plan

import (
	"sort"

	"github.com/root-talis/migsql/migration"
)

// Locator maps a ledger name to a loadable path.
type Locator func(name string) string

// Summary describes the state of every known migration.
type Summary struct {
	Migrations   []migration.State
	AppliedCount uint
	PendingCount uint
	MissingCount uint
}

// Discover parses candidate filenames and returns the migrations sorted by index,
// ties broken by name. Filenames that don't follow the naming convention are
// returned in skipped.
func Discover(filenames []string, locate Locator) (found []migration.Descriptor, skipped []string) {
	found = make([]migration.Descriptor, 0, len(filenames))

	for _, filename := range filenames {
		descr, err := migration.ParseFilename(filename)
		if err != nil {
			skipped = append(skipped, filename)
			continue
		}

		descr.Locator = locate(descr.Name)
		found = append(found, descr)
	}

	sortDescriptors(found)

	return found, skipped
}

// Pending returns discovered migrations whose names are not in the ledger,
// keeping the order of discovered.
func Pending(discovered []migration.Descriptor, applied []migration.LedgerEntry) []migration.Descriptor {
	appliedNames := make(map[string]struct{}, len(applied))
	for _, entry := range applied {
		appliedNames[entry.Name] = struct{}{}
	}

	pending := make([]migration.Descriptor, 0, len(discovered))
	for _, descr := range discovered {
		if _, ok := appliedNames[descr.Name]; ok {
			continue
		}
		pending = append(pending, descr)
	}

	return pending
}

// Rollback joins ledger entries back to loadable migrations. The ledger order
// (latest application first) is kept as is.
func Rollback(entries []migration.LedgerEntry, locate Locator) []migration.Descriptor {
	result := make([]migration.Descriptor, 0, len(entries))

	for _, entry := range entries {
		descr, err := migration.ParseName(entry.Name)
		if err != nil {
			// ledger names written by other tools may not follow the convention
			descr = migration.Descriptor{Name: entry.Name}
		}

		descr.Locator = locate(entry.Name)
		result = append(result, descr)
	}

	return result
}

// Status merges discovered migrations with ledger contents. Ledger entries with
// no discovered counterpart are reported as missing.
func Status(discovered []migration.Descriptor, applied []migration.LedgerEntry) Summary {
	appliedByName := make(map[string]migration.LedgerEntry, len(applied))
	for _, entry := range applied {
		appliedByName[entry.Name] = entry
	}

	result := Summary{
		Migrations: make([]migration.State, 0, len(discovered)),
	}

	discoveredNames := make(map[string]struct{}, len(discovered))
	for _, descr := range discovered {
		discoveredNames[descr.Name] = struct{}{}

		state := migration.State{Descriptor: descr, Status: migration.Pending}
		if entry, ok := appliedByName[descr.Name]; ok {
			state.Status = migration.Applied
			state.AppliedAt = entry.AppliedAt
			result.AppliedCount++
		} else {
			result.PendingCount++
		}

		result.Migrations = append(result.Migrations, state)
	}

	for _, entry := range applied {
		if _, ok := discoveredNames[entry.Name]; ok {
			continue
		}

		descr, err := migration.ParseName(entry.Name)
		if err != nil {
			descr = migration.Descriptor{Name: entry.Name}
		}

		result.Migrations = append(result.Migrations, migration.State{
			Descriptor: descr,
			Status:     migration.Missing,
			AppliedAt:  entry.AppliedAt,
		})
		result.MissingCount++
	}

	sort.SliceStable(result.Migrations, func(i, j int) bool {
		return less(result.Migrations[i].Descriptor, result.Migrations[j].Descriptor)
	})

	return result
}

func sortDescriptors(descriptors []migration.Descriptor) {
	sort.SliceStable(descriptors, func(i, j int) bool {
		return less(descriptors[i], descriptors[j])
	})
}

func less(a, b migration.Descriptor) bool {
	if a.Index != b.Index {
		return a.Index < b.Index
	}
	return a.Name < b.Name
}
