// Package procmap is the process-map collaborator: enumeration of loaded
// modules and their executable ranges, used by execbroker.AddInstrumentedModule
// and InstrumentAllExecutableMaps.
package procmap

import "github.com/vantir/dbicore/internal/rangeset"

// Mapping is one executable memory mapping belonging to a loaded module.
type Mapping struct {
	Name         string
	Start, End   uint64
	ModuleOffset uint64
}

// Provider enumerates the current process's loaded modules. Implementations
// are platform-specific (linux reads /proc/self/maps).
type Provider interface {
	// Executable returns every currently-mapped executable range.
	Executable() ([]Mapping, error)
	// Module returns the executable ranges belonging to the module whose
	// path or SONAME contains name (substring match).
	Module(name string) ([]Mapping, error)
}

// ExecutableRanges is a convenience wrapper that flattens a Provider's
// Executable() mappings into a rangeset.Set for use by execbroker.
func ExecutableRanges(p Provider) (*rangeset.Set, error) {
	maps, err := p.Executable()
	if err != nil {
		return nil, err
	}
	s := rangeset.New()
	for _, m := range maps {
		s.Add(rangeset.Range{Start: m.Start, End: m.End})
	}
	return s, nil
}
