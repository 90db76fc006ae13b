package playbook

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/cloudflair/agentlink/pkg/errors"
)

// Catalog looks up playbook definitions in a single directory. Lookups scan
// the directory unless a snapshot has been installed with Reload; a snapshot
// is immutable and replaced wholesale, so concurrent readers never observe a
// partially updated index.
type Catalog struct {
	dir      string
	snapshot atomic.Pointer[snapshot]
}

type snapshot struct {
	defs []Definition
}

// NewCatalog creates a catalog over a directory of playbook documents.
// The directory is not read until the first lookup or Reload.
func NewCatalog(dir string) *Catalog {
	return &Catalog{dir: dir}
}

// Dir returns the backing directory.
func (c *Catalog) Dir() string { return c.dir }

// Reload scans the directory and installs a new immutable snapshot.
// Malformed documents are skipped; the snapshot holds the rest.
func (c *Catalog) Reload(ctx context.Context) error {
	result, err := c.scan(ctx)
	if err != nil {
		return err
	}
	c.snapshot.Store(&snapshot{defs: result.defs})
	return nil
}

// List returns every well-formed definition in directory enumeration order.
// Ordering is not guaranteed to be stable across platforms.
func (c *Catalog) List(ctx context.Context) ([]Definition, error) {
	if snap := c.snapshot.Load(); snap != nil {
		return append([]Definition(nil), snap.defs...), nil
	}
	result, err := c.scan(ctx)
	if err != nil {
		return nil, err
	}
	return result.defs, nil
}

// Resolve returns the first definition whose id equals the argument.
// A malformed sibling document never hides a later well-formed match; it is
// only reported when no match exists, since the requested playbook may be
// among the unparseable documents.
func (c *Catalog) Resolve(ctx context.Context, id string) (Definition, error) {
	if snap := c.snapshot.Load(); snap != nil {
		for _, def := range snap.defs {
			if def.ID == id {
				return def, nil
			}
		}
		return Definition{}, notFound(id)
	}

	result, err := c.scan(ctx)
	if err != nil {
		return Definition{}, err
	}
	for _, def := range result.defs {
		if def.ID == id {
			return def, nil
		}
	}
	if result.parseErr != nil {
		return Definition{}, result.parseErr
	}
	return Definition{}, notFound(id)
}

type scanResult struct {
	defs     []Definition
	parseErr error
}

// scan enumerates the directory, parsing every playbook document. It returns
// the well-formed definitions plus the first parse failure, if any.
func (c *Catalog) scan(ctx context.Context) (scanResult, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return scanResult{}, errors.New(errors.CodeInvalidInput, "read playbook directory", err).
			WithContext("dir", c.dir)
	}

	var result scanResult
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return scanResult{}, errors.New(errors.CodeContextLost, "catalog scan cancelled", err)
		}
		if entry.IsDir() || !isPlaybookFile(entry.Name()) {
			continue
		}
		def, err := LoadFile(filepath.Join(c.dir, entry.Name()))
		if err != nil {
			if result.parseErr == nil {
				result.parseErr = err
			}
			continue
		}
		result.defs = append(result.defs, def)
	}
	return result, nil
}
