// Package terminology maintains the in-memory index of NPHIES code systems
// and value sets and validates clinical codes against it before submission.
package terminology

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Catalog is the read-mostly code-system index. It is built once from the
// configured source directory; after Load completes (or records a permanent
// failure) all query operations are pure reads over immutable maps and need
// no locking. Concurrent readers never observe a partially built catalog.
type Catalog struct {
	dir    string
	logger zerolog.Logger

	mu      sync.Mutex
	ready   atomic.Bool
	loadErr error

	systems    map[string]*CodeSystem
	valueSets  map[string]*ValueSet
	totalCodes int
}

// NewCatalog creates an unloaded Catalog reading from dir. Load is lazy:
// the first query triggers it, or call Load eagerly at startup.
func NewCatalog(dir string, logger zerolog.Logger) *Catalog {
	return &Catalog{
		dir:       dir,
		logger:    logger,
		systems:   make(map[string]*CodeSystem),
		valueSets: make(map[string]*ValueSet),
	}
}

// Load builds the index from the source directory. It is idempotent: the
// result of the first call, success or permanent failure, is recorded and
// returned to every later caller.
func (c *Catalog) Load() error {
	if c.ready.Load() {
		return c.loadErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready.Load() {
		return c.loadErr
	}

	c.loadErr = c.loadDir(c.dir)
	if c.loadErr != nil {
		c.logger.Error().Err(c.loadErr).Str("dir", c.dir).
			Msg("terminology catalog unavailable; code validation is disabled")
	} else {
		c.logger.Info().
			Int("code_systems", len(c.systems)).
			Int("value_sets", len(c.valueSets)).
			Int("codes", c.totalCodes).
			Msg("terminology catalog loaded")
	}
	c.ready.Store(true)
	return c.loadErr
}

// Available reports whether the catalog loaded successfully. When false,
// validation succeeds vacuously so an absent export never blocks claims.
func (c *Catalog) Available() bool {
	_ = c.Load()
	return c.loadErr == nil
}

// Lookup returns the entry for (system, code), or false when either the
// system or the code is not registered.
func (c *Catalog) Lookup(system, code string) (*Entry, bool) {
	if !c.Available() {
		return nil, false
	}
	cs, ok := c.systems[system]
	if !ok {
		return nil, false
	}
	entry, ok := cs.Codes[code]
	return entry, ok
}

// ValidateCode checks that (system, code) is registered, and optionally
// that the value set admits the system. Error precedence:
// MISSING_SYSTEM_OR_CODE, UNKNOWN_CODE_SYSTEM, UNKNOWN_CODE, then
// SYSTEM_NOT_ALLOWED_IN_VALUE_SET (which applies even to valid codes).
func (c *Catalog) ValidateCode(system, code, valueSet string) CodeValidation {
	if !c.Available() {
		return CodeValidation{Valid: true, Message: "terminology catalog unavailable; validation skipped"}
	}
	if system == "" || code == "" {
		return CodeValidation{
			Code:    CodeMissingSystemOrCode,
			Message: "both system and code are required",
		}
	}
	cs, ok := c.systems[system]
	if !ok {
		return CodeValidation{
			Code:    CodeUnknownCodeSystem,
			Message: fmt.Sprintf("code system %s is not registered in the NPHIES terminology", system),
		}
	}
	entry, ok := cs.Codes[code]
	if !ok {
		return CodeValidation{
			Code:    CodeUnknownCode,
			Message: fmt.Sprintf("code %s is not registered in %s", code, system),
		}
	}
	if valueSet != "" {
		if vs, ok := c.valueSets[valueSet]; ok && len(vs.Systems) > 0 {
			if _, allowed := vs.Systems[system]; !allowed {
				return CodeValidation{
					Code:    CodeSystemNotAllowedInVS,
					Message: fmt.Sprintf("code system %s is not admitted by value set %s", system, valueSet),
				}
			}
		}
	}
	return CodeValidation{Valid: true, Display: entry.Display}
}

// Systems returns a summary of every loaded code system, sorted by URL.
func (c *Catalog) Systems() []SystemSummary {
	if !c.Available() {
		return nil
	}
	out := make([]SystemSummary, 0, len(c.systems))
	for url, cs := range c.systems {
		out = append(out, SystemSummary{
			URL:       url,
			Version:   cs.Version,
			Name:      cs.Name,
			Title:     cs.Title,
			CodeCount: len(cs.Codes),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}
