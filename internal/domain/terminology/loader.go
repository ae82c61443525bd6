package terminology

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// The NPHIES terminology export arrives as a family of loosely structured
// CSV tables: per-topic appendix tables, one consolidated code-system
// table, and a value-set to code-system mapping table. Files may carry a
// spurious one-cell wrapper header above the real header row, and the
// owning code-system (or value-set) URL is stated only on the row where it
// changes; later rows inherit it.

// normalizeHeader maps a raw header cell to a canonical column key.
func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, "_", " ")
	h = strings.Join(strings.Fields(h), " ")
	return h
}

// headerSynonyms maps normalized header names to canonical column keys.
var headerSynonyms = map[string]string{
	"code system":                "system",
	"code system url":            "system",
	"codesystem":                 "system",
	"system":                     "system",
	"code":                       "code",
	"code value":                 "code",
	"display":                    "display",
	"description":                "display",
	"definition":                 "definition",
	"long description":           "definition",
	"version":                    "version",
	"name":                       "name",
	"title":                      "title",
	"system description":         "sysdesc",
	"value set":                  "valueset",
	"value set url":              "valueset",
	"valueset":                   "valueset",
	"validation code system":     "valsystem",
	"code system for validation": "valsystem",
}

// columnIndex resolves the canonical column key -> position for a header
// row, tolerating synonyms and case/whitespace variants.
func columnIndex(header []string) map[string]int {
	cols := make(map[string]int)
	for i, h := range header {
		key, ok := headerSynonyms[normalizeHeader(h)]
		if !ok {
			continue
		}
		if _, seen := cols[key]; !seen {
			cols[key] = i
		}
	}
	return cols
}

// cell returns the trimmed value of column key in row, or "" when the
// column is absent or the row is short.
func cell(row []string, cols map[string]int, key string) string {
	i, ok := cols[key]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// isWrapperHeader reports whether the row is a spurious one-cell wrapper
// above the real header (a single populated cell, no URL content).
func isWrapperHeader(row []string) bool {
	populated := 0
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			populated++
		}
	}
	return populated <= 1
}

// readTable reads all rows of a CSV file, tolerating ragged row lengths.
func readTable(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var rows [][]string
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// headerAndBody splits the table into its real header and data rows,
// skipping a wrapper header row when present.
func headerAndBody(rows [][]string) ([]string, [][]string) {
	if len(rows) == 0 {
		return nil, nil
	}
	if isWrapperHeader(rows[0]) && len(rows) > 1 {
		return rows[1], rows[2:]
	}
	return rows[0], rows[1:]
}

// isURL reports whether the value looks like a code-system or value-set URL.
func isURL(v string) bool {
	return strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://")
}

// loadAppendixFile loads one per-topic appendix table. The code-system URL
// column forward-fills: a row carrying a URL adopts it for all following
// rows until it changes. Rows without a usable system or code are skipped.
func (c *Catalog) loadAppendixFile(path, section string) int {
	rows, err := readTable(path)
	if err != nil {
		c.logger.Warn().Err(err).Str("file", filepath.Base(path)).Msg("skipping unreadable terminology file")
		return 0
	}
	header, body := headerAndBody(rows)
	cols := columnIndex(header)
	if _, ok := cols["code"]; !ok {
		c.logger.Warn().Str("file", filepath.Base(path)).Msg("terminology file has no code column")
		return 0
	}

	loaded := 0
	currentSystem := ""
	for _, row := range body {
		if sys := cell(row, cols, "system"); isURL(sys) {
			currentSystem = sys
		}
		code := cell(row, cols, "code")
		if currentSystem == "" || code == "" {
			continue
		}
		c.insertCode(currentSystem, &Entry{
			Code:       code,
			Display:    cell(row, cols, "display"),
			Definition: cell(row, cols, "definition"),
			SourceFile: filepath.Base(path),
			Section:    section,
		})
		loaded++
	}
	return loaded
}

// loadCodeSystemFile loads the consolidated code-system table. Forward-fill
// applies as for appendix tables, and per-system metadata is captured the
// first time each system URL is seen.
func (c *Catalog) loadCodeSystemFile(path string) int {
	rows, err := readTable(path)
	if err != nil {
		c.logger.Warn().Err(err).Str("file", filepath.Base(path)).Msg("skipping unreadable terminology file")
		return 0
	}
	header, body := headerAndBody(rows)
	cols := columnIndex(header)

	loaded := 0
	currentSystem := ""
	for _, row := range body {
		if sys := cell(row, cols, "system"); isURL(sys) {
			currentSystem = sys
			cs := c.system(currentSystem)
			if cs.Version == "" {
				cs.Version = cell(row, cols, "version")
			}
			if cs.Name == "" {
				cs.Name = cell(row, cols, "name")
			}
			if cs.Title == "" {
				cs.Title = cell(row, cols, "title")
			}
			if cs.Description == "" {
				cs.Description = cell(row, cols, "sysdesc")
			}
		}
		code := cell(row, cols, "code")
		if currentSystem == "" || code == "" {
			continue
		}
		c.insertCode(currentSystem, &Entry{
			Code:       code,
			Display:    cell(row, cols, "display"),
			Definition: cell(row, cols, "definition"),
			SourceFile: filepath.Base(path),
			Section:    "code_systems",
		})
		loaded++
	}
	return loaded
}

// loadValueSetFile loads the value-set to code-system mapping table. The
// value-set URL column forward-fills; each row contributes the referenced
// code-system URL, preferring the primary column and falling back to the
// validation-specific one.
func (c *Catalog) loadValueSetFile(path string) int {
	rows, err := readTable(path)
	if err != nil {
		c.logger.Warn().Err(err).Str("file", filepath.Base(path)).Msg("skipping unreadable terminology file")
		return 0
	}
	header, body := headerAndBody(rows)
	cols := columnIndex(header)

	mapped := 0
	currentVS := ""
	for _, row := range body {
		if vs := cell(row, cols, "valueset"); isURL(vs) {
			currentVS = vs
		}
		if currentVS == "" {
			continue
		}
		sys := cell(row, cols, "system")
		if !isURL(sys) {
			sys = cell(row, cols, "valsystem")
		}
		if !isURL(sys) {
			continue
		}
		vs := c.valueSets[currentVS]
		if vs == nil {
			vs = &ValueSet{URL: currentVS, Systems: make(map[string]struct{})}
			c.valueSets[currentVS] = vs
		}
		vs.Systems[sys] = struct{}{}
		mapped++
	}
	return mapped
}

// system returns the code system for url, creating it on first use.
func (c *Catalog) system(url string) *CodeSystem {
	cs := c.systems[url]
	if cs == nil {
		cs = &CodeSystem{URL: url, Codes: make(map[string]*Entry)}
		c.systems[url] = cs
	}
	return cs
}

// insertCode inserts idempotently by (system, code): the first writer wins
// for display and definition, but a later row may backfill an empty field.
func (c *Catalog) insertCode(systemURL string, entry *Entry) {
	cs := c.system(systemURL)
	existing, ok := cs.Codes[entry.Code]
	if !ok {
		cs.Codes[entry.Code] = entry
		c.totalCodes++
		return
	}
	if existing.Display == "" {
		existing.Display = entry.Display
	}
	if existing.Definition == "" {
		existing.Definition = entry.Definition
	}
}

// sectionFromFilename derives the appendix section label from the filename,
// e.g. "appendix_claim_types.csv" -> "claim_types".
func sectionFromFilename(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.TrimPrefix(base, "appendix_")
	base = strings.TrimPrefix(base, "appendix")
	return strings.Trim(base, "_- ")
}

// loadDir walks the source directory and loads every CSV table, dispatching
// on filename: code_systems* is the consolidated table, value_sets* the
// mapping table, everything else an appendix table.
func (c *Catalog) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("terminology source directory %s: %w", dir, err)
	}

	files := 0
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		files++
		path := filepath.Join(dir, e.Name())
		name := strings.ToLower(e.Name())
		switch {
		case strings.HasPrefix(name, "code_system"):
			c.loadCodeSystemFile(path)
		case strings.HasPrefix(name, "value_set"):
			c.loadValueSetFile(path)
		default:
			c.loadAppendixFile(path, sectionFromFilename(name))
		}
	}

	if files == 0 {
		return fmt.Errorf("terminology source directory %s contains no CSV tables", dir)
	}
	if c.totalCodes == 0 {
		return fmt.Errorf("no codes loaded from terminology source %s", dir)
	}
	return nil
}
