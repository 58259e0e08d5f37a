// Package aliases resolves canonical fields against the header spellings that
// a given release of the export actually uses.
//
// The same logical field (for example the record tracking number) has been
// published as TrackingNumber, ReportTrackingNumber, TRK_NO and others. Call
// sites pass an ordered candidate list, most specific first; the resolver
// returns the first candidate that appears in the file's known headers
// (snapshot manifest or data dictionary). Looking up the value in a row is
// left to the caller.
package aliases

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"welletl/internal/snapshot"
)

// FileAliases holds the header variants known for one source file.
type FileAliases struct {
	Manifest   []string `json:"manifest_headers"`
	Dictionary []string `json:"dictionary_headers"`
}

// UnmarshalJSON accepts both the current keys and the older
// headers_from_manifest / headers_from_dictionary keys.
func (f *FileAliases) UnmarshalJSON(b []byte) error {
	var raw struct {
		Manifest         []string `json:"manifest_headers"`
		Dictionary       []string `json:"dictionary_headers"`
		LegacyManifest   []string `json:"headers_from_manifest"`
		LegacyDictionary []string `json:"headers_from_dictionary"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	f.Manifest = raw.Manifest
	if f.Manifest == nil {
		f.Manifest = raw.LegacyManifest
	}
	f.Dictionary = raw.Dictionary
	if f.Dictionary == nil {
		f.Dictionary = raw.LegacyDictionary
	}
	return nil
}

// Index builds the header-presence set used by Resolve.
func (f FileAliases) Index() HeaderSet {
	s := make(HeaderSet, len(f.Manifest)+len(f.Dictionary))
	for _, h := range f.Manifest {
		s[normalize(h)] = struct{}{}
	}
	for _, h := range f.Dictionary {
		s[normalize(h)] = struct{}{}
	}
	return s
}

// Resolve is Index().Resolve(candidates...). Prefer building the index once
// when resolving many fields for the same file.
func (f FileAliases) Resolve(candidates ...string) (string, bool) {
	return f.Index().Resolve(candidates...)
}

// HeaderSet is the set of (trimmed) header strings known for one file.
type HeaderSet map[string]struct{}

// HeadersOf builds a HeaderSet straight from a header row. It is the
// fallback when the dictionary has no entry for a file.
func HeadersOf(header []string) HeaderSet {
	return FileAliases{Manifest: header}.Index()
}

// Resolve returns the first candidate present in the set. Matching is exact
// after trimming surrounding whitespace; the returned value is the candidate
// as given.
func (s HeaderSet) Resolve(candidates ...string) (string, bool) {
	for _, c := range candidates {
		if _, ok := s[normalize(c)]; ok {
			return c, true
		}
	}
	return "", false
}

// Has reports whether h is a known header.
func (s HeaderSet) Has(h string) bool {
	_, ok := s[normalize(h)]
	return ok
}

func normalize(h string) string { return strings.TrimSpace(h) }

// Dictionary maps a source file name (e.g. "WellData.txt") to its aliases.
type Dictionary map[string]FileAliases

// For returns the aliases recorded for file. file may be a path; only its
// base name is used. An exact key match wins over a case-insensitive one.
func (d Dictionary) For(file string) (FileAliases, bool) {
	base := filepath.Base(file)
	if fa, ok := d[base]; ok {
		return fa, true
	}
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.EqualFold(k, base) {
			return d[k], true
		}
	}
	return FileAliases{}, false
}

// Load reads a dictionary JSON document.
func Load(path string) (Dictionary, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("aliases: read: %w", err)
	}
	var d Dictionary
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("aliases: decode %s: %w", path, err)
	}
	if d == nil {
		d = Dictionary{}
	}
	return d, nil
}

// Save writes d as indented JSON, atomically.
func Save(path string, d Dictionary) error {
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("aliases: encode: %w", err)
	}
	return snapshot.WriteFileAtomic(path, append(b, '\n'))
}

// Build combines a header snapshot with per-section dictionary columns.
//
// Every manifest file gets an entry. Its dictionary headers come from the
// dictionary section whose name matches the file name loosely: case and
// spaces are ignored and a ".txt" suffix is optional. An exact match wins;
// otherwise the longest section equal to whole separator-delimited parts of
// the file name is used (ties broken by name), so "WellData" serves
// "SDR_WellData.txt". Files with no matching section get an empty
// dictionary list.
func Build(m snapshot.Manifest, dict map[string][]string) Dictionary {
	sections := make([]string, 0, len(dict))
	for s := range dict {
		sections = append(sections, s)
	}
	sort.Strings(sections)

	out := make(Dictionary, len(m.Files))
	for _, f := range m.Files {
		fa := FileAliases{
			Manifest:   append([]string{}, f.HeaderFields...),
			Dictionary: []string{},
		}
		if s, ok := matchSection(f.Name, sections); ok {
			fa.Dictionary = append(fa.Dictionary, dict[s]...)
		}
		out[f.Name] = fa
	}
	return out
}

func looseKey(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.TrimSuffix(s, ".txt")
	return strings.ReplaceAll(s, " ", "")
}

func matchSection(file string, sections []string) (string, bool) {
	fk := looseKey(file)
	runs := tokenRuns(file)
	best, bestLen := "", 0
	for _, s := range sections {
		sk := looseKey(s)
		if sk == "" {
			continue
		}
		if sk == fk {
			return s, true
		}
		if _, ok := runs[sk]; ok && len(sk) > bestLen {
			best, bestLen = s, len(sk)
		}
	}
	return best, bestLen > 0
}

// tokenRuns returns every contiguous run of the separator-delimited parts of
// a file's base name, lowercased and joined: "SDR_Well Data.txt" yields sdr,
// well, data, sdrwell, welldata and sdrwelldata. A section must equal one of
// them, so "Well" never matches "WellCasing.txt".
func tokenRuns(file string) map[string]struct{} {
	base := strings.ToLower(strings.TrimSpace(file))
	base = strings.TrimSuffix(base, ".txt")
	parts := strings.FieldsFunc(base, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-' || r == '.'
	})
	out := make(map[string]struct{}, len(parts)*(len(parts)+1)/2)
	for i := range parts {
		run := ""
		for j := i; j < len(parts); j++ {
			run += parts[j]
			out[run] = struct{}{}
		}
	}
	return out
}
