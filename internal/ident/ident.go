// Package ident turns arbitrary header and file names into relational
// identifiers.
//
// The same input always produces the same identifier:
//   - runs of characters outside [0-9A-Za-z] collapse to a single underscore
//   - a lowercase letter or digit followed by an uppercase letter gets an
//     underscore between them (TrackingNumber -> tracking_number)
//   - the result is lower-cased and stripped of leading/trailing underscores
//   - an empty result becomes Placeholder
//   - a leading digit gets DigitPrefix
//   - the result never exceeds MaxLen bytes
package ident

import (
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// MaxLen is the identifier byte limit shared by Postgres (NAMEDATALEN-1)
	// and the other backends we target.
	MaxLen = 63

	// Placeholder replaces names that sanitize to nothing.
	Placeholder = "col"

	// DigitPrefix is prepended to names that would otherwise start with a digit.
	DigitPrefix = "c_"
)

// Sanitize returns a lower-case identifier made of [0-9a-z_] that does not
// start with a digit and is at most MaxLen bytes long. It is pure and
// deterministic.
func Sanitize(name string) string {
	s := collapseNonAlnum(strings.TrimSpace(name))
	s = splitCaseBoundaries(s)
	s = strings.ToLower(s)
	s = collapseUnderscores(s)
	s = strings.Trim(s, "_")
	if s == "" {
		s = Placeholder
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = DigitPrefix + s
	}
	if len(s) > MaxLen {
		s = strings.TrimRight(s[:MaxLen], "_")
	}
	return s
}

// TableName derives a table identifier from a file name by dropping the
// directory and extension and sanitizing the rest.
//
//	TableName("/data/WellBoreHole.txt") == "well_bore_hole"
func TableName(file string) string {
	base := filepath.Base(file)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return Sanitize(base)
}

// LooksLikeTracking reports whether a header names the record tracking number
// (TrackingNumber, tracking_no, Tracking Num, ...). Case, spaces and
// underscores are ignored.
func LooksLikeTracking(header string) bool {
	s := strings.ToLower(header)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "_", "")
	switch s {
	case "trackingnumber", "trackingno", "trackingnum":
		return true
	}
	return false
}

func isAlnum(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isLowerOrDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')
}

// collapseNonAlnum replaces every maximal run of non-[0-9A-Za-z] bytes
// (including every byte of a multi-byte rune) with one underscore.
func collapseNonAlnum(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inRun := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAlnum(c) {
			b.WriteByte(c)
			inRun = false
			continue
		}
		if !inRun {
			b.WriteByte('_')
			inRun = true
		}
	}
	return b.String()
}

func splitCaseBoundaries(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if i > 0 && c >= 'A' && c <= 'Z' && isLowerOrDigit(s[i-1]) {
			b.WriteByte('_')
		}
		b.WriteByte(c)
	}
	return b.String()
}

func collapseUnderscores(s string) string {
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return s
}

// Dedupe makes names unique (case-insensitively) within MaxLen bytes.
//
// Names longer than MaxLen are truncated at a rune boundary. A name that
// collides with one already emitted gets a numeric suffix starting at _2; if
// the suffixed form would exceed MaxLen the base is truncated further so the
// suffix always survives. Collisions are resolved in first-seen order, so the
// output is deterministic for a given input order.
//
// The returned map has one entry per altered name: adjusted -> original.
func Dedupe(names []string) ([]string, map[string]string) {
	n := NewNamer(MaxLen)
	out := make([]string, 0, len(names))
	altered := make(map[string]string)
	for _, orig := range names {
		adj := n.Add(orig)
		out = append(out, adj)
		if adj != orig {
			altered[adj] = orig
		}
	}
	return out, altered
}

// Namer hands out unique identifiers incrementally. Dedupe is a Namer run
// over a slice; the mirror loader keeps one Namer across files so two files
// whose base names sanitize identically still get distinct tables.
//
// A Namer is not safe for concurrent use.
type Namer struct {
	max  int
	seen map[string]struct{}
	next map[string]int
}

// NewNamer returns a Namer bounded to max bytes per name. max <= 0 means MaxLen.
func NewNamer(max int) *Namer {
	if max <= 0 {
		max = MaxLen
	}
	return &Namer{
		max:  max,
		seen: make(map[string]struct{}),
		next: make(map[string]int),
	}
}

// Add returns name (truncated to the byte limit) or, if that is already taken,
// the first free suffixed variant.
func (n *Namer) Add(name string) string {
	cand := truncateBytes(name, n.max)
	key := strings.ToLower(cand)
	if _, taken := n.seen[key]; taken {
		i := n.next[key]
		if i < 2 {
			i = 2
		}
		for {
			s := withSuffix(cand, i, n.max)
			if _, dup := n.seen[strings.ToLower(s)]; !dup {
				cand = s
				n.next[key] = i + 1
				break
			}
			i++
		}
	}
	n.seen[strings.ToLower(cand)] = struct{}{}
	return cand
}

func withSuffix(base string, i, max int) string {
	suffix := "_" + strconv.Itoa(i)
	return truncateBytes(base, max-len(suffix)) + suffix
}

// truncateBytes cuts s to at most max bytes without splitting a rune.
func truncateBytes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
