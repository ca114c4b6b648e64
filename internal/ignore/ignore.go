// Package ignore filters filesystem entries through .dupeignore glob patterns.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Filename is the per-directory ignore file name.
const Filename = ".dupeignore"

// rule is one glob pattern anchored at the directory it was loaded from.
// Patterns from command-line flags have an empty dir and match anywhere.
type rule struct {
	dir     string
	pattern string
}

// Matcher decides whether paths are excluded from hashing.
//
// Matchers are immutable: Extend and WithPatterns return derived matchers, so
// concurrent subtree walks never share mutable state.
type Matcher struct {
	rules []rule
}

// Load reads dir's ignore file, if present, into a new Matcher. A missing
// file yields an empty matcher; a read failure is surfaced.
func Load(dir string) (*Matcher, error) {
	return (&Matcher{}).Extend(dir)
}

// Extend returns a matcher that additionally applies dir's ignore file.
// Returns the receiver unchanged when dir has no ignore file.
func (m *Matcher) Extend(dir string) (*Matcher, error) {
	f, err := os.Open(filepath.Join(dir, Filename))
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return m, err
	}
	defer func() { _ = f.Close() }()

	derived := &Matcher{rules: m.rules[:len(m.rules):len(m.rules)]}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		derived.rules = append(derived.rules, rule{dir: dir, pattern: line})
	}
	if err := scanner.Err(); err != nil {
		return m, err
	}
	return derived, nil
}

// WithPatterns returns a matcher that additionally applies the given
// unanchored glob patterns (e.g. from --exclude flags).
func (m *Matcher) WithPatterns(patterns []string) *Matcher {
	if len(patterns) == 0 {
		return m
	}
	derived := &Matcher{rules: m.rules[:len(m.rules):len(m.rules)]}
	for _, p := range patterns {
		derived.rules = append(derived.rules, rule{pattern: p})
	}
	return derived
}

// Match reports whether path is excluded. Patterns are tested against the
// entry's base name and, for anchored rules, against the path relative to
// the directory the pattern was loaded from.
func (m *Matcher) Match(path string) bool {
	base := filepath.Base(path)
	for _, r := range m.rules {
		if ok, _ := filepath.Match(r.pattern, base); ok {
			return true
		}
		if r.dir == "" {
			continue
		}
		if rel, err := filepath.Rel(r.dir, path); err == nil && !strings.HasPrefix(rel, "..") {
			if ok, _ := filepath.Match(r.pattern, rel); ok {
				return true
			}
		}
	}
	return false
}
