package manifest

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-photosync/pkg/plog"
)

type exclusionMatchType int

const (
	literalMatch exclusionMatchType = iota
	prefixMatch
	suffixMatch
	globMatch
)

// exclusionSet holds categorized exclusion patterns. Patterns without a
// slash are matched against the basename, others against the full
// slash-separated relative path. Matching ignores case.
type exclusionSet struct {
	literals         map[string]struct{}
	basenameLiterals map[string]struct{}
	nonLiterals      []exclusion
}

type exclusion struct {
	pattern       string
	cleanPattern  string
	matchType     exclusionMatchType
	matchBasename bool
}

func makeExclusionSet(patterns []string) exclusionSet {
	set := exclusionSet{
		literals:         make(map[string]struct{}),
		basenameLiterals: make(map[string]struct{}),
	}

	for _, p := range patterns {
		p = normalizePattern(p)
		if p == "" {
			continue
		}
		matchBasename := !strings.Contains(strings.TrimSuffix(p, "/"), "/")

		switch {
		case strings.HasSuffix(p, "/*") && !strings.ContainsAny(p[:len(p)-2], "*?["):
			set.nonLiterals = append(set.nonLiterals, exclusion{pattern: p, cleanPattern: strings.TrimSuffix(p, "*"), matchType: prefixMatch})
		case strings.HasSuffix(p, "*") && !strings.ContainsAny(p[:len(p)-1], "*?["):
			set.nonLiterals = append(set.nonLiterals, exclusion{pattern: p, cleanPattern: strings.TrimSuffix(p, "*"), matchType: prefixMatch, matchBasename: matchBasename})
		case strings.HasPrefix(p, "*") && !strings.ContainsAny(p[1:], "*?["):
			set.nonLiterals = append(set.nonLiterals, exclusion{pattern: p, cleanPattern: p[1:], matchType: suffixMatch, matchBasename: matchBasename})
		case strings.ContainsAny(p, "*?["):
			set.nonLiterals = append(set.nonLiterals, exclusion{pattern: p, cleanPattern: p, matchType: globMatch, matchBasename: matchBasename})
		case strings.HasSuffix(p, "/"):
			// "raw/" excludes the directory and everything below it.
			set.nonLiterals = append(set.nonLiterals, exclusion{pattern: p, cleanPattern: p, matchType: prefixMatch})
			set.literals[strings.TrimSuffix(p, "/")] = struct{}{}
		case matchBasename:
			set.basenameLiterals[p] = struct{}{}
		default:
			set.literals[p] = struct{}{}
		}
	}
	return set
}

func (es *exclusionSet) empty() bool {
	return len(es.literals) == 0 && len(es.basenameLiterals) == 0 && len(es.nonLiterals) == 0
}

// matches checks if a slash-separated relative path matches any pattern.
func (es *exclusionSet) matches(relPath, basename string) bool {
	if es.empty() {
		return false
	}
	normalizedPath := normalizePattern(relPath)
	normalizedBasename := normalizePattern(basename)

	if _, ok := es.literals[normalizedPath]; ok {
		return true
	}
	if _, ok := es.basenameLiterals[normalizedBasename]; ok {
		return true
	}

	for _, p := range es.nonLiterals {
		candidate := normalizedPath
		if p.matchBasename {
			candidate = normalizedBasename
		}
		switch p.matchType {
		case prefixMatch:
			if strings.HasPrefix(candidate, p.cleanPattern) {
				return true
			}
		case suffixMatch:
			if strings.HasSuffix(candidate, p.cleanPattern) {
				return true
			}
		case globMatch:
			match, err := path.Match(p.cleanPattern, candidate)
			if err != nil {
				plog.Warn("Invalid exclusion pattern", "pattern", p.pattern, "error", err)
				continue
			}
			if match {
				return true
			}
		}
	}
	return false
}

// normalizePattern converts a path or pattern into a case-insensitive,
// forward-slash key.
func normalizePattern(p string) string {
	return strings.ToLower(filepath.ToSlash(strings.TrimSpace(p)))
}
