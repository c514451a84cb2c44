package pathspace

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// superMatch is a whole component that may consume the remainder of a
// concrete path across component boundaries.
const superMatch = "**"

// globCache memoizes validated glob pattern splits; patterns tend to be a
// small working set hit on every fan-out operation. One cache is shared by
// all spaces in the process, keyed by the raw pattern string.
var globCache *lru.Cache

func init() {
	var err error
	globCache, err = lru.New(1024)
	if err != nil {
		panic(err)
	}
}

// parseGlobPath validates and splits a path that may contain glob
// components. Successful parses are memoized.
func parseGlobPath(path string) ([]string, error) {
	if cached, ok := globCache.Get(path); ok {
		return cached.([]string), nil
	}
	comps, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	for _, c := range comps {
		if err := validateGlobComponent(c); err != nil {
			return nil, err
		}
	}
	globCache.Add(path, comps)
	return comps, nil
}

// parseConcretePath validates and splits a path and rejects glob
// components.
func parseConcretePath(path string) ([]string, error) {
	comps, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	for _, c := range comps {
		if isGlob(c) {
			return nil, fmt.Errorf("%w: %q is not concrete", ErrInvalidPath, path)
		}
	}
	return comps, nil
}

// matchName matches one glob component against one concrete component.
// '?' consumes one character, '*' consumes any run, '[...]' and '[!...]'
// are character classes with ranges, and a backslash escapes the following
// character. A failed match after a '*' backtracks to let the star absorb
// one more character.
func matchName(glob, name string) bool {
	gi, ni := 0, 0
	star, mark := -1, 0

	for ni < len(name) {
		if gi < len(glob) {
			switch glob[gi] {
			case '*':
				star, mark = gi, ni
				gi++
				continue
			case '?':
				gi++
				ni++
				continue
			case '\\':
				if gi+1 < len(glob) && glob[gi+1] == name[ni] {
					gi += 2
					ni++
					continue
				}
			case '[':
				if matched, next := matchClass(glob, gi, name[ni]); matched {
					gi = next
					ni++
					continue
				}
			default:
				if glob[gi] == name[ni] {
					gi++
					ni++
					continue
				}
			}
		}
		if star < 0 {
			return false
		}
		mark++
		ni = mark
		gi = star + 1
	}

	for gi < len(glob) && glob[gi] == '*' {
		gi++
	}
	return gi == len(glob)
}

// matchClass matches one character against the class starting at glob[gi]
// (which must be '['). It returns whether c is in the class and the index
// just past the closing ']'.
func matchClass(glob string, gi int, c byte) (bool, int) {
	gi++
	invert := false
	if gi < len(glob) && glob[gi] == '!' {
		invert = true
		gi++
	}
	matched := false
	var prev byte
	for gi < len(glob) && glob[gi] != ']' {
		if glob[gi] == '-' && prev != 0 && gi+1 < len(glob) && glob[gi+1] != ']' {
			if c >= prev && c <= glob[gi+1] {
				matched = true
			}
			gi += 2
			prev = 0
		} else {
			if c == glob[gi] {
				matched = true
			}
			prev = glob[gi]
			gi++
		}
	}
	if gi >= len(glob) {
		return false, gi
	}
	return matched != invert, gi + 1
}

// matchComponents matches a glob component sequence against a concrete one.
// Both sequences must be exhausted together, except that a "**" component
// may span zero or more concrete components.
func matchComponents(glob, concrete []string) bool {
	if len(glob) == 0 {
		return len(concrete) == 0
	}
	if glob[0] == superMatch {
		for skip := 0; skip <= len(concrete); skip++ {
			if matchComponents(glob[1:], concrete[skip:]) {
				return true
			}
		}
		return false
	}
	if len(concrete) == 0 {
		return false
	}
	if !matchName(glob[0], concrete[0]) {
		return false
	}
	return matchComponents(glob[1:], concrete[1:])
}

// MatchPaths reports whether the glob pattern matches the concrete path.
// Both arguments are validated.
func MatchPaths(pattern, path string) (bool, error) {
	glob, err := parseGlobPath(pattern)
	if err != nil {
		return false, err
	}
	concrete, err := parseConcretePath(path)
	if err != nil {
		return false, err
	}
	return matchComponents(glob, concrete), nil
}
