package pathspace

import (
	"fmt"
	"strings"
)

// splitPath validates path and returns its components. The root path "/"
// yields zero components. Validation covers structure only; glob syntax
// inside a component is checked by validateGlobComponent.
func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if path[0] != '/' {
		return nil, fmt.Errorf("%w: %q must start with '/'", ErrInvalidPath, path)
	}
	if path == "/" {
		return nil, nil
	}
	if path[len(path)-1] == '/' {
		return nil, fmt.Errorf("%w: %q ends with '/'", ErrInvalidPath, path)
	}
	comps := strings.Split(path[1:], "/")
	for _, c := range comps {
		if c == "" {
			return nil, fmt.Errorf("%w: %q has an empty component", ErrInvalidPath, path)
		}
		if c == "." || c == ".." {
			return nil, fmt.Errorf("%w: %q has a relative component", ErrInvalidPath, path)
		}
	}
	return comps, nil
}

// isGlob reports whether name contains an unescaped glob metacharacter.
func isGlob(name string) bool {
	escaped := false
	for i := 0; i < len(name); i++ {
		ch := name[i]
		if ch == '\\' && !escaped {
			escaped = true
			continue
		}
		if escaped {
			escaped = false
			continue
		}
		if ch == '*' || ch == '?' || ch == '[' || ch == ']' {
			return true
		}
	}
	return false
}

// isGlobPath reports whether any component of an already-split path is a
// glob.
func isGlobPath(comps []string) bool {
	for _, c := range comps {
		if isGlob(c) {
			return true
		}
	}
	return false
}

// validateGlobComponent checks glob syntax within one component: brackets
// must pair up and character ranges must not be reversed.
func validateGlobComponent(name string) error {
	escaped := false
	inClass := false
	var lo byte
	for i := 0; i < len(name); i++ {
		ch := name[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\':
			escaped = true
		case !inClass && ch == '[':
			inClass = true
			lo = 0
		case !inClass && ch == ']':
			return fmt.Errorf("%w: unmatched ']' in %q", ErrInvalidPath, name)
		case inClass && ch == ']':
			inClass = false
		case inClass && ch == '-' && lo != 0 && i+1 < len(name) && name[i+1] != ']':
			if name[i+1] < lo {
				return fmt.Errorf("%w: reversed range %c-%c in %q", ErrInvalidPath, lo, name[i+1], name)
			}
			i++
			lo = 0
		case inClass:
			lo = ch
		}
	}
	if inClass {
		return fmt.Errorf("%w: unclosed '[' in %q", ErrInvalidPath, name)
	}
	if escaped {
		return fmt.Errorf("%w: trailing '\\' in %q", ErrInvalidPath, name)
	}
	return nil
}

// parseIndex splits a trailing "[n]" index suffix off a final path
// component. "ints[2]" yields ("ints", 2, true). A bracket suffix whose
// content is not all digits is left alone so character classes still work;
// escape the bracket to address a literal name that ends in digits-in-
// brackets.
func parseIndex(name string) (base string, idx int, ok bool) {
	if len(name) < 3 || name[len(name)-1] != ']' {
		return name, 0, false
	}
	open := strings.LastIndexByte(name, '[')
	if open <= 0 || (open > 0 && name[open-1] == '\\') {
		return name, 0, false
	}
	digits := name[open+1 : len(name)-1]
	if digits == "" {
		return name, 0, false
	}
	n := 0
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return name, 0, false
		}
		n = n*10 + int(digits[i]-'0')
	}
	return name[:open], n, true
}

// joinPath reassembles components into an absolute path string.
func joinPath(comps []string) string {
	if len(comps) == 0 {
		return "/"
	}
	return "/" + strings.Join(comps, "/")
}

// isPathPrefix reports whether prefix is "/" or a whole-component prefix of
// path.
func isPathPrefix(prefix, path string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
