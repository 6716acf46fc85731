package hashing

import (
	"strconv"
	"strings"
)

// Path is a parsed ephemeral-field path. Segments are either literal keys
// or wildcards; a wildcard matches every map key and every list index at
// its level. Example: "Grants.*.LastUsedDate".
type Path struct {
	raw      string
	segments []segment
}

type segment struct {
	key      string
	wildcard bool
}

// ParsePath splits a dotted path into segments. A "*" segment is a
// wildcard; everything else is a literal key.
func ParsePath(raw string) Path {
	parts := strings.Split(raw, ".")
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		segs = append(segs, segment{key: p, wildcard: p == "*"})
	}
	return Path{raw: raw, segments: segs}
}

// ParsePaths parses a list of raw dotted paths.
func ParsePaths(raw []string) []Path {
	paths := make([]Path, 0, len(raw))
	for _, r := range raw {
		paths = append(paths, ParsePath(r))
	}
	return paths
}

func (p Path) String() string { return p.raw }

// Delete removes every value the path matches from the document, in place.
// Missing segments are a no-op.
func (p Path) Delete(doc map[string]any) {
	if len(p.segments) == 0 {
		return
	}
	deleteSegments(doc, p.segments)
}

func deleteSegments(node any, segs []segment) {
	head, rest := segs[0], segs[1:]

	switch n := node.(type) {
	case map[string]any:
		if head.wildcard {
			for k := range n {
				if len(rest) == 0 {
					delete(n, k)
				} else {
					deleteSegments(n[k], rest)
				}
			}
			return
		}
		if len(rest) == 0 {
			delete(n, head.key)
			return
		}
		if child, ok := n[head.key]; ok {
			deleteSegments(child, rest)
		}
	case []any:
		if head.wildcard {
			if len(rest) == 0 {
				// Deleting every element of a list leaves an empty list.
				for i := range n {
					n[i] = nil
				}
				return
			}
			for _, e := range n {
				deleteSegments(e, rest)
			}
			return
		}
		idx, err := strconv.Atoi(head.key)
		if err != nil || idx < 0 || idx >= len(n) {
			return
		}
		if len(rest) == 0 {
			n[idx] = nil
			return
		}
		deleteSegments(n[idx], rest)
	}
}
