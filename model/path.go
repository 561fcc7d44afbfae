// model/path.go
package model

import "strings"

// ResourcePath is a slash-delimited pointer into a resource tree, e.g.
// "/attributes/location". Paths form a prefix hierarchy on segment
// boundaries: "/attributes" is an ancestor of "/attributes/location" but
// not of "/attributesBackup".
type ResourcePath string

const RootPath ResourcePath = "/"

// NewResourcePath normalizes raw into a ResourcePath: leading slash, no
// trailing slash, empty segments dropped.
func NewResourcePath(raw string) ResourcePath {
	segments := splitSegments(raw)
	if len(segments) == 0 {
		return RootPath
	}
	return ResourcePath("/" + strings.Join(segments, "/"))
}

func splitSegments(raw string) []string {
	var segments []string
	for _, s := range strings.Split(raw, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

func (p ResourcePath) IsRoot() bool {
	return p == RootPath || p == ""
}

// Segments returns the path split at slashes; the root path has none.
func (p ResourcePath) Segments() []string {
	return splitSegments(string(p))
}

// Join appends a child segment to the path.
func (p ResourcePath) Join(segment string) ResourcePath {
	if p.IsRoot() {
		return ResourcePath("/" + segment)
	}
	return ResourcePath(string(p) + "/" + segment)
}

// IsAncestorOf reports whether q is at or below p.
func (p ResourcePath) IsAncestorOf(q ResourcePath) bool {
	if p.IsRoot() {
		return true
	}
	if p == q {
		return true
	}
	return strings.HasPrefix(string(q), string(p)+"/")
}
