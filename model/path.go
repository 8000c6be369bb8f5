package model

import "strings"

// PathSegments splits a dotted element path.
func PathSegments(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// PathRoot returns the first segment of path.
func PathRoot(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}

// PathParent returns path without its last segment, or "" for a root path.
func PathParent(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return ""
}

// PathName returns the last segment of path.
func PathName(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// IsChoicePath reports whether the last segment is a choice ("value[x]").
func IsChoicePath(path string) bool {
	return strings.HasSuffix(path, "[x]")
}

// IsRoot reports whether path has a single segment.
func IsRoot(path string) bool {
	return path != "" && !strings.Contains(path, ".")
}
