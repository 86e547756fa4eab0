package sync

import (
	"path/filepath"
	"strings"

	"github.com/sidkik/amp/pkg/errors"
)

// A PathPair identifies a file both on the local disk and on the wire.
type PathPair struct {
	// FullPath is the path of the file on the user's machine.
	FullPath string

	// RelativePath is FullPath relative to the workspace root, separated by
	// `/`. The workspace root itself is ".".
	RelativePath string
}

// Normalize strips `root` from `fullPath`. It fails with a StripPrefixError
// if `fullPath` isn't `root` or one of its descendants.
func Normalize(root, fullPath string) (PathPair, error) {
	root = filepath.Clean(root)
	cleaned := filepath.Clean(fullPath)
	if filepath.IsAbs(root) != filepath.IsAbs(cleaned) {
		return PathPair{}, errors.StripPrefixError{Root: root, Path: fullPath}
	}

	rel, err := filepath.Rel(root, cleaned)
	if err != nil {
		return PathPair{}, errors.StripPrefixError{Root: root, Path: fullPath}
	}

	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return PathPair{}, errors.StripPrefixError{Root: root, Path: fullPath}
	}
	return PathPair{FullPath: fullPath, RelativePath: rel}, nil
}

// NormalizeAll normalizes each path, in order.
func NormalizeAll(root string, fullPaths []string) ([]PathPair, error) {
	pairs := make([]PathPair, 0, len(fullPaths))
	for _, path := range fullPaths {
		pair, err := Normalize(root, path)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

// RelativePaths returns the wire identifiers of `pairs`.
func RelativePaths(pairs []PathPair) []string {
	paths := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		paths = append(paths, pair.RelativePath)
	}
	return paths
}
