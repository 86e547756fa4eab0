package sync

import (
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"gopkg.in/src-d/go-git.v4/plumbing/format/gitignore"

	"github.com/sidkik/amp/pkg/errors"
)

// IgnoreFile is the name of the file, at the workspace root, that decides
// which paths aren't synced.
const IgnoreFile = ".gitignore"

// StateDir is the directory, at the workspace root, where amp keeps local
// state such as its log file.
const StateDir = ".amp"

// alwaysIgnored are excluded regardless of the ignore file. They come last so
// that a negation in the ignore file can't re-include them.
var alwaysIgnored = []string{".git", "/" + StateDir}

// IgnoreMatcher decides whether a path is excluded from syncing. It's
// immutable once built, so it can be shared freely. The zero value ignores
// nothing.
type IgnoreMatcher struct {
	matcher gitignore.Matcher
}

// BuildIgnoreMatcher compiles the IgnoreFile at `root`. A missing file
// results in a matcher that only ignores the always-ignored paths.
func BuildIgnoreMatcher(root string) (IgnoreMatcher, error) {
	path := filepath.Join(root, IgnoreFile)
	contents, err := afero.ReadFile(fs, path)
	if err != nil && !os.IsNotExist(err) {
		return IgnoreMatcher{}, errors.WithContext(err, "read "+IgnoreFile)
	}

	patterns := parsePatterns(string(contents))
	log.WithField("path", path).Debugf("Loaded %d ignore patterns", len(patterns))
	for _, p := range alwaysIgnored {
		patterns = append(patterns, gitignore.ParsePattern(p, nil))
	}
	return IgnoreMatcher{matcher: gitignore.NewMatcher(patterns)}, nil
}

func parsePatterns(contents string) (patterns []gitignore.Pattern) {
	for _, line := range strings.Split(contents, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	return patterns
}

// Matches returns whether the relative path should be excluded.
func (m IgnoreMatcher) Matches(relativePath string, isDir bool) bool {
	if m.matcher == nil || relativePath == "." || relativePath == "" {
		return false
	}
	return m.matcher.Match(strings.Split(relativePath, "/"), isDir)
}

// MatchesPath is like Matches, but looks up whether the path is a directory.
// A path that no longer exists may have been either, so it's excluded if it
// would be excluded as a file or as a directory.
func (m IgnoreMatcher) MatchesPath(pair PathPair) bool {
	isDir, err := afero.IsDir(fs, pair.FullPath)
	if err != nil {
		return m.Matches(pair.RelativePath, false) || m.Matches(pair.RelativePath, true)
	}
	return m.Matches(pair.RelativePath, isDir)
}
