package sync

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/sidkik/amp/pkg/errors"
)

// CollectTree returns a PathPair for every regular file under `root` that
// isn't ignored by `matcher`. The walk is in lexical order, so the result is
// deterministic for an unchanged tree. Ignored directories aren't descended
// into.
func CollectTree(root string, matcher IgnoreMatcher) ([]PathPair, error) {
	var pairs []PathPair
	err := afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return errors.WithContext(err, "walk error")
		}

		pair, err := Normalize(root, path)
		if err != nil {
			return err
		}

		if matcher.Matches(pair.RelativePath, fi.IsDir()) {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !fi.Mode().IsRegular() {
			return nil
		}

		pairs = append(pairs, pair)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pairs, nil
}
