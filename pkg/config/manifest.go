package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"

	"github.com/sidkik/amp/pkg/errors"
)

// ManifestFile is the name of the file that marks the root of a workspace.
const ManifestFile = ".amp.toml"

// Manifest describes the character developed in a workspace. Only the name
// is interpreted locally. The raw manifest is sent to the server as is.
type Manifest struct {
	Name        string                 `toml:"name"` // Required.
	Description string                 `toml:"description,omitempty"`
	Build       map[string]interface{} `toml:"build,omitempty"`
	Deploy      map[string]interface{} `toml:"deploy,omitempty"`
}

const parseManifestErrTemplate = "The manifest %q could not be parsed.\n\n" +
	"For reference, here is the error from the parser:\n" +
	"%s"

// FindManifest searches `dir` and each of its parents for the manifest, and
// returns the path of the first one found.
func FindManifest(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.WithContext(err, "get absolute path")
	}

	for curr := dir; ; {
		path := filepath.Join(curr, ManifestFile)
		fi, err := fs.Stat(path)
		switch {
		case err == nil && !fi.IsDir():
			return path, nil
		case err != nil && !os.IsNotExist(err):
			return "", errors.WithContext(err, "stat")
		}

		parent := filepath.Dir(curr)
		if parent == curr {
			return "", errors.ManifestNotFound{Name: ManifestFile, Dir: dir}
		}
		curr = parent
	}
}

// ReadManifest returns the raw contents of the manifest at `path`.
func ReadManifest(path string) (string, error) {
	content, err := afero.ReadFile(fs, path)
	if err != nil {
		if isPathNotFoundError(err) {
			return "", errors.FileNotFound{Path: path}
		}
		return "", errors.WithContext(err, "read manifest")
	}
	return string(content), nil
}

// ParseManifest parses the contents of a manifest. `path` is only used in
// error messages.
func ParseManifest(path, content string) (Manifest, error) {
	var manifest Manifest
	if err := toml.Unmarshal([]byte(content), &manifest); err != nil {
		return Manifest{}, errors.NewFriendlyError(parseManifestErrTemplate, path, err)
	}

	if manifest.Name == "" {
		return Manifest{}, errors.NewFriendlyError("The manifest %q does not "+
			"have a name set.\nThe name field is required.", path)
	}
	return manifest, nil
}
