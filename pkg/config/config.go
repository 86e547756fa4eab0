package config

import (
	"fmt"
	"os"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"

	"github.com/sidkik/amp/pkg/errors"
)

// invalidConfigTemplate is shown when a YAML config file can't be decoded.
// The YAML library loses the position of the error, so the parser's message
// is passed on as is.
const invalidConfigTemplate = "%q is not a valid amp config.\n" +
	"The top level may only contain `version`, `current` and `contexts`, " +
	"and each context only `title`, `server` and `token`.\n" +
	"Run `amp context add` to rewrite a context, or fix the file by hand.\n\n" +
	"Parser error:\n%s"

// versionedConfig is a config file that carries a schema version, and can
// check its own contents once decoded.
type versionedConfig interface {
	getVersion() string
	validate() error
}

type versionMismatchError struct {
	path, exp, actual string
}

func (err versionMismatchError) Error() string {
	return err.FriendlyMessage()
}

func (err versionMismatchError) FriendlyMessage() string {
	return fmt.Sprintf("%q was written by a different version of amp.\n"+
		"This version reads config version %q, but the file is %q.",
		err.path, err.exp, err.actual)
}

// parseConfig decodes the YAML file at `path` into `config`. The version is
// checked before unknown fields so that files from other versions get a
// version error rather than a field error.
func parseConfig(path string, config versionedConfig, expVersion string) error {
	configBytes, err := afero.ReadFile(fs, path)
	if err != nil {
		if isPathNotFoundError(err) {
			return errors.FileNotFound{Path: path}
		}
		return errors.WithContext(err, "read file")
	}

	if err := yaml.Unmarshal(configBytes, config); err != nil {
		return errors.NewFriendlyError(invalidConfigTemplate, path, err)
	}

	if config.getVersion() != expVersion {
		return versionMismatchError{path, expVersion, config.getVersion()}
	}

	if err := yaml.UnmarshalStrict(configBytes, config, yaml.DisallowUnknownFields); err != nil {
		return errors.NewFriendlyError(invalidConfigTemplate, path, err)
	}

	if err := config.validate(); err != nil {
		return errors.NewFriendlyError("%q is not a valid amp config: %s", path, err)
	}
	return nil
}

func isPathNotFoundError(err error) bool {
	var pathErr *os.PathError
	return errors.As(err, &pathErr) && os.IsNotExist(pathErr)
}
