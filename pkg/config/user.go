package config

import (
	"os"
	"sort"

	"github.com/ghodss/yaml"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/sidkik/amp/pkg/errors"
)

const (
	// UserConfigPath is the default path to the amp user config.
	UserConfigPath = "~/.amp.yaml"

	// InitialUserConfigVersion is the first version of the amp user config.
	// Config files that do not specify a version will default to this
	// version.
	InitialUserConfigVersion = "v1alpha1"

	// SupportedUserConfigVersion is the supported version of the amp user
	// config of the current amp binary.
	SupportedUserConfigVersion = "v1alpha1"

	// ServerEnvVar overrides the server of the current context.
	ServerEnvVar = "AMP_SERVER"

	// TokenEnvVar overrides the token of the current context.
	TokenEnvVar = "AMP_TOKEN"
)

// User contains the contexts the user can connect to.
type User struct {
	Version  string             `json:"version,omitempty"`
	Current  string             `json:"current,omitempty"`
	Contexts map[string]Context `json:"contexts,omitempty"`
}

// Context describes how to reach an amp server.
type Context struct {
	Title  string `json:"title,omitempty"`
	Server string `json:"server"`
	Token  string `json:"token,omitempty"`
}

func (u User) getVersion() string {
	return u.Version
}

// validate checks that every context can be connected to, and that the
// current context exists.
func (u User) validate() error {
	for _, name := range u.ContextNames() {
		if u.Contexts[name].Server == "" {
			return errors.Newf("context %q has no server", name)
		}
	}

	if _, ok := u.Contexts[u.Current]; u.Current != "" && !ok {
		return errors.Newf("the current context %q doesn't exist", u.Current)
	}
	return nil
}

// ContextNames returns the names of all contexts in sorted order.
func (u User) ContextNames() []string {
	var names []string
	for name := range u.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CurrentContext returns the selected context, with the environment
// overrides applied.
func (u User) CurrentContext() (Context, error) {
	ctx, ok := u.Contexts[u.Current]
	if u.Current == "" || !ok {
		// The environment alone is enough to connect.
		if getenv(ServerEnvVar) == "" {
			return Context{}, errors.ErrNoContext
		}
		ctx = Context{}
	}

	if server := getenv(ServerEnvVar); server != "" {
		ctx.Server = server
	}
	if token := getenv(TokenEnvVar); token != "" {
		ctx.Token = token
	}
	return ctx, nil
}

// homedirExpand will be overridden in mock tests
var homedirExpand = homedir.Expand

// getenv will be overridden in mock tests
var getenv = os.Getenv

// ParseUser attempts to parse the User stored in the default path.
func ParseUser() (User, error) {
	path, err := GetUserConfigPath()
	if err != nil {
		return User{}, errors.WithContext(err, "expand config path")
	}

	config, err := parseUser(path)
	if err != nil {
		if _, ok := err.(errors.FileNotFound); ok {
			return User{}, errors.NewFriendlyError("The amp user config "+
				"file doesn't exist at %q. Please run `amp context add` to "+
				"create it.", path)
		}
		return User{}, errors.WithContext(err, "parse")
	}
	return config, nil
}

// ParseUserOrEmpty is like ParseUser, except that a missing config file
// results in an empty config rather than an error.
func ParseUserOrEmpty() (User, error) {
	path, err := GetUserConfigPath()
	if err != nil {
		return User{}, errors.WithContext(err, "expand config path")
	}

	config, err := parseUser(path)
	if err != nil {
		if _, ok := err.(errors.FileNotFound); ok {
			return User{Version: SupportedUserConfigVersion}, nil
		}
		return User{}, errors.WithContext(err, "parse")
	}
	return config, nil
}

func parseUser(path string) (User, error) {
	config := User{Version: InitialUserConfigVersion}
	if err := parseConfig(path, &config, SupportedUserConfigVersion); err != nil {
		return User{}, err
	}
	return config, nil
}

// LoadContext returns the context that commands should connect to. A missing
// user config is fine as long as the server is set in the environment.
func LoadContext() (Context, error) {
	user, err := ParseUserOrEmpty()
	if err != nil {
		return Context{}, err
	}
	return user.CurrentContext()
}

// WriteUser writes the given user config to disk.
func WriteUser(cfg User) error {
	cfg.Version = SupportedUserConfigVersion
	path, err := GetUserConfigPath()
	if err != nil {
		return errors.WithContext(err, "expand config path")
	}

	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	// The file holds access tokens.
	if err := afero.WriteFile(fs, path, yamlBytes, 0600); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

// GetUserConfigPath returns the path to the user's global amp
// configuration. This path is expanded, so it can be directly passed to file
// operations.
func GetUserConfigPath() (string, error) {
	return homedirExpand(UserConfigPath)
}
