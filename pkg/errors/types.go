package errors

import (
	"fmt"
	"net/http"
)

// ErrNoContext is returned when the user config doesn't select a context
// and none is provided through the environment.
var ErrNoContext = NewFriendlyError("Current context not found. " +
	"Please use `amp context use <name>` to select one.")

// MissingFieldError represents a missing required field.
type MissingFieldError struct {
	Field string
}

func (err MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", err.Field)
}

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// ManifestNotFound is returned when no manifest exists in the search
// directory or any of its parents.
type ManifestNotFound struct {
	Name string
	Dir  string
}

func (err ManifestNotFound) Error() string {
	return fmt.Sprintf("could not find %s in %q or any parent directory",
		err.Name, err.Dir)
}

// FriendlyMessage implements Friendly.
func (err ManifestNotFound) FriendlyMessage() string {
	return fmt.Sprintf("Could not find `%s` in the current directory (%s) "+
		"or any parent directory.", err.Name, err.Dir)
}

// StripPrefixError occurs when a path is expected to be inside a directory
// but isn't. The watcher is scoped to the workspace, so this indicates a bug.
type StripPrefixError struct {
	Root string
	Path string
}

func (err StripPrefixError) Error() string {
	return fmt.Sprintf("strip prefix: %q is not inside %q", err.Path, err.Root)
}

// AppendPathError occurs when a file can't be added to an archive.
type AppendPathError struct {
	Path string
	Err  error
}

func (err AppendPathError) Error() string {
	return fmt.Sprintf("append path %q: %s", err.Path, err.Err)
}

func (err AppendPathError) Unwrap() error {
	return err.Err
}

// FinishArchiveError occurs when an archive can't be finalized.
type FinishArchiveError struct {
	Err error
}

func (err FinishArchiveError) Error() string {
	return fmt.Sprintf("finish archive: %s", err.Err)
}

func (err FinishArchiveError) Unwrap() error {
	return err.Err
}

// ClientError is a failure talking to the remote server. StatusCode is zero
// if the request never got a response.
type ClientError struct {
	Op         string
	StatusCode int
	Err        error
}

func (err ClientError) Error() string {
	msg := "client error"
	if err.Op != "" {
		msg += " (" + err.Op + ")"
	}
	if err.StatusCode != 0 {
		msg += fmt.Sprintf(": %d %s", err.StatusCode, http.StatusText(err.StatusCode))
	}
	if err.Err != nil {
		msg += ": " + err.Err.Error()
	}
	return msg
}

func (err ClientError) Unwrap() error {
	return err.Err
}

// UnsupportedIntentError occurs when a sync intent without a wire
// representation is about to be sent or is received.
type UnsupportedIntentError struct {
	Intent string
}

func (err UnsupportedIntentError) Error() string {
	return fmt.Sprintf("unsupported sync intent %q", err.Intent)
}
