package sync

import (
	"github.com/fsnotify/fsnotify"

	"github.com/sidkik/amp/pkg/errors"
)

// Intent is what a filesystem change means for the remote workspace.
type Intent int

const (
	// Other is any change the protocol can't express, such as a permission
	// change.
	Other Intent = iota

	// Override replaces the entire remote workspace. It's only used for the
	// initial sync.
	Override

	// Create adds new files or directories.
	Create

	// Modify updates the contents of existing files.
	Modify

	// Rename moves a path. The protocol has no atomic rename, so these are
	// dropped rather than emulated with a Remove and Create.
	Rename

	// Remove deletes files or directories.
	Remove
)

var intentNames = map[Intent]string{
	Other:    "Other",
	Override: "Override",
	Create:   "Create",
	Modify:   "Modify",
	Rename:   "Rename",
	Remove:   "Remove",
}

func (i Intent) String() string {
	if name, ok := intentNames[i]; ok {
		return name
	}
	return "Other"
}

// Supported returns whether the intent can be sent to the remote workspace.
func (i Intent) Supported() bool {
	switch i {
	case Override, Create, Modify, Remove:
		return true
	}
	return false
}

// HasPayload returns whether requests with this intent carry an archive.
func (i Intent) HasPayload() bool {
	switch i {
	case Override, Create, Modify:
		return true
	}
	return false
}

// MarshalText implements encoding.TextMarshaler. Only supported intents have
// a wire representation.
func (i Intent) MarshalText() ([]byte, error) {
	if !i.Supported() {
		return nil, errors.UnsupportedIntentError{Intent: i.String()}
	}
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *Intent) UnmarshalText(text []byte) error {
	for intent, name := range intentNames {
		if name == string(text) && intent.Supported() {
			*i = intent
			return nil
		}
	}
	return errors.UnsupportedIntentError{Intent: string(text)}
}

// Classify maps a raw fsnotify operation to an Intent. fsnotify may combine
// several operations into one event, in which case Create takes precedence,
// followed by Remove, Rename and Write.
func Classify(op fsnotify.Op) Intent {
	switch {
	case op.Has(fsnotify.Create):
		return Create
	case op.Has(fsnotify.Remove):
		return Remove
	case op.Has(fsnotify.Rename):
		return Rename
	case op.Has(fsnotify.Write):
		return Modify
	default:
		return Other
	}
}
