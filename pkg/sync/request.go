package sync

import (
	"github.com/sidkik/amp/pkg/errors"
)

// Request is a single change to apply to the remote workspace.
type Request struct {
	Kind  Intent   `json:"kind"`
	Paths []string `json:"paths"`

	// Attributes is reserved for metadata about the change. It's always
	// empty for now.
	Attributes map[string]string `json:"attributes"`

	// Payload is a tar archive of the affected files. It's set if and only
	// if Kind.HasPayload().
	Payload []byte `json:"payload,omitempty"`
}

// Validate checks that the request is well formed.
func (req Request) Validate() error {
	if !req.Kind.Supported() {
		return errors.UnsupportedIntentError{Intent: req.Kind.String()}
	}

	if req.Kind.HasPayload() && req.Payload == nil {
		return errors.Newf("%s request requires a payload", req.Kind)
	}

	if !req.Kind.HasPayload() && req.Payload != nil {
		return errors.Newf("%s request must not have a payload", req.Kind)
	}

	if req.Kind != Override && len(req.Paths) == 0 {
		return errors.MissingFieldError{Field: "paths"}
	}
	return nil
}

// NewOverrideRequest returns a request that replaces the remote workspace
// with the given files.
func NewOverrideRequest(pairs []PathPair) (Request, error) {
	payload, err := Archive(pairs)
	if err != nil {
		return Request{}, errors.WithContext(err, "archive")
	}
	return Request{Kind: Override, Paths: []string{}, Payload: payload}, nil
}

// NewChangeRequest returns a request describing a change to `pairs`.
// Contents are archived for Create and Modify.
func NewChangeRequest(kind Intent, pairs []PathPair) (Request, error) {
	if !kind.Supported() || kind == Override {
		return Request{}, errors.UnsupportedIntentError{Intent: kind.String()}
	}

	req := Request{Kind: kind, Paths: RelativePaths(pairs)}
	if kind.HasPayload() {
		payload, err := Archive(pairs)
		if err != nil {
			return Request{}, errors.WithContext(err, "archive")
		}
		req.Payload = payload
	}
	return req, nil
}
