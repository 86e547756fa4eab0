package sync

import (
	"context"

	"github.com/sidkik/amp/pkg/errors"
)

// PlaybookIdentity is the remote scope that a session's requests apply to.
type PlaybookIdentity struct {
	ID   string
	Name string
}

// Syncer delivers requests to the remote workspace.
type Syncer interface {
	Sync(ctx context.Context, playbookID, name string, req Request) error
}

// Dispatch validates `req` and sends it to `playbook`. Transport failures are
// returned as an errors.ClientError. Nothing is retried.
func Dispatch(ctx context.Context, syncer Syncer, playbook PlaybookIdentity, req Request) error {
	if err := req.Validate(); err != nil {
		return errors.WithContext(err, "invalid request")
	}

	if err := syncer.Sync(ctx, playbook.ID, playbook.Name, req); err != nil {
		var clientErr errors.ClientError
		if errors.As(err, &clientErr) {
			return err
		}
		return errors.ClientError{Op: "sync", Err: err}
	}
	return nil
}
