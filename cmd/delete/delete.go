package delete

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/sidkik/amp/cmd/util"
	"github.com/sidkik/amp/pkg/config"
	"github.com/sidkik/amp/pkg/errors"
	"github.com/sidkik/amp/pkg/sync/client"
)

// Mocked for unit testing.
var stdout io.Writer = os.Stdout

// New creates a new `delete` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <playbook id>",
		Short: "Delete a playbook and its synced files from the server",
		Args:  cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			ctx, cancel := util.SignalContext()
			defer cancel()

			ampContext, err := config.LoadContext()
			if err != nil {
				util.HandleFatalError(errors.WithContext(err, "load context"))
			}

			c, err := client.New(ampContext.Server, client.Options{Token: ampContext.Token})
			if err != nil {
				util.HandleFatalError(errors.WithContext(err, "create client"))
			}

			if err := deletePlaybook(ctx, c.Playbooks(), args[0]); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func deletePlaybook(ctx context.Context, playbooks client.PlaybookClient, id string) error {
	err := playbooks.Delete(ctx, id)

	var clientErr errors.ClientError
	if errors.As(err, &clientErr) && clientErr.StatusCode == http.StatusNotFound {
		fmt.Fprintf(stdout, "Playbook %q doesn't exist. Nothing to do.\n", id)
		return nil
	}

	if err != nil {
		return errors.WithContext(err, "delete playbook")
	}
	fmt.Fprintf(stdout, "Deleted playbook %q.\n", id)
	return nil
}
