package run

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sidkik/amp/cmd/util"
	"github.com/sidkik/amp/pkg/config"
	"github.com/sidkik/amp/pkg/errors"
	"github.com/sidkik/amp/pkg/sync/client"
)

// Mocked for unit testing.
var stdout io.Writer = os.Stdout

// New creates a new `run` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Create a playbook from the current workspace and start it",
		Long: `Create a playbook from the .amp.toml manifest of the current workspace,
and start it on the server. Unlike ` + "`amp dev`" + `, local changes aren't synced.`,
		Args: cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
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

			wd, err := os.Getwd()
			if err != nil {
				util.HandleFatalError(errors.WithContext(err, "get working directory"))
			}

			if err := run(ctx, c.Playbooks(), ampContext.Server, wd); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func run(ctx context.Context, playbooks client.PlaybookClient, server, dir string) error {
	path, err := config.FindManifest(dir)
	if err != nil {
		return err
	}

	content, err := config.ReadManifest(path)
	if err != nil {
		return errors.WithContext(err, "read manifest")
	}

	manifest, err := config.ParseManifest(path, content)
	if err != nil {
		return err
	}

	playbook, err := playbooks.Create(ctx, client.PlaybookPayload{
		Title:       manifest.Name,
		Description: manifest.Description,
		Preface:     client.Preface{Manifest: content},
	})
	if err != nil {
		return errors.WithContext(err, "create playbook")
	}

	if err := playbooks.Start(ctx, playbook.ID); err != nil {
		return errors.WithContext(err, "start playbook")
	}

	fmt.Fprintf(stdout, "Started playbook %s.\nVisit: %s/playbooks/%s\n",
		playbook.ID, strings.TrimRight(server, "/"), playbook.ID)
	return nil
}
