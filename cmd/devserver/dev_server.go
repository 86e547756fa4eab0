package devserver

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sidkik/amp/cmd/util"
	"github.com/sidkik/amp/pkg/errors"
	syncServer "github.com/sidkik/amp/pkg/sync/server"
)

// DefaultAddress is the address the dev server listens on by default.
const DefaultAddress = "localhost:8170"

// New creates a new `dev-server` command.
func New() *cobra.Command {
	var addr, root string
	cmd := &cobra.Command{
		Use: "dev-server",
		Short: "Run a local server that receives playbooks and synced files. " +
			"Intended for trying out and testing amp.",
		Long: `Run a local server that implements the playbook and sync endpoints used by
amp. Synced files are written to <root>/<playbook id>/<name>.`,
		Args:   cobra.NoArgs,
		Hidden: true,
		Run: func(_ *cobra.Command, _ []string) {
			ctx, cancel := util.SignalContext()
			defer cancel()

			absRoot, err := filepath.Abs(root)
			if err != nil {
				util.HandleFatalError(errors.WithContext(err, "resolve root"))
			}

			if err := syncServer.Run(ctx, addr, absRoot); err != nil {
				util.HandleFatalError(errors.WithContext(err, "run sync server"))
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", DefaultAddress, "The address to listen on.")
	cmd.Flags().StringVar(&root, "root", "amp-data", "The directory that synced files are written to.")
	return cmd
}
