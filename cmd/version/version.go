package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sidkik/amp/pkg/version"
)

// New creates a new `version` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of amp.",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("amp version: %s\n", version.Version)
		},
	}
}
