package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/amp/cmd/bugtool"
	contextCmd "github.com/sidkik/amp/cmd/context"
	deleteCmd "github.com/sidkik/amp/cmd/delete"
	"github.com/sidkik/amp/cmd/dev"
	"github.com/sidkik/amp/cmd/devserver"
	"github.com/sidkik/amp/cmd/run"
	"github.com/sidkik/amp/cmd/util"
	"github.com/sidkik/amp/cmd/version"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "AMP_LOG_VERBOSE"

// Execute runs the main CLI process.
func Execute() {
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	rootCmd := &cobra.Command{
		Use:          "amp",
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		bugtool.New(),
		contextCmd.New(),
		deleteCmd.New(),
		dev.New(),
		devserver.New(),
		run.New(),
		version.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		util.HandleFatalError(err)
	}
}
