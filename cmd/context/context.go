package context

import (
	"fmt"
	"io"
	"os"

	"github.com/buger/goterm"
	"github.com/spf13/cobra"

	"github.com/sidkik/amp/cmd/util"
	"github.com/sidkik/amp/pkg/config"
	"github.com/sidkik/amp/pkg/errors"
)

// Mocked for unit testing.
var (
	stdout          io.Writer = os.Stdout
	parseUserConfig           = config.ParseUserOrEmpty
	writeUserConfig           = config.WriteUser
)

// New creates a new `context` command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Configure access to multiple amp servers",
	}

	var add config.Context
	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a context, or update an existing one, and select it",
		Args:  cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			if err := addContext(args[0], add); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	addCmd.Flags().StringVar(&add.Server, "server", "", "The address of the amp server. Required.")
	addCmd.Flags().StringVar(&add.Title, "title", "", "A human readable name for the context.")
	addCmd.Flags().StringVar(&add.Token, "token", "", "The token used to authenticate with the server.")

	cmd.AddCommand(
		addCmd,
		&cobra.Command{
			Use:   "list",
			Short: "List all available contexts",
			Args:  cobra.NoArgs,
			Run: func(_ *cobra.Command, _ []string) {
				if err := listContexts(); err != nil {
					util.HandleFatalError(err)
				}
			},
		},
		&cobra.Command{
			Use:   "use <name>",
			Short: "Select the context used by other commands",
			Args:  cobra.ExactArgs(1),
			Run: func(_ *cobra.Command, args []string) {
				if err := useContext(args[0]); err != nil {
					util.HandleFatalError(err)
				}
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Show the current context",
			Args:  cobra.NoArgs,
			Run: func(_ *cobra.Command, _ []string) {
				if err := showContext(); err != nil {
					util.HandleFatalError(err)
				}
			},
		},
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Delete a context",
			Args:  cobra.ExactArgs(1),
			Run: func(_ *cobra.Command, args []string) {
				if err := deleteContext(args[0]); err != nil {
					util.HandleFatalError(err)
				}
			},
		},
	)
	return cmd
}

func addContext(name string, ctx config.Context) error {
	if ctx.Server == "" {
		return errors.NewFriendlyError("The --server flag is required.")
	}

	cfg, err := parseUserConfig()
	if err != nil {
		return errors.WithContext(err, "read config")
	}

	if cfg.Contexts == nil {
		cfg.Contexts = map[string]config.Context{}
	}
	cfg.Contexts[name] = ctx
	cfg.Current = name

	if err := writeUserConfig(cfg); err != nil {
		return errors.WithContext(err, "write config")
	}
	fmt.Fprintf(stdout, "Switched to context %q.\n", name)
	return nil
}

func listContexts() error {
	cfg, err := parseUserConfig()
	if err != nil {
		return errors.WithContext(err, "read config")
	}

	if len(cfg.Contexts) == 0 {
		return errors.NewFriendlyError("No contexts are configured. " +
			"Use `amp context add` to add one.")
	}

	table := goterm.NewTable(0, 10, 3, ' ', 0)
	fmt.Fprintln(table, "NAME\tTITLE\tSERVER\tDEFAULT")
	for _, name := range cfg.ContextNames() {
		ctx := cfg.Contexts[name]
		isDefault := ""
		if name == cfg.Current {
			isDefault = goterm.Color("*", goterm.GREEN)
		}
		fmt.Fprintf(table, "%s\t%s\t%s\t%s\n", name, ctx.Title, ctx.Server, isDefault)
	}
	fmt.Fprint(stdout, table.String())
	return nil
}

func useContext(name string) error {
	cfg, err := parseUserConfig()
	if err != nil {
		return errors.WithContext(err, "read config")
	}

	if _, ok := cfg.Contexts[name]; !ok {
		return errors.NewFriendlyError("Context %q doesn't exist. "+
			"Use `amp context list` to see the available contexts.", name)
	}
	cfg.Current = name

	if err := writeUserConfig(cfg); err != nil {
		return errors.WithContext(err, "write config")
	}
	fmt.Fprintf(stdout, "Switched to context %q.\n", name)
	return nil
}

func showContext() error {
	cfg, err := parseUserConfig()
	if err != nil {
		return errors.WithContext(err, "read config")
	}

	ctx, err := cfg.CurrentContext()
	if err != nil {
		return err
	}

	name := cfg.Current
	if _, ok := cfg.Contexts[name]; !ok {
		name = "(environment)"
	}
	fmt.Fprintf(stdout, "name:   %s\ntitle:  %s\nserver: %s\n", name, ctx.Title, ctx.Server)
	return nil
}

func deleteContext(name string) error {
	cfg, err := parseUserConfig()
	if err != nil {
		return errors.WithContext(err, "read config")
	}

	if _, ok := cfg.Contexts[name]; !ok {
		return errors.NewFriendlyError("Context %q doesn't exist.", name)
	}
	delete(cfg.Contexts, name)
	if cfg.Current == name {
		cfg.Current = ""
	}

	if err := writeUserConfig(cfg); err != nil {
		return errors.WithContext(err, "write config")
	}
	fmt.Fprintf(stdout, "Deleted context %q.\n", name)
	return nil
}
