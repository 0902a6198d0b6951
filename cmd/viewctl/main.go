// Command viewctl validates and runs pipelines of live collection views.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/smartcontractkit/collection-views/pkg/commands"
)

func main() {
	app := &cobra.Command{
		Use:          "viewctl",
		Short:        "Build live filtered and mapped views over record collections",
		SilenceUsage: true,
	}
	app.AddCommand(commands.New(nil).Pipeline())

	if err := app.Execute(); err != nil {
		os.Exit(1)
	}
}
