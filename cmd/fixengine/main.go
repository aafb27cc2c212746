// Command fixengine runs a FIX session engine: it loads a YAML
// configuration of sessions, listens/dials for each, and drives their FSMs
// until told to stop.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "fixengine",
		Short: "FIX session engine",
	}

	root.AddCommand(
		startCmd(),
		sessionsCmd(),
		replayCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
