package cmd

import (
	"fmt"

	"github.com/silencex/silencex/silencex"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf(
			"version=%s commit=%s built: %s",
			silencex.Version,
			silencex.CommitSHA,
			silencex.BuildTime,
		)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
