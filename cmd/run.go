package cmd

import (
	"log"

	"github.com/silencex/silencex/silencex"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the SilenceX bot and API",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := silencex.New(cfg)
		if err != nil {
			log.Fatalf("error creating silencex: %s", err.Error())
		}

		if err = bot.Run(ctx); err != nil {
			log.Fatalf("error running silencex: %s", err.Error())
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
