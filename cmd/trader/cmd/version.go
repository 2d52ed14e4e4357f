package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "0.4.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  `Display the current version of the trader CLI.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("trader version %s\n", version)
		fmt.Println("An automated FX, metals and crypto trading engine")
		fmt.Println("https://github.com/rustyeddy/autotrader")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
