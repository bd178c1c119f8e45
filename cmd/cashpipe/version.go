package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Set via -ldflags at release build time.
var (
	Version = "0.3.0"
	Build   = "dev"
	Commit  = ""
	Branch  = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if jsonOutput {
			outputJSON(map[string]string{
				"version": Version,
				"build":   Build,
				"commit":  Commit,
				"branch":  Branch,
			})
			return
		}
		fmt.Printf("cashpipe %s (%s)\n", Version, Build)
		if Commit != "" {
			fmt.Printf("commit %s", Commit)
			if Branch != "" {
				fmt.Printf(" (%s)", Branch)
			}
			fmt.Println()
		}
	},
}

func init() {
	// registers the root --version/-v flag alongside the subcommand
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(fmt.Sprintf("cashpipe {{.Version}} (%s)\n", Build))
	rootCmd.AddCommand(versionCmd)
}
