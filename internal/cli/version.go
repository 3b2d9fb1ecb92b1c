package cli

import (
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the paraplan version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("paraplan %s\n", Version)
	},
}
