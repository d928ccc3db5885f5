package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"foreman/internal/buildinfo"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		bi := buildinfo.Current()
		fmt.Printf("foreman %s\n", bi.Version)
		if bi.Commit != "unknown" {
			fmt.Printf("commit: %s\n", bi.Commit)
		}
		if bi.Date != "unknown" {
			fmt.Printf("built:  %s\n", bi.Date)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
