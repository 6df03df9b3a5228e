package gen

import (
	"github.com/spf13/cobra"
)

// RootCmd groups the generators for files shipped alongside the binary.
var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate documentation for nt4",
	Long:  `Generate documentation for nt4`,
}

func init() {
	RootCmd.AddCommand(ManPagesCmd)
}
