package gen

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/luma/nt4/internal/meta"
)

// manDir is where the pages are written
var manDir string

var ManPagesCmd = &cobra.Command{
	Use:   "man",
	Short: "Generate man pages",
	Long:  `Writes a section 1 man page for nt4 and each of its commands to --dir.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(manDir, 0750); err != nil {
			return err
		}

		root := cmd.Root()
		root.DisableAutoGenTag = true

		err := doc.GenManTree(root, &doc.GenManHeader{
			Section: "1",
			Manual:  "nt4 Manual",
			Source:  "nt4 " + meta.Version,
		}, manDir)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Wrote man pages to", manDir)

		return nil
	},
}

func init() {
	flags := ManPagesCmd.Flags()
	flags.StringVar(&manDir, "dir", "man", "directory to write the man pages to")

	if err := flags.SetAnnotation("dir", cobra.BashCompSubdirsInDir, []string{}); err != nil {
		panic(err)
	}
}
