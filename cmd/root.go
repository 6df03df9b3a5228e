package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/nt4/cmd/gen"
)

var (
	// server overrides NT4_SERVER
	server string

	// clientName overrides NT4_CLIENT_NAME
	clientName string
)

var RootCmd = &cobra.Command{
	Use:   "nt4",
	Short: "A NetworkTables 4 client",
	Long: `A NetworkTables 4 client

Watch topics or publish values to a NetworkTables 4 server. The server and
client name default to NT4_SERVER and NT4_CLIENT_NAME.`,
	SilenceUsage: true,
}

func init() {
	flags := RootCmd.PersistentFlags()

	flags.StringVarP(&server, "server", "s", "", "The server to connect to, a host, host:port or ws:// url")
	flags.StringVarP(&clientName, "name", "n", "", "The client name to identify as")

	RootCmd.AddCommand(WatchCmd)
	RootCmd.AddCommand(PublishCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
