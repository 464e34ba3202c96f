package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/aibroker/cmd/infer"
	"github.com/ValentinKolb/aibroker/cmd/plugin"
	"github.com/ValentinKolb/aibroker/cmd/serve"
	"github.com/ValentinKolb/aibroker/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "aibroker",
		Short: "on-device AI inference broker",
		Long: fmt.Sprintf(`aibroker (v%s)

An inference broker for on-device AI plugins written in Go.
Clients start engines by algorithm id and version, each engine
runs its plugin on a dedicated worker and is shared by all
clients using the same algorithm.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of aibroker",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("aibroker v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(infer.InferCommands)
	RootCmd.AddCommand(plugin.PluginCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "unix", util.WrapString("transport to use (unix, tcp)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
