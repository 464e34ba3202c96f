package infer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ValentinKolb/aibroker/cmd/util"
	"github.com/ValentinKolb/aibroker/lib/core"
	"github.com/ValentinKolb/aibroker/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	rpcClient *client.Client

	// InferCommands represents the inference command group
	InferCommands = &cobra.Command{
		Use:                "infer",
		Short:              "Run inference requests against a broker",
		PersistentPreRunE:  setupInferClient,
		PersistentPostRunE: closeInferClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common RPC flags to the infer command
	util.SetupRPCClientFlags(InferCommands)

	// Engine selection shared by all subcommands
	InferCommands.PersistentFlags().String("algo", "echo", util.WrapString("Algorithm id of the engine to use"))
	InferCommands.PersistentFlags().Int64("algo-version", 1, util.WrapString("Version of the algorithm"))
	InferCommands.PersistentFlags().String("prepare-input", "", util.WrapString("Input passed to the plugin when the engine is bound"))
	InferCommands.PersistentFlags().StringSlice("option", nil, util.WrapString("Plugin options set before the first request, in the format TYPE=VALUE (e.g. --option 1=hello)"))

	// Add subcommands
	InferCommands.AddCommand(runCmd)
	InferCommands.AddCommand(asyncCmd)
	InferCommands.AddCommand(statsCmd)
	InferCommands.AddCommand(perfTestCmd)
}

// setupInferClient initializes the RPC client
func setupInferClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Get client configuration components
	config := util.GetClientConfig()

	// Get serializer and transport
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	// Create the broker client
	rpcClient, err = client.NewClient(*config, t, s)
	return err
}

// closeInferClient closes the connection, the broker stops leftover sessions
func closeInferClient(_ *cobra.Command, _ []string) error {
	if rpcClient == nil {
		return nil
	}
	return rpcClient.Close()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// getAlgo returns the engine selected by --algo and --algo-version
func getAlgo() core.AlgoInfo {
	return core.AlgoInfo{
		AlgorithmID: viper.GetString("algo"),
		Version:     viper.GetInt64("algo-version"),
	}
}

// startSession binds a new session to the selected engine and applies the
// configured options
func startSession() (*client.Session, error) {
	session, _, err := rpcClient.StartEngine(getAlgo(), []byte(viper.GetString("prepare-input")))
	if err != nil {
		return nil, err
	}

	for _, option := range viper.GetStringSlice("option") {
		optionType, value, err := parseOption(option)
		if err == nil {
			err = session.SetOption(optionType, value)
		}
		if err != nil {
			_ = session.Stop(nil)
			return nil, fmt.Errorf("option %q: %w", option, err)
		}
	}

	return session, nil
}

// parseOption splits an option in the format TYPE=VALUE
func parseOption(option string) (int32, []byte, error) {
	typeStr, value, ok := strings.Cut(option, "=")
	if !ok {
		return 0, nil, fmt.Errorf("invalid option format (expected TYPE=VALUE)")
	}

	optionType, err := strconv.ParseInt(strings.TrimSpace(typeStr), 10, 32)
	if err != nil {
		return 0, nil, fmt.Errorf("option type must be a number: %w", err)
	}
	return int32(optionType), []byte(value), nil
}
