package plugin

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/ValentinKolb/aibroker/cmd/util"
	"github.com/ValentinKolb/aibroker/lib/plugin"
	"github.com/ValentinKolb/aibroker/lib/plugin/echo"
	"github.com/spf13/cobra"
)

var (
	loader *plugin.Loader

	// PluginCommands represents the plugin command group
	PluginCommands = &cobra.Command{
		Use:               "plugin",
		Short:             "Inspect the plugin table",
		Long:              "Inspect the plugin table of a broker. The table holds the builtin plugins and the plugins listed in the config file given with --config.",
		PersistentPreRunE: setupLoader,
	}

	// listCmd represents the list command
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List all registered plugins",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}

	// checkCmd represents the check command
	checkCmd = &cobra.Command{
		Use:   "check [algorithm-id] [version]",
		Short: "Load and unload a plugin",
		Long:  "Load a plugin the way the broker does, print what it reports about itself and unload it again. Use it to validate a plugin before deploying it.",
		Args:  cobra.ExactArgs(2),
		RunE:  runCheck,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add subcommands to plugin command
	PluginCommands.AddCommand(listCmd)
	PluginCommands.AddCommand(checkCmd)

	util.SetupConfigFileFlag(PluginCommands)
}

// setupLoader builds the plugin table the broker would serve
func setupLoader(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	if err := util.ReadConfigFile(); err != nil {
		return err
	}

	descriptors, err := util.GetPluginTable()
	if err != nil {
		return err
	}

	loader, err = plugin.NewLoader(append(echo.Descriptors(), descriptors...)...)
	return err
}

// runList prints the plugin table
func runList(_ *cobra.Command, _ []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALGORITHM\tVERSION\tKIND\tMODE\tPATH")
	for _, desc := range loader.Descriptors() {
		mode := string(desc.Mode)
		if mode == "" {
			mode = "-"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", desc.AlgorithmID, desc.Version, desc.Kind, mode, desc.Path)
	}
	return w.Flush()
}

// runCheck loads and unloads a single plugin
func runCheck(_ *cobra.Command, args []string) error {
	algorithmID := args[0]
	version, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("version must be a number: %w", err)
	}

	p, err := loader.Load(algorithmID, version)
	if err != nil {
		return fmt.Errorf("failed to load plugin: %w", err)
	}

	fmt.Printf("name=%s, version=%d, mode=%s\n", p.GetName(), p.GetVersion(), p.GetInferMode())

	if err := loader.Unload(p); err != nil {
		return fmt.Errorf("failed to unload plugin: %w", err)
	}
	fmt.Println("unloaded=true")

	return nil
}
