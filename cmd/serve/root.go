package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/aibroker/cmd/util"
	"github.com/ValentinKolb/aibroker/rpc/common"
	"github.com/ValentinKolb/aibroker/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the aibroker server",
		Long:    `Start the aibroker server with the specified configuration. The configuration can be set via command line flags, environment variables or a config file. The format of the environment variables is AIB_<flag> (e.g. AIB_MAX_ENGINES=8)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitClientConfig)

	cmdUtil.SetupConfigFileFlag(ServeCmd)

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, cmdUtil.DefaultEndpoint, cmdUtil.WrapString("The address on which the broker will listen (socket path for unix, host:port for tcp)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 0, cmdUtil.WrapString("Idle timeout in seconds after which silent client connections are closed (0 disables it)"))

	key = "max-engines"
	ServeCmd.PersistentFlags().Int(key, 64, cmdUtil.WrapString("Maximum number of engines alive at once. Bounds the worker threads and request queues of the broker"))

	key = "queue-capacity"
	ServeCmd.PersistentFlags().Int(key, 256, cmdUtil.WrapString("Number of requests an engine queues before it rejects new ones"))

	key = "future-capacity"
	ServeCmd.PersistentFlags().Int(key, 4096, cmdUtil.WrapString("Maximum number of pending asynchronous requests over all engines"))

	key = "sync-timeout"
	ServeCmd.PersistentFlags().Duration(key, 30*time.Second, cmdUtil.WrapString("How long a synchronous request waits for its result (0 waits forever)"))

	key = "lock-os-thread"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Wire every engine worker to a dedicated OS thread (for plugins with thread affine state)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("host:port serving Prometheus metrics and pprof handlers (empty disables it)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags, environment variables and config file and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if err := cmdUtil.ReadConfigFile(); err != nil {
		return err
	}

	plugins, err := cmdUtil.GetPluginTable()
	if err != nil {
		return err
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.MaxEngines = viper.GetInt("max-engines")
	serveCmdConfig.QueueCapacity = viper.GetInt("queue-capacity")
	serveCmdConfig.FutureCapacity = viper.GetInt("future-capacity")
	serveCmdConfig.SyncTimeout = viper.GetDuration("sync-timeout")
	serveCmdConfig.LockOSThread = viper.GetBool("lock-os-thread")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.Plugins = plugins

	return common.InitLoggers(serveCmdConfig.LogLevel)
}

// run starts the broker and closes it on SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	serv, err := server.NewRPCServer(*serveCmdConfig, t, s)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		if err := serv.Close(); err != nil {
			server.Logger.Errorf("failed to close server: %v", err)
		}
	}()

	if err := serv.Serve(); err != nil {
		_ = serv.Close()
		return err
	}
	return nil
}
