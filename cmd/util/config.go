package util

import (
	"fmt"

	"github.com/ValentinKolb/aibroker/lib/plugin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// SetupConfigFileFlag adds the --config flag pointing to the YAML file that
// holds the plugin table
func SetupConfigFileFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().String("config", "", WrapString("Path of a config file (yaml, json or toml). Its 'plugins' list registers plugins in addition to the builtin ones"))
}

// ReadConfigFile reads the file given by --config into viper, if set.
// Keys of the file act as defaults for flags that were not set explicitly.
func ReadConfigFile() error {
	path := viper.GetString("config")
	if path == "" {
		return nil
	}

	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

// GetPluginTable decodes the plugin table of the config file.
//
// Example:
//
//	plugins:
//	  - algorithm-id: face-detect
//	    version: 2
//	    kind: wasm
//	    path: /opt/plugins/face-detect.wasm
//	  - algorithm-id: ocr
//	    version: 1
//	    kind: native
//	    path: /opt/plugins/ocr.so
func GetPluginTable() ([]plugin.Descriptor, error) {
	var descriptors []plugin.Descriptor
	if err := viper.UnmarshalKey("plugins", &descriptors); err != nil {
		return nil, fmt.Errorf("invalid plugin table: %w", err)
	}

	for i, desc := range descriptors {
		if desc.AlgorithmID == "" {
			return nil, fmt.Errorf("plugin %d: missing algorithm-id", i)
		}
		switch desc.Kind {
		case "", plugin.KindBuiltin, plugin.KindNative, plugin.KindWasm:
		default:
			return nil, fmt.Errorf("plugin %s: invalid kind %q (expected builtin, native or wasm)", desc.Key(), desc.Kind)
		}
	}
	return descriptors, nil
}
