package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ValentinKolb/aibroker/lib/plugin"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapString(t *testing.T) {
	text := "The address of the broker (socket path for unix, host:port for tcp). Multiple endpoints can be specified"
	wrapped := WrapString(text)

	for _, line := range strings.Split(wrapped, "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
	assert.Equal(t, strings.Fields(text), strings.Fields(wrapped))
	assert.Empty(t, WrapString(""))
}

func TestGetClientConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	viper.Set("transport-endpoints", "/tmp/a.sock, ,/tmp/b.sock")
	viper.Set("timeout", 7)
	viper.Set("transport-retries", 2)
	viper.Set("transport-conn-per-endpoint", 4)

	config := GetClientConfig()
	assert.Equal(t, []string{"/tmp/a.sock", "/tmp/b.sock"}, config.Endpoints)
	assert.Equal(t, 7, config.TimeoutSecond)
	assert.Equal(t, 2, config.RetryCount)
	assert.Equal(t, 4, config.ConnectionsPerEndpoint)
}

func TestSerializerAndTransportSelection(t *testing.T) {
	t.Cleanup(viper.Reset)

	for _, name := range []string{"json", "gob", "binary"} {
		viper.Set("serializer", name)
		s, err := GetSerializer()
		require.NoError(t, err, name)
		assert.NotNil(t, s)
	}
	viper.Set("serializer", "xml")
	_, err := GetSerializer()
	assert.Error(t, err)

	for _, name := range []string{"unix", "tcp"} {
		viper.Set("transport", name)
		_, err := GetTransport()
		require.NoError(t, err, name)
		_, err = GetServerTransport()
		require.NoError(t, err, name)
	}
	viper.Set("transport", "http")
	_, err = GetTransport()
	assert.Error(t, err)
	_, err = GetServerTransport()
	assert.Error(t, err)
}

func TestPluginTable(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []plugin.Descriptor
		wantErr bool
	}{
		{
			name: "valid",
			content: `
plugins:
  - algorithm-id: face-detect
    version: 2
    kind: wasm
    path: /opt/plugins/face-detect.wasm
  - algorithm-id: ocr
    version: 1
    kind: native
    path: /opt/plugins/ocr.so
    mode: SYNC
`,
			want: []plugin.Descriptor{
				{AlgorithmID: "face-detect", Version: 2, Kind: plugin.KindWasm, Path: "/opt/plugins/face-detect.wasm"},
				{AlgorithmID: "ocr", Version: 1, Kind: plugin.KindNative, Path: "/opt/plugins/ocr.so", Mode: plugin.InferModeSync},
			},
		},
		{
			name:    "no plugins",
			content: "max-engines: 4\n",
		},
		{
			name: "missing algorithm id",
			content: `
plugins:
  - version: 1
    kind: wasm
`,
			wantErr: true,
		},
		{
			name: "unknown kind",
			content: `
plugins:
  - algorithm-id: ocr
    version: 1
    kind: python
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(viper.Reset)

			path := filepath.Join(t.TempDir(), "aibroker.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))
			viper.Set("config", path)
			require.NoError(t, ReadConfigFile())

			got, err := GetPluginTable()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadConfigFileMissing(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, ReadConfigFile())

	viper.Set("config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, ReadConfigFile())
}
