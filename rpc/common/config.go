package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/aibroker/lib/dispatcher"
	"github.com/ValentinKolb/aibroker/lib/plugin"
)

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a broker server.
type ServerConfig struct {
	// RPC settings
	Endpoint      string
	TimeoutSecond int64 // idle timeout of client connections, 0 disables it

	// Dispatcher settings
	MaxEngines     int
	QueueCapacity  int
	FutureCapacity int
	SyncTimeout    time.Duration
	LockOSThread   bool

	// Plugin table (builtin plugins are always added)
	Plugins []plugin.Descriptor

	// Prometheus endpoint (host:port), empty disables it
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// DispatcherConfig returns the dispatcher part of the configuration
func (c *ServerConfig) DispatcherConfig() dispatcher.Config {
	return dispatcher.Config{
		MaxEngines:     c.MaxEngines,
		QueueCapacity:  c.QueueCapacity,
		FutureCapacity: c.FutureCapacity,
		SyncTimeout:    c.SyncTimeout,
		LockOSThread:   c.LockOSThread,
	}
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Idle Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	if c.MetricsEndpoint != "" {
		addField("Metrics", c.MetricsEndpoint)
	}

	// Dispatcher settings
	addSection("Dispatcher")
	addField("Max Engines", strconv.Itoa(c.MaxEngines))
	addField("Queue Capacity", strconv.Itoa(c.QueueCapacity))
	addField("Future Capacity", strconv.Itoa(c.FutureCapacity))
	addField("Sync Timeout", c.SyncTimeout.String())
	addField("Lock OS Thread", strconv.FormatBool(c.LockOSThread))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Plugins
	addSection("Plugins")
	for _, desc := range c.Plugins {
		addField(desc.Key().String(), fmt.Sprintf("%s %s", desc.Kind, desc.Path))
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds the connection parameters of a client.
type ClientConfig struct {
	Endpoints              []string
	TimeoutSecond          int // timeout of a single request, 0 disables it
	RetryCount             int
	ConnectionsPerEndpoint int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(max(1, c.ConnectionsPerEndpoint)))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
