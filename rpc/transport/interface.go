package transport

import (
	"errors"

	"github.com/ValentinKolb/aibroker/rpc/common"
)

// Channels of a frame. Every frame on a connection belongs to one channel.
const (
	// ChannelCall carries requests and their responses, correlated by request id
	ChannelCall uint64 = 1
	// ChannelNotify carries messages the server pushes on its own (request id 0)
	ChannelNotify uint64 = 2
)

// ErrConnClosed is returned when pushing to a connection that is closed
var ErrConnClosed = errors.New("connection closed")

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// IConn is the server side view of one client connection
type IConn interface {
	// ID returns an id that is unique for the lifetime of the transport
	ID() uint64
	// RemoteAddr returns the address of the client
	RemoteAddr() string
	// Push queues a frame for the client outside of any request.
	// It never blocks and is safe for concurrent use.
	Push(channel uint64, payload []byte) error
}

// ServerHandleFunc is a function type that handles incoming requests.
// This function is called by a server transport layer when a request is received.
// req is only valid until the function returns.
type ServerHandleFunc func(conn IConn, channel uint64, req []byte) (resp []byte)

// IRPCServerTransport is the interface for the RPC transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers the handler that is called for every request
	RegisterHandler(handler ServerHandleFunc)
	// RegisterCloseHandler registers a function that is called once per
	// connection after it was closed and all its requests were answered
	RegisterCloseHandler(handler func(conn IConn))
	// Listen starts the transport layer and serves connections until Close is called
	Listen(config common.ServerConfig) error
	// Close stops listening and closes all connections
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request to the server and returns the response
	Send(channel uint64, req []byte) (resp []byte, err error)
	// OnNotify registers the receiver of frames the server pushes. It is
	// called from the connection's reader goroutine and must not block.
	OnNotify(handler func(channel uint64, payload []byte))
	// Close closes the transport connection
	Close() error
}
