package server

import (
	"github.com/ValentinKolb/aibroker/rpc/common"
	"github.com/ValentinKolb/aibroker/rpc/transport"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle handles a request that arrived on conn and returns a response.
	// If an error occurs, it should be set in the response.
	Handle(conn transport.IConn, req *common.Message) (resp *common.Message)

	// Disconnect releases everything the client of conn left behind
	Disconnect(conn transport.IConn)
}
