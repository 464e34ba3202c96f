package client

import (
	"fmt"

	"github.com/ValentinKolb/aibroker/rpc/common"
	"github.com/ValentinKolb/aibroker/rpc/serializer"
	"github.com/ValentinKolb/aibroker/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter is a struct that stores all data needed to talk to a broker.
// Used by Client and Session with composition pattern
type rpcClientAdapter struct {
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invoke sends req and returns the response (docu see invokeRPCRequest)
func (a *rpcClientAdapter) invoke(req *common.Message) (*common.Message, error) {
	return invokeRPCRequest(req, a.transport, a.serializer)
}

// invokeRPCRequest is a helper function used for all RPC Clients to send requests
// It takes a request message, a transport layer and a serializer as parameters
// It returns a response message and an error if any occurs.
// Errors reported by the broker are returned as *core.Error, so errors.Is
// matches the sentinels of the core package.
// This method also checks if the type of the response is the expected type
func invokeRPCRequest(req *common.Message, rpcTransport transport.IRPCClientTransport, serializer serializer.IRPCSerializer) (*common.Message, error) {
	// Serialize the request
	reqBytes, err := serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	// Send the request
	respBytes, err := rpcTransport.Send(transport.ChannelCall, reqBytes)
	if err != nil {
		return nil, err
	}

	// Deserialize the response
	resp := &common.Message{}
	if err := serializer.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("RPC Client - failed to decode %s response: %w", req.MsgType, err)
	}

	// Check if the response carries an error
	if err := resp.Error(); err != nil {
		return nil, err
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("RPC Client - unexpected message type: %s, expected %s", resp.MsgType, req.MsgType)
	}

	return resp, nil
}
